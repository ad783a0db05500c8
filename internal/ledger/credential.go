package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PinLength         = 4
	MaxFailedAttempts = 3
	LockoutDuration   = 30 * time.Minute

	// MinPinIterations is the PBKDF2 work factor floor.
	MinPinIterations = 100_000

	pinSaltLength = 16
	pinKeyLength  = 32
)

// CredentialGuard owns the PIN hash and the failed-attempt lockout state
// of one account. A guard without a PIN accepts every verification.
type CredentialGuard struct {
	salt           []byte
	hash           []byte
	iterations     int
	failedAttempts int
	lastFailedAt   time.Time
	lockedUntil    time.Time
}

func NewCredentialGuard(iterations int) *CredentialGuard {
	if iterations < MinPinIterations {
		iterations = MinPinIterations
	}
	return &CredentialGuard{iterations: iterations}
}

func validPin(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// SetPin stores a salted hash of pin under a freshly generated salt.
// Lockout state is left untouched.
func (g *CredentialGuard) SetPin(pin string) error {
	if !validPin(pin) {
		return invalid("pin", ErrInvalidPinFormat)
	}
	salt := make([]byte, pinSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate pin salt: %w", err)
	}
	g.salt = salt
	g.hash = g.derive(pin, salt)
	return nil
}

func (g *CredentialGuard) derive(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, g.iterations, pinKeyLength, sha256.New)
}

func (g *CredentialGuard) HasPin() bool { return len(g.hash) > 0 }

func (g *CredentialGuard) FailedAttempts() int { return g.failedAttempts }

// AttemptsRemaining is the number of mismatches left before a lockout.
func (g *CredentialGuard) AttemptsRemaining() int {
	if r := MaxFailedAttempts - g.failedAttempts; r > 0 {
		return r
	}
	return 0
}

// LockedAt reports whether verification is suspended at now.
func (g *CredentialGuard) LockedAt(now time.Time) bool {
	return !g.lockedUntil.IsZero() && now.Before(g.lockedUntil)
}

func (g *CredentialGuard) lockedError(now time.Time) *LockedError {
	return &LockedError{
		Until:            g.lockedUntil,
		RemainingMinutes: int(math.Ceil(g.lockedUntil.Sub(now).Minutes())),
	}
}

// VerifyPin checks pin against the stored hash.
//
// While locked it returns a *LockedError without hashing anything. A
// mismatch returns (false, nil) until the third consecutive one, which
// starts the lockout and returns a *LockedError. An expired lockout is
// cleared lazily here; the counter keeps its value until a match or an
// explicit reset.
func (g *CredentialGuard) VerifyPin(pin string, now time.Time) (bool, error) {
	if g.LockedAt(now) {
		return false, g.lockedError(now)
	}
	g.lockedUntil = time.Time{}

	if !g.HasPin() {
		return true, nil
	}

	candidate := g.derive(pin, g.salt)
	if subtle.ConstantTimeCompare(candidate, g.hash) == 1 {
		g.failedAttempts = 0
		g.lastFailedAt = time.Time{}
		return true, nil
	}

	if g.failedAttempts < MaxFailedAttempts {
		g.failedAttempts++
	}
	g.lastFailedAt = now
	if g.failedAttempts >= MaxFailedAttempts {
		g.lockedUntil = now.Add(LockoutDuration)
		return false, g.lockedError(now)
	}
	return false, nil
}

// ResetLoginAttempts clears the counter and any lockout.
func (g *CredentialGuard) ResetLoginAttempts() {
	g.failedAttempts = 0
	g.lastFailedAt = time.Time{}
	g.lockedUntil = time.Time{}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (g *CredentialGuard) export() (hash, salt string, iterations, failed int, lastFailed, lockedUntil *time.Time) {
	if g.HasPin() {
		hash = base64.RawStdEncoding.EncodeToString(g.hash)
		salt = base64.RawStdEncoding.EncodeToString(g.salt)
	}
	return hash, salt, g.iterations, g.failedAttempts, optionalTime(g.lastFailedAt), optionalTime(g.lockedUntil)
}

func restoreCredentialGuard(hash, salt string, iterations, failed int, lastFailed, lockedUntil *time.Time) (*CredentialGuard, error) {
	g := NewCredentialGuard(iterations)
	if hash != "" {
		h, err := base64.RawStdEncoding.DecodeString(hash)
		if err != nil {
			return nil, fmt.Errorf("invalid pin hash: %w", err)
		}
		s, err := base64.RawStdEncoding.DecodeString(salt)
		if err != nil {
			return nil, fmt.Errorf("invalid pin salt: %w", err)
		}
		g.hash, g.salt = h, s
		if iterations > 0 {
			g.iterations = iterations
		}
	}
	if failed < 0 || failed > MaxFailedAttempts {
		return nil, fmt.Errorf("failed attempt count %d out of range", failed)
	}
	g.failedAttempts = failed
	if lastFailed != nil {
		g.lastFailedAt = *lastFailed
	}
	if lockedUntil != nil {
		g.lockedUntil = *lockedUntil
	}
	return g, nil
}
