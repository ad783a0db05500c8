package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	_ "github.com/lib/pq"
)

// Postgres stores account snapshots: the account row, its rolling
// withdrawal window and its append-only transaction records.
type Postgres struct {
	db *sql.DB
}

// creates a new Postgres instance
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	number INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	age INTEGER NOT NULL,
	type VARCHAR(16) NOT NULL,
	balance NUMERIC NOT NULL,
	opening_balance NUMERIC NOT NULL,
	status VARCHAR(16) NOT NULL,
	pin_hash TEXT NOT NULL DEFAULT '',
	pin_salt TEXT NOT NULL DEFAULT '',
	pin_iterations INTEGER NOT NULL DEFAULT 0,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	last_failed_at TIMESTAMPTZ,
	locked_until TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawal_events (
	id BIGSERIAL PRIMARY KEY,
	account_number INTEGER NOT NULL REFERENCES accounts(number),
	at TIMESTAMPTZ NOT NULL,
	amount NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS withdrawal_events_account_idx ON withdrawal_events (account_number, at);

CREATE TABLE IF NOT EXISTS transactions (
	account_number INTEGER NOT NULL REFERENCES accounts(number),
	seq INTEGER NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	type VARCHAR(16) NOT NULL,
	amount NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	category VARCHAR(32) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account_number, seq)
);`

// initialize the database schema
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveAccounts upserts every snapshot in a single transaction. Ledger
// records are append-only, so only records past the highest stored seq are
// inserted.
func (p *Postgres) SaveAccounts(ctx context.Context, snapshots ...models.AccountSnapshot) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, s := range snapshots {
		if err = saveAccount(ctx, tx, s, now); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func saveAccount(ctx context.Context, tx *sql.Tx, s models.AccountSnapshot, now time.Time) error {
	a := s.Account
	_, err := tx.ExecContext(ctx, `
	INSERT INTO accounts (number, name, age, type, balance, opening_balance, status,
		pin_hash, pin_salt, pin_iterations, failed_attempts, last_failed_at, locked_until, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (number) DO UPDATE SET
		name = EXCLUDED.name,
		age = EXCLUDED.age,
		type = EXCLUDED.type,
		balance = EXCLUDED.balance,
		status = EXCLUDED.status,
		pin_hash = EXCLUDED.pin_hash,
		pin_salt = EXCLUDED.pin_salt,
		pin_iterations = EXCLUDED.pin_iterations,
		failed_attempts = EXCLUDED.failed_attempts,
		last_failed_at = EXCLUDED.last_failed_at,
		locked_until = EXCLUDED.locked_until,
		updated_at = EXCLUDED.updated_at`,
		a.Number, a.Name, a.Age, string(a.Type), a.Balance, a.OpeningBalance, string(a.Status),
		a.PinHash, a.PinSalt, a.PinIterations, a.FailedAttempts, nullTime(a.LastFailedAt), nullTime(a.LockedUntil), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %d: %w", a.Number, err)
	}

	// The withdrawal window is small and purged in memory, so it is replaced.
	if _, err := tx.ExecContext(ctx, "DELETE FROM withdrawal_events WHERE account_number = $1", a.Number); err != nil {
		return fmt.Errorf("failed to clear withdrawal events: %w", err)
	}
	for _, ev := range s.Withdrawals {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO withdrawal_events (account_number, at, amount) VALUES ($1, $2, $3)",
			a.Number, ev.At, ev.Amount,
		); err != nil {
			return fmt.Errorf("failed to insert withdrawal event: %w", err)
		}
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE account_number = $1", a.Number,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count transactions: %w", err)
	}
	tail, err := unsavedRecords(s.Transactions, stored)
	if err != nil {
		return fmt.Errorf("account %d: %w", a.Number, err)
	}
	for i, rec := range tail {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (account_number, seq, timestamp, type, amount, balance_after, category, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.Number, stored+i, rec.Timestamp, string(rec.Type), rec.Amount, rec.BalanceAfter, string(rec.Category), rec.Description,
		); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}
	return nil
}

// unsavedRecords returns the records not yet stored. A ledger shorter than
// what is stored means the snapshot is stale.
func unsavedRecords(records []models.Transaction, stored int) ([]models.Transaction, error) {
	if stored > len(records) {
		return nil, fmt.Errorf("snapshot has %d transactions but %d are stored", len(records), stored)
	}
	return records[stored:], nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// LoadAccounts reads every stored account with its withdrawal window and
// its transactions in ledger order.
func (p *Postgres) LoadAccounts(ctx context.Context) ([]models.AccountSnapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
	SELECT number, name, age, type, balance, opening_balance, status,
		pin_hash, pin_salt, pin_iterations, failed_attempts, last_failed_at, locked_until
	FROM accounts
	ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var snapshots []models.AccountSnapshot
	index := make(map[int]int)
	for rows.Next() {
		var a models.AccountRecord
		var typ, status string
		var lastFailed, lockedUntil sql.NullTime
		if err := rows.Scan(&a.Number, &a.Name, &a.Age, &typ, &a.Balance, &a.OpeningBalance, &status,
			&a.PinHash, &a.PinSalt, &a.PinIterations, &a.FailedAttempts, &lastFailed, &lockedUntil); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = models.AccountType(typ)
		a.Status = models.AccountStatus(status)
		a.LastFailedAt = timePtr(lastFailed)
		a.LockedUntil = timePtr(lockedUntil)
		index[a.Number] = len(snapshots)
		snapshots = append(snapshots, models.AccountSnapshot{Account: a})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	if err := p.loadWithdrawals(ctx, snapshots, index); err != nil {
		return nil, err
	}
	if err := p.loadTransactions(ctx, snapshots, index); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (p *Postgres) loadWithdrawals(ctx context.Context, snapshots []models.AccountSnapshot, index map[int]int) error {
	rows, err := p.db.QueryContext(ctx,
		"SELECT account_number, at, amount FROM withdrawal_events ORDER BY account_number, at, id")
	if err != nil {
		return fmt.Errorf("failed to query withdrawal events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number int
		var ev models.WithdrawalEvent
		if err := rows.Scan(&number, &ev.At, &ev.Amount); err != nil {
			return fmt.Errorf("failed to scan withdrawal event: %w", err)
		}
		if i, ok := index[number]; ok {
			snapshots[i].Withdrawals = append(snapshots[i].Withdrawals, ev)
		}
	}
	return rows.Err()
}

func (p *Postgres) loadTransactions(ctx context.Context, snapshots []models.AccountSnapshot, index map[int]int) error {
	rows, err := p.db.QueryContext(ctx, `
	SELECT account_number, timestamp, type, amount, balance_after, category, description
	FROM transactions
	ORDER BY account_number, seq`)
	if err != nil {
		return fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number int
		var rec models.Transaction
		var typ, category string
		if err := rows.Scan(&number, &rec.Timestamp, &typ, &rec.Amount, &rec.BalanceAfter, &category, &rec.Description); err != nil {
			return fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Type = models.TransactionType(typ)
		rec.Category = models.ParseCategory(category)
		if i, ok := index[number]; ok {
			snapshots[i].Transactions = append(snapshots[i].Transactions, rec)
		}
	}
	return rows.Err()
}
