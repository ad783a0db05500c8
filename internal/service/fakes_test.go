package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/abkawan/account-ledger/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[int]models.AccountSnapshot
	batches [][]int
	failOn  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[int]models.AccountSnapshot)}
}

func (f *fakeStore) SaveAccounts(ctx context.Context, snapshots ...models.AccountSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		return f.failOn
	}
	var batch []int
	for _, s := range snapshots {
		f.saved[s.Account.Number] = s
		batch = append(batch, s.Account.Number)
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStore) LoadAccounts(ctx context.Context) ([]models.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AccountSnapshot, 0, len(f.saved))
	for _, s := range f.saved {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Number < out[j].Account.Number })
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.AuditEvent
	fail   bool
}

func (f *fakePublisher) PublishAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakePublisher) types() []models.AuditEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditEventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type fakeAuditLog struct {
	mu     sync.Mutex
	events map[string]models.AuditEvent
	order  []string
	limit  int
	offset int
	fails  int
}

func newFakeAuditLog() *fakeAuditLog {
	return &fakeAuditLog{events: make(map[string]models.AuditEvent)}
}

func (f *fakeAuditLog) InsertAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("mongo unavailable")
	}
	if _, ok := f.events[ev.ID]; ok {
		return nil
	}
	f.events[ev.ID] = *ev
	f.order = append(f.order, ev.ID)
	return nil
}

func (f *fakeAuditLog) GetAuditEventsByAccount(ctx context.Context, number, limit, offset int) ([]*models.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit, f.offset = limit, offset
	var out []*models.AuditEvent
	for i := len(f.order) - 1; i >= 0; i-- {
		ev := f.events[f.order[i]]
		if ev.AccountNumber == number {
			out = append(out, &ev)
		}
	}
	return out, nil
}

func (f *fakeAuditLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fakeConsumer struct {
	ch chan models.AuditDelivery
}

func (f *fakeConsumer) ConsumeAuditEvents(ctx context.Context) (<-chan models.AuditDelivery, error) {
	return f.ch, nil
}

// ackRecorder reports how a delivery was settled: "ack", "requeue" or "drop".
type ackRecorder struct {
	settled chan string
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{settled: make(chan string, 16)}
}

func (a *ackRecorder) deliver(ev models.AuditEvent) models.AuditDelivery {
	return models.AuditDelivery{
		Event: ev,
		Ack: func() error {
			a.settled <- "ack"
			return nil
		},
		Nack: func(requeue bool) error {
			if requeue {
				a.settled <- "requeue"
			} else {
				a.settled <- "drop"
			}
			return nil
		},
	}
}

// gatedStore blocks the first save after arm until release is closed.
type gatedStore struct {
	*fakeStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{fakeStore: newFakeStore(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedStore) SaveAccounts(ctx context.Context, snapshots ...models.AccountSnapshot) error {
	g.mu.Lock()
	wait := g.armed
	g.armed = false
	g.mu.Unlock()
	if wait {
		close(g.entered)
		<-g.release
	}
	return g.fakeStore.SaveAccounts(ctx, snapshots...)
}
