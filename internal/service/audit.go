package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 500

	// wait before handing a failed event back to the queue
	DefaultRedeliveryDelay = time.Second
)

var ErrAuditEventNoID = errors.New("audit event has no id")

// AuditLog stores audit events. Inserting an event that already exists
// must succeed without creating a duplicate.
type AuditLog interface {
	InsertAuditEvent(ctx context.Context, ev *models.AuditEvent) error
	GetAuditEventsByAccount(ctx context.Context, number, limit, offset int) ([]*models.AuditEvent, error)
}

// AuditConsumer yields queued audit events until ctx is done.
type AuditConsumer interface {
	ConsumeAuditEvents(ctx context.Context) (<-chan models.AuditDelivery, error)
}

// handles the audit trail
type AuditService struct {
	log      AuditLog
	consumer AuditConsumer
	logger   *zap.Logger

	redeliveryDelay time.Duration
}

// creates a new AuditService. consumer may be nil when the service is only
// used for queries.
func NewAuditService(log AuditLog, consumer AuditConsumer, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		log:             log,
		consumer:        consumer,
		logger:          logger,
		redeliveryDelay: DefaultRedeliveryDelay,
	}
}

// records a single audit event
func (s *AuditService) RecordEvent(ctx context.Context, ev *models.AuditEvent) error {
	if ev.ID == "" {
		return ErrAuditEventNoID
	}
	if err := s.log.InsertAuditEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// retrieves audit events for an account, newest first
func (s *AuditService) GetAuditEvents(ctx context.Context, number, limit, offset int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}
	if limit > MaxAuditPageSize {
		limit = MaxAuditPageSize
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.log.GetAuditEventsByAccount(ctx, number, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}
	return events, nil
}

// starts the audit processor
func (s *AuditService) StartProcessor(ctx context.Context) error {
	if s.consumer == nil {
		return fmt.Errorf("audit service has no consumer")
	}
	events, err := s.consumer.ConsumeAuditEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume audit events: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-events:
				if !ok {
					return
				}
				s.process(ctx, d)
			}
		}
	}()

	return nil
}

// process stores one delivery and acks it only once the event is in the
// audit log. Failed inserts go back to the queue after the redelivery delay.
func (s *AuditService) process(ctx context.Context, d models.AuditDelivery) {
	ev := d.Event
	err := s.RecordEvent(ctx, &ev)
	switch {
	case err == nil:
		s.logger.Debug("audit event stored", zap.String("event_id", ev.ID), zap.String("type", string(ev.Type)))
		if err := d.Ack(); err != nil {
			s.logger.Error("failed to ack audit event", zap.String("event_id", ev.ID), zap.Error(err))
		}
	case errors.Is(err, ErrAuditEventNoID):
		s.logger.Warn("dropping audit event without id", zap.Int("account", ev.AccountNumber))
		d.Nack(false)
	default:
		s.logger.Error("failed to process audit event", zap.String("event_id", ev.ID), zap.Error(err))
		select {
		case <-time.After(s.redeliveryDelay):
		case <-ctx.Done():
		}
		if err := d.Nack(true); err != nil {
			s.logger.Error("failed to requeue audit event", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
}
