package models

import (
	"time"
)

type AuditEventType string

const (
	AuditAccountCreated   AuditEventType = "ACCOUNT_CREATED"
	AuditDeposit          AuditEventType = "DEPOSIT"
	AuditLargeDeposit     AuditEventType = "LARGE_DEPOSIT"
	AuditWithdrawal       AuditEventType = "WITHDRAWAL"
	AuditTransferOut      AuditEventType = "TRANSFER_OUT"
	AuditTransferIn       AuditEventType = "TRANSFER_IN"
	AuditAccountClosed    AuditEventType = "ACCOUNT_CLOSED"
	AuditAccountReopened  AuditEventType = "ACCOUNT_REOPENED"
	AuditAccountSuspended AuditEventType = "ACCOUNT_SUSPENDED"
	AuditPinSet           AuditEventType = "PIN_SET"
	AuditAuthSucceeded    AuditEventType = "AUTH_SUCCEEDED"
	AuditAuthFailed       AuditEventType = "AUTH_FAILED"
	AuditAccountLocked    AuditEventType = "ACCOUNT_LOCKED"
	AuditAttemptsReset    AuditEventType = "LOGIN_ATTEMPTS_RESET"
)

// AuditEvent is the structured record every state change emits. Amounts are
// carried as decimal strings so the document stores stay lossless.
type AuditEvent struct {
	ID            string         `json:"id" bson:"_id"`
	AccountNumber int            `json:"account_number" bson:"account_number"`
	Type          AuditEventType `json:"type" bson:"type"`
	Amount        string         `json:"amount,omitempty" bson:"amount,omitempty"`
	BalanceAfter  string         `json:"balance_after,omitempty" bson:"balance_after,omitempty"`
	Detail        string         `json:"detail,omitempty" bson:"detail,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at" bson:"occurred_at"`
}

// AuditDelivery is a queued audit event. Exactly one of Ack or Nack must be
// called once the event has been handled.
type AuditDelivery struct {
	Event AuditEvent
	Ack   func() error
	Nack  func(requeue bool) error
}
