package domain

import (
	"context"
	"time"
)

type AuctionScheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// ReconciliationTask is a queued compensation that a sweep retries until
// it succeeds or runs out of attempts.
type ReconciliationTask struct {
	ID        string
	Kind      TaskKind
	Reference string
	Payload   map[string]string
	Status    TaskStatus
	Attempts  int
	LastError string
	RunAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TaskKind string

const (
	TaskCancelHold         TaskKind = "cancel_hold"
	TaskCreateOrder        TaskKind = "create_order"
	TaskReplayPaymentEvent TaskKind = "replay_payment_event"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)
