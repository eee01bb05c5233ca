package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

const enqueueTimeout = 5 * time.Second

// TaskQueue records compensations that could not be completed inline.
type TaskQueue struct {
	repo domain.ReconciliationRepository
	now  func() time.Time
	log  logger.Logger
}

func NewTaskQueue(repo domain.ReconciliationRepository, log logger.Logger) *TaskQueue {
	return &TaskQueue{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		log:  log,
	}
}

// Enqueue writes the task even when ctx is already done; callers usually
// get here because their own deadline ran out.
func (q *TaskQueue) Enqueue(ctx context.Context, kind domain.TaskKind, reference string, payload map[string]string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	now := q.now()
	task := &domain.ReconciliationTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		Reference: reference,
		Payload:   payload,
		Status:    domain.TaskPending,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.repo.CreateTask(ctx, task); err != nil {
		// Nothing left to fall back on; the log line is the record.
		q.log.Error("Failed to queue reconciliation task", "kind", kind, "reference", reference, "payload", payload, "error", err)
		return
	}
	q.log.Warn("Reconciliation task queued", "task_id", task.ID, "kind", kind, "reference", reference)
}

// Reconciler retries queued compensations with exponential backoff.
type Reconciler struct {
	repo        domain.ReconciliationRepository
	holds       *HoldManager
	settlement  *SettlementHandler
	maxAttempts int
	batchSize   int
	now         func() time.Time
	log         logger.Logger
}

func NewReconciler(repo domain.ReconciliationRepository, holds *HoldManager, settlement *SettlementHandler,
	maxAttempts, batchSize int, log logger.Logger) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		repo:        repo,
		holds:       holds,
		settlement:  settlement,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// RunOnce processes the tasks that are due and returns how many succeeded.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.repo.GetPendingTasks(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load reconciliation tasks: %w", err)
	}

	done := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		runErr := r.run(ctx, task)
		now := r.now()
		task.UpdatedAt = now
		if runErr == nil {
			task.Status = domain.TaskDone
			task.LastError = ""
			done++
		} else {
			task.Attempts++
			task.LastError = runErr.Error()
			if task.Attempts >= r.maxAttempts {
				task.Status = domain.TaskFailed
				r.log.Error("Reconciliation task exhausted", "task_id", task.ID, "kind", task.Kind, "reference", task.Reference, "error", runErr)
			} else {
				task.RunAt = now.Add(retryDelay(task.Attempts))
				r.log.Warn("Reconciliation task failed; will retry", "task_id", task.ID, "kind", task.Kind, "attempts", task.Attempts, "error", runErr)
			}
		}

		if err := r.repo.UpdateTask(ctx, task); err != nil {
			r.log.Error("Failed to update reconciliation task", "task_id", task.ID, "error", err)
		}
	}
	return done, nil
}

func (r *Reconciler) run(ctx context.Context, task *domain.ReconciliationTask) error {
	switch task.Kind {
	case domain.TaskCancelHold:
		return r.holds.CancelHold(ctx, task.Reference)
	case domain.TaskCreateOrder:
		return r.settlement.EnsureOrder(ctx, task.Reference)
	case domain.TaskReplayPaymentEvent:
		evt, err := PaymentEventFromPayload(task.Payload)
		if err != nil {
			return err
		}
		_, err = r.settlement.HandlePaymentEvent(ctx, evt)
		return err
	default:
		return fmt.Errorf("unknown reconciliation task kind %q", task.Kind)
	}
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 8 {
		attempts = 8
	}
	delay := time.Duration(1<<attempts) * 5 * time.Second
	if delay > 30*time.Minute {
		delay = 30 * time.Minute
	}
	return delay
}

func PaymentEventPayload(evt *domain.PaymentEvent) map[string]string {
	payload := map[string]string{
		"event_id":   evt.ID,
		"kind":       string(evt.Kind),
		"raw_type":   evt.RawType,
		"session_id": evt.SessionID,
		"auction_id": evt.AuctionID,
		"bidder_id":  evt.BidderID,
	}
	if evt.Amount.Valid {
		payload["amount"] = evt.Amount.Decimal.String()
	}
	return payload
}

func PaymentEventFromPayload(payload map[string]string) (*domain.PaymentEvent, error) {
	evt := &domain.PaymentEvent{
		ID:        payload["event_id"],
		Kind:      domain.PaymentEventKind(payload["kind"]),
		RawType:   payload["raw_type"],
		SessionID: payload["session_id"],
		AuctionID: payload["auction_id"],
		BidderID:  payload["bidder_id"],
	}
	switch evt.Kind {
	case domain.PaymentEventSucceeded, domain.PaymentEventFailed, domain.PaymentEventOther:
	default:
		return nil, fmt.Errorf("unknown payment event kind %q", evt.Kind)
	}
	if raw, ok := payload["amount"]; ok {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("payment event amount: %w", err)
		}
		evt.Amount = decimal.NewNullDecimal(amount)
	}
	return evt, nil
}
