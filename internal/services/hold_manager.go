package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// HoldManager opens, cancels and captures manual-capture payment holds.
// Only settlement captures.
type HoldManager struct {
	gateway     domain.PaymentGateway
	tasks       *TaskQueue
	currency    string
	callTimeout time.Duration
	log         logger.Logger
}

func NewHoldManager(gateway domain.PaymentGateway, tasks *TaskQueue, currency string, callTimeout time.Duration, log logger.Logger) *HoldManager {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &HoldManager{
		gateway:     gateway,
		tasks:       tasks,
		currency:    currency,
		callTimeout: callTimeout,
		log:         log,
	}
}

func (h *HoldManager) OpenHold(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*domain.Hold, error) {
	req := domain.HoldRequest{
		AuctionID:      auctionID,
		BidderID:       bidderID,
		Amount:         amount,
		Currency:       h.currency,
		IdempotencyKey: fmt.Sprintf("bid-hold:%s:%s:%s:%s", auctionID, bidderID, amount.StringFixed(2), uuid.NewString()),
	}

	hold, err := h.gateway.CreateHold(ctx, req)
	if err != nil {
		h.log.Error("Failed to open payment hold", "auction_id", auctionID, "bidder_id", bidderID, "error", err)
		return nil, asPaymentError(err, "payment hold could not be created")
	}

	h.log.Info("Payment hold opened", "auction_id", auctionID, "hold_ref", hold.Ref, "amount", amount.String())
	return hold, nil
}

// CancelHold is idempotent: a hold that is already cancelled or captured
// is left as is.
func (h *HoldManager) CancelHold(ctx context.Context, holdRef string) error {
	if holdRef == "" {
		return nil
	}
	hold, err := h.gateway.CancelHold(ctx, holdRef)
	if err != nil {
		return asPaymentError(err, "payment hold could not be cancelled")
	}
	if hold.State == domain.HoldCaptured {
		h.log.Warn("Cancel requested for captured hold", "hold_ref", holdRef)
	}
	return nil
}

func (h *HoldManager) CaptureHold(ctx context.Context, holdRef string) error {
	if _, err := h.gateway.CaptureHold(ctx, holdRef); err != nil {
		return asPaymentError(err, "payment capture failed")
	}
	return nil
}

// ReleaseDetached cancels a hold on a context that survives the caller's
// cancellation. Failures are queued for reconciliation and never returned.
func (h *HoldManager) ReleaseDetached(holdRef, reason string) {
	if holdRef == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()

	if err := h.CancelHold(ctx, holdRef); err != nil {
		h.log.Error("Failed to release payment hold; queueing", "hold_ref", holdRef, "reason", reason, "error", err)
		h.tasks.Enqueue(ctx, domain.TaskCancelHold, holdRef, map[string]string{"reason": reason})
		return
	}
	h.log.Info("Payment hold released", "hold_ref", holdRef, "reason", reason)
}

func asPaymentError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrPayment) {
		return err
	}
	return domain.WrapError(domain.ErrPayment, err, "%s", msg)
}
