// Package sandbox is an in-process payment provider with manual-capture
// holds. It backs local runs and end-to-end tests.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// Gateway implements domain.PaymentGateway. Captures are reported through
// the OnEvent hook the way a real provider would deliver a webhook.
type Gateway struct {
	mu       sync.Mutex
	holds    map[string]*domain.Hold
	meta     map[string]domain.HoldRequest
	byKey    map[string]string
	failures map[string][]error
	calls    map[string]int
	log      logger.Logger

	OnEvent func(evt domain.PaymentEvent)
}

func NewGateway(log logger.Logger) *Gateway {
	return &Gateway{
		holds:    make(map[string]*domain.Hold),
		meta:     make(map[string]domain.HoldRequest),
		byKey:    make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		log:      log,
	}
}

// FailNext queues err for the next call of op ("create", "capture", "cancel").
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], err)
}

func (g *Gateway) popFailure(op string) error {
	queue := g.failures[op]
	if len(queue) == 0 {
		return nil
	}
	g.failures[op] = queue[1:]
	return queue[0]
}

func (g *Gateway) CreateHold(ctx context.Context, req domain.HoldRequest) (*domain.Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++

	if err := g.popFailure("create"); err != nil {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be created")
	}
	if ref, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		h := *g.holds[ref]
		return &h, nil
	}

	h := &domain.Hold{
		Ref:      "pi_sandbox_" + uuid.NewString(),
		Amount:   req.Amount,
		Currency: req.Currency,
		State:    domain.HoldOpen,
	}
	g.holds[h.Ref] = h
	g.meta[h.Ref] = req
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = h.Ref
	}
	g.log.Debug("sandbox hold created", "hold_ref", h.Ref, "amount", req.Amount.String())

	out := *h
	return &out, nil
}

func (g *Gateway) CaptureHold(ctx context.Context, holdRef string) (*domain.Hold, error) {
	g.mu.Lock()
	g.calls["capture"]++

	if err := g.popFailure("capture"); err != nil {
		g.mu.Unlock()
		return nil, domain.WrapError(domain.ErrPayment, err, "payment capture failed")
	}
	h, ok := g.holds[holdRef]
	if !ok {
		g.mu.Unlock()
		return nil, domain.NewError(domain.ErrPayment, "unknown hold %s", holdRef)
	}
	switch h.State {
	case domain.HoldCancelled:
		g.mu.Unlock()
		return nil, domain.NewError(domain.ErrPayment, "hold %s was cancelled", holdRef)
	case domain.HoldCaptured:
		out := *h
		g.mu.Unlock()
		return &out, nil
	}
	h.State = domain.HoldCaptured
	out := *h
	req := g.meta[holdRef]
	hook := g.OnEvent
	g.mu.Unlock()

	if hook != nil {
		hook(domain.PaymentEvent{
			ID:        "evt_sandbox_" + uuid.NewString(),
			Kind:      domain.PaymentEventSucceeded,
			RawType:   "payment_intent.succeeded",
			SessionID: holdRef,
			AuctionID: req.AuctionID,
			BidderID:  req.BidderID,
			Amount:    decimal.NewNullDecimal(req.Amount),
		})
	}
	return &out, nil
}

func (g *Gateway) CancelHold(ctx context.Context, holdRef string) (*domain.Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["cancel"]++

	if err := g.popFailure("cancel"); err != nil {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be cancelled")
	}
	h, ok := g.holds[holdRef]
	if !ok {
		return nil, domain.NewError(domain.ErrPayment, "unknown hold %s", holdRef)
	}
	if h.State == domain.HoldOpen {
		h.State = domain.HoldCancelled
	}
	out := *h
	return &out, nil
}

// HoldState reports the provider-side state of a hold.
func (g *Gateway) HoldState(holdRef string) (domain.HoldState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holds[holdRef]
	if !ok {
		return "", fmt.Errorf("unknown hold %s", holdRef)
	}
	return h.State, nil
}

func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// OpenHolds counts holds that are neither captured nor cancelled.
func (g *Gateway) OpenHolds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, h := range g.holds {
		if h.State == domain.HoldOpen {
			n++
		}
	}
	return n
}
