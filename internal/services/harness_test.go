package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
	"timebid/internal/infrastructure/memory"
	"timebid/internal/infrastructure/payment/sandbox"
	"timebid/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.AuctionEvent
}

func (p *recordingPublisher) PublishAuctionEvent(ctx context.Context, event *domain.AuctionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []domain.AuctionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.AuctionEventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store      *memory.Store
	gateway    *sandbox.Gateway
	publisher  *recordingPublisher
	clock      *fakeClock
	tasks      *TaskQueue
	holds      *HoldManager
	updater    *AuctionStateUpdater
	bids       *BidService
	settlement *SettlementHandler
	manager    *AuctionManager
	reconciler *Reconciler

	// payment events the sandbox provider emitted, in order
	evMu   sync.Mutex
	events []domain.PaymentEvent
}

type harnessOptions struct {
	cancelSuperseded bool
	promoteNext      bool
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{cancelSuperseded: true}
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.NewNop()
	h := &harness{
		store:     memory.NewStore(),
		gateway:   sandbox.NewGateway(log),
		publisher: &recordingPublisher{},
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.gateway.OnEvent = func(evt domain.PaymentEvent) {
		h.evMu.Lock()
		defer h.evMu.Unlock()
		h.events = append(h.events, evt)
	}

	validator := NewBidValidator()
	h.tasks = NewTaskQueue(h.store.Reconciliation(), log)
	h.holds = NewHoldManager(h.gateway, h.tasks, "usd", time.Second, log)
	h.updater = NewAuctionStateUpdater(h.store, validator, o.cancelSuperseded, log)
	h.bids = NewBidService(h.store, validator, h.holds, h.updater, h.publisher, log)
	h.settlement = NewSettlementHandler(h.store, h.holds, h.tasks, memory.NewLocker(), h.publisher, SettlementConfig{
		PlatformFeeRate:         decimal.RequireFromString("0.10"),
		PromoteNextBidOnFailure: o.promoteNext,
	}, log)
	h.manager = NewAuctionManager(h.store, h.settlement, h.publisher, nil, "test-1", 10, log)
	h.reconciler = NewReconciler(h.store.Reconciliation(), h.holds, h.settlement, 3, 10, log)

	h.tasks.now = h.clock.Now
	h.updater.now = h.clock.Now
	h.bids.now = h.clock.Now
	h.settlement.now = h.clock.Now
	h.manager.now = h.clock.Now
	h.reconciler.now = h.clock.Now
	return h
}

func withPromotion(o *harnessOptions) {
	o.cancelSuperseded = false
	o.promoteNext = true
}

func keepSupersededHolds(o *harnessOptions) {
	o.cancelSuperseded = false
}

// activeAuction creates an auction owned by "seller" that ends in an hour.
func (h *harness) activeAuction(t *testing.T, startingPrice int64) *domain.Auction {
	t.Helper()
	a, err := h.manager.CreateAuction(context.Background(), CreateAuctionInput{
		OwnerID:       "seller",
		Title:         "One hour of Go mentoring",
		StartingPrice: decimal.NewFromInt(startingPrice),
		StartTime:     h.clock.Now().Add(-time.Minute),
		EndTime:       h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuctionActive, a.Status)
	return a
}

func (h *harness) auction(t *testing.T, id string) *domain.Auction {
	t.Helper()
	a, err := h.store.Auctions().GetAuction(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) emitted() []domain.PaymentEvent {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	return append([]domain.PaymentEvent(nil), h.events...)
}

func (h *harness) activity(t *testing.T, auctionID string) []domain.ActivityAction {
	t.Helper()
	entries, err := h.store.Activity().ListActivity(context.Background(), auctionID)
	require.NoError(t, err)
	var out []domain.ActivityAction
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
