package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

func TestHoldLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(logger.NewNop())

	var events []domain.PaymentEvent
	g.OnEvent = func(evt domain.PaymentEvent) { events = append(events, evt) }

	h, err := g.CreateHold(ctx, domain.HoldRequest{AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromInt(80), Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, domain.HoldOpen, h.State)
	assert.Equal(t, 1, g.OpenHolds())

	captured, err := g.CaptureHold(ctx, h.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCaptured, captured.State)

	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentEventSucceeded, events[0].Kind)
	assert.Equal(t, h.Ref, events[0].SessionID)
	assert.Equal(t, "a1", events[0].AuctionID)

	// Capturing twice is a no-op; cancelling a captured hold leaves it captured.
	_, err = g.CaptureHold(ctx, h.Ref)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	after, err := g.CancelHold(ctx, h.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCaptured, after.State)
}

func TestCancelledHoldCannotBeCaptured(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(logger.NewNop())

	h, err := g.CreateHold(ctx, domain.HoldRequest{Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	_, err = g.CancelHold(ctx, h.Ref)
	require.NoError(t, err)
	_, err = g.CancelHold(ctx, h.Ref)
	require.NoError(t, err)

	_, err = g.CaptureHold(ctx, h.Ref)
	require.ErrorIs(t, err, domain.ErrPayment)

	state, err := g.HoldState(h.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCancelled, state)
}

func TestIdempotencyKeyReturnsSameHold(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(logger.NewNop())
	req := domain.HoldRequest{Amount: decimal.NewFromInt(10), IdempotencyKey: "bid-hold:a1:u1:10:n"}

	first, err := g.CreateHold(ctx, req)
	require.NoError(t, err)
	second, err := g.CreateHold(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref)
	assert.Equal(t, 1, g.OpenHolds())
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(logger.NewNop())
	g.FailNext("create", errors.New("card_declined"))

	_, err := g.CreateHold(ctx, domain.HoldRequest{Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, domain.ErrPayment)

	_, err = g.CreateHold(ctx, domain.HoldRequest{Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Calls("create"))
}
