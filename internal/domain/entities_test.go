package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuctionFloor(t *testing.T) {
	a := &Auction{StartingPrice: decimal.NewFromInt(50), CurrentHighestBid: decimal.NewFromInt(50)}
	assert.True(t, a.Floor().Equal(decimal.NewFromInt(50)))

	a.BidCount = 2
	a.CurrentHighestBid = decimal.NewFromInt(120)
	assert.True(t, a.Floor().Equal(decimal.NewFromInt(120)))
}

func TestAuctionStatusTransitions(t *testing.T) {
	tests := []struct {
		from AuctionStatus
		to   AuctionStatus
		ok   bool
	}{
		{AuctionPending, AuctionActive, true},
		{AuctionPending, AuctionCancelled, true},
		{AuctionPending, AuctionEnded, false},
		{AuctionActive, AuctionEnded, true},
		{AuctionActive, AuctionCompleted, true},
		{AuctionEnded, AuctionCompleted, true},
		{AuctionEnded, AuctionActive, false},
		{AuctionCompleted, AuctionEnded, false},
		{AuctionCancelled, AuctionActive, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestParseAuctionStatus(t *testing.T) {
	for _, s := range []AuctionStatus{AuctionPending, AuctionActive, AuctionEnded, AuctionCompleted, AuctionCancelled} {
		parsed, ok := ParseAuctionStatus(s.String())
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}

	_, ok := ParseAuctionStatus("archived")
	assert.False(t, ok)
}

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("commit bid: %w", NewError(ErrConflict, "a higher bid was placed first"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "a higher bid was placed first", PublicMessage(err))

	cause := errors.New("connection reset")
	wrapped := WrapError(ErrPersistence, cause, "could not save bid")
	assert.True(t, errors.Is(wrapped, ErrPersistence))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, "could not save bid", PublicMessage(wrapped))
}
