package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
)

func TestBidValidator(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	open := func() *domain.Auction {
		return &domain.Auction{
			ID:                "a1",
			OwnerID:           "seller",
			StartingPrice:     decimal.NewFromInt(5000),
			CurrentHighestBid: decimal.NewFromInt(5000),
			Status:            domain.AuctionActive,
			EndTime:           now.Add(time.Hour),
		}
	}

	tests := []struct {
		name        string
		auction     func() *domain.Auction
		bidder      string
		amount      string
		expectedErr error
		message     string
	}{
		{
			name:        "missing auction",
			auction:     func() *domain.Auction { return nil },
			bidder:      "buyer",
			amount:      "10",
			expectedErr: domain.ErrNotFound,
		},
		{
			name: "pending auction",
			auction: func() *domain.Auction {
				a := open()
				a.Status = domain.AuctionPending
				return a
			},
			bidder:      "buyer",
			amount:      "6000",
			expectedErr: domain.ErrInvalidState,
			message:     "auction not open for bidding",
		},
		{
			name: "end time passed while status still active",
			auction: func() *domain.Auction {
				a := open()
				a.EndTime = now.Add(-time.Second)
				return a
			},
			bidder:      "buyer",
			amount:      "6000",
			expectedErr: domain.ErrInvalidState,
			message:     "bidding period has ended",
		},
		{
			name:        "owner bids on own auction",
			auction:     open,
			bidder:      "seller",
			amount:      "999999",
			expectedErr: domain.ErrForbidden,
		},
		{
			name:        "owner bid with zero amount is still forbidden",
			auction:     open,
			bidder:      "seller",
			amount:      "0",
			expectedErr: domain.ErrForbidden,
		},
		{
			name:        "negative amount",
			auction:     open,
			bidder:      "buyer",
			amount:      "-5",
			expectedErr: domain.ErrInvalidInput,
		},
		{
			name:        "below starting price",
			auction:     open,
			bidder:      "buyer",
			amount:      "4000",
			expectedErr: domain.ErrInvalidInput,
			message:     "bid must be higher than 5000.00",
		},
		{
			name:        "equal to floor",
			auction:     open,
			bidder:      "buyer",
			amount:      "5000",
			expectedErr: domain.ErrInvalidInput,
		},
		{
			name: "below current highest bid",
			auction: func() *domain.Auction {
				a := open()
				a.BidCount = 1
				a.CurrentHighestBid = decimal.NewFromInt(5500)
				return a
			},
			bidder:      "buyer-2",
			amount:      "5200",
			expectedErr: domain.ErrInvalidInput,
			message:     "bid must be higher than 5500.00",
		},
		{
			name: "sub-cent amount above floor",
			auction: func() *domain.Auction {
				a := open()
				a.BidCount = 1
				a.CurrentHighestBid = decimal.NewFromInt(5500)
				return a
			},
			bidder:      "buyer-2",
			amount:      "5500.004",
			expectedErr: domain.ErrInvalidInput,
			message:     "amount must have at most 2 decimal places",
		},
		{
			name:        "above storable maximum",
			auction:     open,
			bidder:      "buyer",
			amount:      "10000000000.00",
			expectedErr: domain.ErrInvalidInput,
			message:     "amount must not exceed 9999999999.99",
		},
		{
			name:    "storable maximum",
			auction: open,
			bidder:  "buyer",
			amount:  "9999999999.99",
		},
		{
			name:    "admissible",
			auction: open,
			bidder:  "buyer",
			amount:  "5500",
		},
	}

	v := NewBidValidator()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Validate(tt.auction(), tt.bidder, decimal.RequireFromString(tt.amount), now)
			if tt.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expectedErr), "got %v", err)
			if tt.message != "" {
				assert.Equal(t, tt.message, domain.PublicMessage(err))
			}
		})
	}
}
