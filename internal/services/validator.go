package services

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"timebid/internal/domain"
)

var errBelowFloor = errors.New("amount does not exceed floor")

// BidValidator decides whether a bid is admissible against a snapshot of
// the auction. It has no side effects; rules are checked in order and the
// first failure is returned.
type BidValidator struct{}

func NewBidValidator() *BidValidator {
	return &BidValidator{}
}

func (v *BidValidator) Validate(auction *domain.Auction, bidderID string, amount decimal.Decimal, now time.Time) error {
	if auction == nil {
		return domain.NewError(domain.ErrNotFound, "auction not found")
	}
	if auction.Status != domain.AuctionActive {
		return domain.NewError(domain.ErrInvalidState, "auction not open for bidding")
	}
	// The clock wins over a stored status that a sweep has not caught up with yet.
	if now.After(auction.EndTime) {
		return domain.NewError(domain.ErrInvalidState, "bidding period has ended")
	}
	if bidderID == auction.OwnerID {
		return domain.NewError(domain.ErrForbidden, "self-bidding disallowed")
	}
	if !amount.IsPositive() {
		return domain.NewError(domain.ErrInvalidInput, "bid amount must be positive")
	}
	if err := domain.CheckAmountScale(amount); err != nil {
		return err
	}
	if floor := auction.Floor(); amount.LessThanOrEqual(floor) {
		return domain.WrapError(domain.ErrInvalidInput, errBelowFloor, "bid must be higher than %s", floor.StringFixed(2))
	}
	return nil
}
