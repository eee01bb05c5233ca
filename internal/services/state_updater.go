package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type CommitResult struct {
	Bid     *domain.Bid
	Auction *domain.Auction
	// SupersededHold is the hold of the bid this one displaced, if it
	// still needs to be released at the provider.
	SupersededHold string
}

// AuctionStateUpdater records an accepted bid against a freshly locked
// auction row, re-checking admissibility inside the transaction.
type AuctionStateUpdater struct {
	store            domain.Store
	validator        *BidValidator
	cancelSuperseded bool
	now              func() time.Time
	log              logger.Logger
}

func NewAuctionStateUpdater(store domain.Store, validator *BidValidator, cancelSuperseded bool, log logger.Logger) *AuctionStateUpdater {
	return &AuctionStateUpdater{
		store:            store,
		validator:        validator,
		cancelSuperseded: cancelSuperseded,
		now:              func() time.Time { return time.Now().UTC() },
		log:              log,
	}
}

func (u *AuctionStateUpdater) CommitBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, holdRef string) (*CommitResult, error) {
	var result *CommitResult

	err := u.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		auction, err := tx.Auctions().GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}

		now := u.now()
		if err := u.validator.Validate(auction, bidderID, amount, now); err != nil {
			if errors.Is(err, errBelowFloor) {
				return domain.WrapError(domain.ErrConflict, errBelowFloor, "a higher bid was placed first; bid must be higher than %s", auction.Floor().StringFixed(2))
			}
			return err
		}

		var previous *domain.Bid
		if u.cancelSuperseded && auction.BidCount > 0 {
			previous, err = tx.Bids().HighestPendingBid(ctx, auctionID)
			if err != nil {
				return err
			}
		}

		bid := &domain.Bid{
			ID:            uuid.NewString(),
			AuctionID:     auctionID,
			BidderID:      bidderID,
			Amount:        amount,
			PaymentRef:    holdRef,
			PaymentStatus: domain.PaymentPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Bids().CreateBid(ctx, bid); err != nil {
			return err
		}

		auction.CurrentHighestBid = amount
		auction.BidCount++
		auction.UpdatedAt = now
		if err := tx.Auctions().UpdateAuction(ctx, auction); err != nil {
			return err
		}

		result = &CommitResult{Bid: bid, Auction: auction}

		if previous != nil {
			if err := tx.Bids().UpdateBidPaymentStatus(ctx, previous.ID, domain.PaymentCancelled); err != nil {
				return err
			}
			if err := tx.Activity().LogActivity(ctx, newActivity(auctionID, previous.BidderID, domain.ActivityHoldSuperseded, map[string]string{
				"bid_id":        previous.ID,
				"superseded_by": bid.ID,
			})); err != nil {
				return err
			}
			result.SupersededHold = previous.PaymentRef
		}

		return tx.Activity().LogActivity(ctx, newActivity(auctionID, bidderID, domain.ActivityBidPlaced, map[string]string{
			"bid_id": bid.ID,
			"amount": amount.StringFixed(2),
		}))
	})
	if err != nil {
		return nil, asPersistenceError(err, "could not record bid")
	}

	u.log.Info("Bid committed", "auction_id", auctionID, "bid_id", result.Bid.ID, "amount", amount.String(), "bid_count", result.Auction.BidCount)
	return result, nil
}

func newActivity(auctionID, actorID string, action domain.ActivityAction, details map[string]string) *domain.ActivityLog {
	return &domain.ActivityLog{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

// asPersistenceError leaves classified errors alone and wraps anything
// else coming out of the datastore.
func asPersistenceError(err error, msg string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.WrapError(domain.ErrPersistence, err, "%s", msg)
}
