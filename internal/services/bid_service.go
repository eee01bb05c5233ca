package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// BidService admits bids: validate, open a hold, commit, and release the
// hold again whenever the commit does not happen.
type BidService struct {
	store     domain.Store
	validator *BidValidator
	holds     *HoldManager
	updater   *AuctionStateUpdater
	publisher domain.EventPublisher
	now       func() time.Time
	log       logger.Logger
}

func NewBidService(
	store domain.Store,
	validator *BidValidator,
	holds *HoldManager,
	updater *AuctionStateUpdater,
	publisher domain.EventPublisher,
	log logger.Logger,
) *BidService {
	return &BidService{
		store:     store,
		validator: validator,
		holds:     holds,
		updater:   updater,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*domain.Bid, error) {
	s.log.Info("Placing bid", "auction_id", auctionID, "bidder_id", bidderID, "amount", amount.String())

	auction, err := s.store.Auctions().GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.ErrNotFound, "auction not found")
		}
		return nil, asPersistenceError(err, "could not load auction")
	}

	// Invalid bids never reach the provider.
	if err := s.validator.Validate(auction, bidderID, amount, s.now()); err != nil {
		s.log.Info("Bid rejected", "auction_id", auctionID, "bidder_id", bidderID, "reason", domain.PublicMessage(err))
		return nil, err
	}

	hold, err := s.holds.OpenHold(ctx, auctionID, bidderID, amount)
	if err != nil {
		return nil, err
	}
	holdRef := hold.Ref

	committed := false
	defer func() {
		if !committed {
			s.holds.ReleaseDetached(holdRef, "bid not recorded")
		}
	}()

	result, err := s.updater.CommitBid(ctx, auctionID, bidderID, amount, holdRef)
	if err != nil {
		s.log.Warn("Bid commit failed", "auction_id", auctionID, "bidder_id", bidderID, "error", err)
		return nil, err
	}
	committed = true

	if result.SupersededHold != "" {
		s.holds.ReleaseDetached(result.SupersededHold, "superseded by higher bid")
	}

	if s.publisher != nil {
		if err := s.publisher.PublishAuctionEvent(ctx, &domain.AuctionEvent{
			Type:      domain.EventBidUpdate,
			AuctionID: auctionID,
			Amount:    result.Auction.CurrentHighestBid,
			BidCount:  result.Auction.BidCount,
			Timestamp: result.Bid.CreatedAt,
		}); err != nil {
			s.log.Warn("Failed to publish bid update", "auction_id", auctionID, "error", err)
		}
	}

	result.Bid.ClientSecret = hold.ClientSecret
	return result.Bid, nil
}

// ListBids returns the auction's bids, highest first. Callers who are
// neither the owner nor the bid's author see a masked bidder and no
// payment reference.
func (s *BidService) ListBids(ctx context.Context, auctionID, callerID string) ([]*domain.Bid, error) {
	auction, err := s.store.Auctions().GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.ErrNotFound, "auction not found")
		}
		return nil, asPersistenceError(err, "could not load auction")
	}

	bids, err := s.store.Bids().ListBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, asPersistenceError(err, "could not load bids")
	}

	out := make([]*domain.Bid, 0, len(bids))
	for _, b := range bids {
		view := *b
		if callerID == "" || (callerID != auction.OwnerID && callerID != b.BidderID) {
			view.BidderID = MaskID(b.BidderID)
			view.PaymentRef = ""
		}
		out = append(out, &view)
	}
	return out, nil
}

func MaskID(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:4] + "****"
}
