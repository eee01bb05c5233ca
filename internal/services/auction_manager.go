package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type CreateAuctionInput struct {
	OwnerID       string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// AuctionManager owns the auction lifecycle outside of bidding: creation,
// activation when the start time passes, closing at the end time, and
// owner cancellation or deletion.
type AuctionManager struct {
	store          domain.Store
	settlement     *SettlementHandler
	eventPub       domain.EventPublisher
	leaderElection domain.LeaderElection
	instanceID     string
	batchSize      int
	now            func() time.Time
	log            logger.Logger
}

func NewAuctionManager(
	store domain.Store,
	settlement *SettlementHandler,
	eventPub domain.EventPublisher,
	leaderElection domain.LeaderElection,
	instanceID string,
	batchSize int,
	log logger.Logger,
) *AuctionManager {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &AuctionManager{
		store:          store,
		settlement:     settlement,
		eventPub:       eventPub,
		leaderElection: leaderElection,
		instanceID:     instanceID,
		batchSize:      batchSize,
		now:            func() time.Time { return time.Now().UTC() },
		log:            log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, in CreateAuctionInput) (*domain.Auction, error) {
	now := am.now()
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "title is required")
	}
	if in.StartingPrice.IsNegative() {
		return nil, domain.NewError(domain.ErrInvalidInput, "starting price must not be negative")
	}
	if err := domain.CheckAmountScale(in.StartingPrice); err != nil {
		return nil, err
	}
	if in.StartTime.IsZero() {
		in.StartTime = now
	}
	if !in.EndTime.After(in.StartTime) || !in.EndTime.After(now) {
		return nil, domain.NewError(domain.ErrInvalidInput, "end time must be after start time and in the future")
	}

	status := domain.AuctionPending
	if !in.StartTime.After(now) {
		status = domain.AuctionActive
	}

	auction := &domain.Auction{
		ID:                uuid.NewString(),
		OwnerID:           in.OwnerID,
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		StartingPrice:     in.StartingPrice,
		CurrentHighestBid: in.StartingPrice,
		Status:            status,
		StartTime:         in.StartTime.UTC(),
		EndTime:           in.EndTime.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := am.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Auctions().CreateAuction(ctx, auction); err != nil {
			return err
		}
		return tx.Activity().LogActivity(ctx, newActivity(auction.ID, auction.OwnerID, domain.ActivityAuctionCreated, map[string]string{
			"status":         status.String(),
			"starting_price": in.StartingPrice.StringFixed(2),
		}))
	})
	if err != nil {
		return nil, asPersistenceError(err, "could not create auction")
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "status", status.String())
	if status == domain.AuctionActive {
		am.publish(ctx, auction, domain.EventAuctionActivated)
	}
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	auction, err := am.store.Auctions().GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.ErrNotFound, "auction not found")
		}
		return nil, asPersistenceError(err, "could not load auction")
	}
	return auction, nil
}

// CancelAuction lets the owner withdraw an auction that nobody has bid on.
func (am *AuctionManager) CancelAuction(ctx context.Context, auctionID, callerID string) (*domain.Auction, error) {
	var cancelled *domain.Auction
	err := am.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		auction, err := tx.Auctions().GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.OwnerID != callerID {
			return domain.NewError(domain.ErrForbidden, "only the owner can cancel this auction")
		}
		if !auction.Status.CanTransitionTo(domain.AuctionCancelled) {
			return domain.NewError(domain.ErrInvalidState, "auction is %s and cannot be cancelled", auction.Status)
		}
		if auction.BidCount > 0 {
			return domain.NewError(domain.ErrInvalidState, "auction with bids cannot be cancelled")
		}
		auction.Status = domain.AuctionCancelled
		auction.UpdatedAt = am.now()
		if err := tx.Auctions().UpdateAuction(ctx, auction); err != nil {
			return err
		}
		cancelled = auction
		return tx.Activity().LogActivity(ctx, newActivity(auctionID, callerID, domain.ActivityAuctionCancelled, nil))
	})
	if err != nil {
		return nil, asPersistenceError(err, "could not cancel auction")
	}

	am.log.Info("Auction cancelled", "auction_id", auctionID)
	am.publish(ctx, cancelled, domain.EventAuctionCancelled)
	return cancelled, nil
}

// DeleteAuction removes a pending or cancelled auction. Active auctions
// are never deleted; settled ones keep their history.
func (am *AuctionManager) DeleteAuction(ctx context.Context, auctionID, callerID string) error {
	err := am.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		auction, err := tx.Auctions().GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.OwnerID != callerID {
			return domain.NewError(domain.ErrForbidden, "only the owner can delete this auction")
		}
		switch auction.Status {
		case domain.AuctionActive:
			return domain.NewError(domain.ErrInvalidState, "cannot delete an active auction")
		case domain.AuctionEnded, domain.AuctionCompleted:
			return domain.NewError(domain.ErrInvalidState, "cannot delete a closed auction")
		}
		if auction.BidCount > 0 {
			return domain.NewError(domain.ErrInvalidState, "auction with bids cannot be deleted")
		}
		return tx.Auctions().DeleteAuction(ctx, auctionID)
	})
	if err != nil {
		return asPersistenceError(err, "could not delete auction")
	}
	am.log.Info("Auction deleted", "auction_id", auctionID)
	return nil
}

// ActivateDueAuctions moves pending auctions whose start time has passed
// to active. Only the leader runs it.
func (am *AuctionManager) ActivateDueAuctions(ctx context.Context) (int, error) {
	if !am.isLeader(ctx) {
		return 0, nil
	}

	due, err := am.store.Auctions().ListDueForActivation(ctx, am.now(), am.batchSize)
	if err != nil {
		return 0, asPersistenceError(err, "could not list due auctions")
	}

	activated := 0
	for _, candidate := range due {
		var started *domain.Auction
		err := am.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
			auction, err := tx.Auctions().GetAuctionForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			now := am.now()
			if auction.Status != domain.AuctionPending || auction.StartTime.After(now) {
				return nil
			}
			auction.Status = domain.AuctionActive
			auction.UpdatedAt = now
			if err := tx.Auctions().UpdateAuction(ctx, auction); err != nil {
				return err
			}
			started = auction
			return tx.Activity().LogActivity(ctx, newActivity(auction.ID, "", domain.ActivityAuctionActivated, nil))
		})
		if err != nil {
			am.log.Error("Failed to activate auction", "auction_id", candidate.ID, "error", err)
			continue
		}
		if started != nil {
			activated++
			am.log.Info("Auction activated", "auction_id", started.ID)
			am.publish(ctx, started, domain.EventAuctionActivated)
		}
	}
	return activated, nil
}

// CloseExpiredAuctions hands every active auction past its end time to
// settlement. Only the leader runs it.
func (am *AuctionManager) CloseExpiredAuctions(ctx context.Context) (int, error) {
	if !am.isLeader(ctx) {
		return 0, nil
	}

	expired, err := am.store.Auctions().ListExpired(ctx, am.now(), am.batchSize)
	if err != nil {
		return 0, asPersistenceError(err, "could not list expired auctions")
	}

	closed := 0
	for _, auction := range expired {
		if err := am.settlement.CloseAuction(ctx, auction.ID); err != nil {
			am.log.Error("Failed to close auction", "auction_id", auction.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (am *AuctionManager) isLeader(ctx context.Context) bool {
	if am.leaderElection == nil {
		return true
	}
	isLeader, err := am.leaderElection.IsLeader(ctx, am.instanceID)
	if err != nil {
		am.log.Warn("Leader check failed", "instance_id", am.instanceID, "error", err)
		return false
	}
	return isLeader
}

func (am *AuctionManager) publish(ctx context.Context, auction *domain.Auction, eventType domain.AuctionEventType) {
	if am.eventPub == nil {
		return
	}
	if err := am.eventPub.PublishAuctionEvent(ctx, &domain.AuctionEvent{
		Type:      eventType,
		AuctionID: auction.ID,
		Amount:    auction.CurrentHighestBid,
		BidCount:  auction.BidCount,
		Timestamp: am.now(),
	}); err != nil {
		am.log.Warn("Failed to publish auction event", "type", eventType, "auction_id", auction.ID, "error", err)
	}
}
