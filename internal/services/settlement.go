package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type SettlementConfig struct {
	PlatformFeeRate         decimal.Decimal
	PromoteNextBidOnFailure bool
	LockTTL                 time.Duration
}

// SettlementHandler closes auctions, captures the winning hold and applies
// payment events. Every transition is checked against stored state, so
// repeated or out-of-order deliveries converge on one winner and one order.
type SettlementHandler struct {
	store     domain.Store
	holds     *HoldManager
	tasks     *TaskQueue
	locker    domain.Locker
	publisher domain.EventPublisher
	cfg       SettlementConfig
	now       func() time.Time
	log       logger.Logger
}

func NewSettlementHandler(store domain.Store, holds *HoldManager, tasks *TaskQueue, locker domain.Locker,
	publisher domain.EventPublisher, cfg SettlementConfig, log logger.Logger) *SettlementHandler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &SettlementHandler{
		store:     store,
		holds:     holds,
		tasks:     tasks,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func settlementLockKey(auctionID string) string {
	return "settlement_lock:" + auctionID
}

// CloseAuction ends an expired auction and captures the highest pending
// hold. It is the only capture path.
func (s *SettlementHandler) CloseAuction(ctx context.Context, auctionID string) error {
	key := settlementLockKey(auctionID)
	token, ok, err := s.locker.Obtain(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("Settlement already in progress", "auction_id", auctionID)
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("Failed to release settlement lock", "auction_id", auctionID, "error", err)
		}
	}()

	var (
		winner *domain.Bid
		closed *domain.Auction
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		auction, err := tx.Auctions().GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.now()
		if auction.Status != domain.AuctionActive || !now.After(auction.EndTime) {
			return nil
		}

		auction.Status = domain.AuctionEnded
		auction.UpdatedAt = now
		if err := tx.Auctions().UpdateAuction(ctx, auction); err != nil {
			return err
		}

		winner, err = tx.Bids().HighestPendingBid(ctx, auctionID)
		if err != nil {
			return err
		}
		closed = auction

		details := map[string]string{"bid_count": strconv.Itoa(auction.BidCount)}
		if winner != nil {
			details["bid_id"] = winner.ID
			details["amount"] = winner.Amount.StringFixed(2)
		}
		return tx.Activity().LogActivity(ctx, newActivity(auctionID, "", domain.ActivityAuctionClosed, details))
	})
	if err != nil {
		return asPersistenceError(err, "could not close auction")
	}
	if closed == nil {
		return nil
	}

	s.log.Info("Auction closed", "auction_id", auctionID, "bid_count", closed.BidCount)
	s.publish(ctx, &domain.AuctionEvent{
		Type:      domain.EventAuctionClosed,
		AuctionID: auctionID,
		Amount:    closed.CurrentHighestBid,
		BidCount:  closed.BidCount,
		Timestamp: s.now(),
	})

	if winner == nil {
		return nil
	}
	return s.captureWinner(ctx, auctionID, winner)
}

func (s *SettlementHandler) captureWinner(ctx context.Context, auctionID string, bid *domain.Bid) error {
	if err := s.holds.CaptureHold(ctx, bid.PaymentRef); err != nil {
		s.log.Error("Failed to capture winning hold", "auction_id", auctionID, "bid_id", bid.ID, "error", err)
		_, err := s.failBid(ctx, bid.PaymentRef, domain.PublicMessage(err))
		return err
	}

	s.log.Info("Winning hold captured", "auction_id", auctionID, "bid_id", bid.ID, "amount", bid.Amount.String())
	if err := s.store.Activity().LogActivity(ctx, newActivity(auctionID, bid.BidderID, domain.ActivityPaymentCaptured, map[string]string{
		"bid_id":   bid.ID,
		"hold_ref": bid.PaymentRef,
	})); err != nil {
		s.log.Warn("Failed to record capture activity", "auction_id", auctionID, "error", err)
	}
	return nil
}

// HandlePaymentEvent applies one payment notification. Errors are returned
// only for faults worth retrying; every business outcome is a nil error.
func (s *SettlementHandler) HandlePaymentEvent(ctx context.Context, evt *domain.PaymentEvent) (domain.SettlementOutcome, error) {
	if evt.Kind == domain.PaymentEventOther || evt.SessionID == "" {
		s.log.Debug("Ignoring payment event", "event_id", evt.ID, "type", evt.RawType)
		return domain.OutcomeIgnored, nil
	}

	bid, err := s.store.Bids().GetBidByPaymentRef(ctx, evt.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("Payment event for unknown bid", "event_id", evt.ID, "session_id", evt.SessionID, "auction_id", evt.AuctionID)
		return domain.OutcomeIgnored, nil
	}
	if err != nil {
		return "", asPersistenceError(err, "could not load bid")
	}

	if evt.AuctionID != "" && evt.AuctionID != bid.AuctionID {
		s.log.Warn("Payment event metadata does not match bid", "event_id", evt.ID, "event_auction_id", evt.AuctionID, "auction_id", bid.AuctionID)
	}

	switch evt.Kind {
	case domain.PaymentEventSucceeded:
		return s.applySuccess(ctx, evt, bid)
	case domain.PaymentEventFailed:
		if bid.PaymentStatus == domain.PaymentSucceeded {
			s.log.Warn("Failure event for settled bid", "event_id", evt.ID, "bid_id", bid.ID)
			return domain.OutcomeIgnored, nil
		}
		changed, err := s.failBid(ctx, evt.SessionID, "payment failed at provider")
		if err != nil {
			return "", err
		}
		if !changed {
			return domain.OutcomeDuplicate, nil
		}
		return domain.OutcomePaymentFailed, nil
	}
	return domain.OutcomeIgnored, nil
}

func (s *SettlementHandler) applySuccess(ctx context.Context, evt *domain.PaymentEvent, bid *domain.Bid) (domain.SettlementOutcome, error) {
	if bid.PaymentStatus == domain.PaymentSucceeded {
		s.log.Info("Duplicate payment success", "event_id", evt.ID, "bid_id", bid.ID)
		return domain.OutcomeDuplicate, nil
	}

	var (
		outcome   domain.SettlementOutcome
		completed *domain.Auction
		winning   *domain.Bid
		released  []string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		auction, err := tx.Auctions().GetAuctionForUpdate(ctx, bid.AuctionID)
		if err != nil {
			return err
		}
		current, err := tx.Bids().GetBidByPaymentRefForUpdate(ctx, evt.SessionID)
		if err != nil {
			return err
		}
		if current.PaymentStatus == domain.PaymentSucceeded {
			outcome = domain.OutcomeDuplicate
			return nil
		}
		// A superseded bidder never wins, even if their hold got captured.
		if current.PaymentStatus == domain.PaymentCancelled {
			outcome = domain.OutcomeSettlementFailed
			return tx.Activity().LogActivity(ctx, newActivity(auction.ID, current.BidderID, domain.ActivitySettlementAnomaly, map[string]string{
				"bid_id":   current.ID,
				"event_id": evt.ID,
				"reason":   "payment succeeded for a superseded bid",
			}))
		}

		if err := tx.Bids().UpdateBidPaymentStatus(ctx, current.ID, domain.PaymentSucceeded); err != nil {
			return err
		}
		current.PaymentStatus = domain.PaymentSucceeded
		if err := tx.Activity().LogActivity(ctx, newActivity(auction.ID, current.BidderID, domain.ActivityPaymentSucceeded, map[string]string{
			"bid_id":   current.ID,
			"event_id": evt.ID,
		})); err != nil {
			return err
		}

		if auction.HasWinner() && auction.WinnerID != current.BidderID {
			outcome = domain.OutcomeSettlementFailed
			return tx.Activity().LogActivity(ctx, newActivity(auction.ID, current.BidderID, domain.ActivitySettlementAnomaly, map[string]string{
				"bid_id":    current.ID,
				"winner_id": auction.WinnerID,
				"reason":    "auction already settled for another bidder",
			}))
		}

		if auction.Status != domain.AuctionCompleted {
			if !auction.Status.CanTransitionTo(domain.AuctionCompleted) {
				outcome = domain.OutcomeSettlementFailed
				return tx.Activity().LogActivity(ctx, newActivity(auction.ID, current.BidderID, domain.ActivitySettlementAnomaly, map[string]string{
					"bid_id": current.ID,
					"status": auction.Status.String(),
					"reason": "payment succeeded for an auction that cannot complete",
				}))
			}
			auction.Status = domain.AuctionCompleted
			auction.WinnerID = current.BidderID
			auction.FinalPrice = decimal.NewNullDecimal(current.Amount)
			auction.UpdatedAt = s.now()
			if err := tx.Auctions().UpdateAuction(ctx, auction); err != nil {
				return err
			}
			if err := tx.Activity().LogActivity(ctx, newActivity(auction.ID, current.BidderID, domain.ActivityAuctionCompleted, map[string]string{
				"bid_id":      current.ID,
				"final_price": current.Amount.StringFixed(2),
			})); err != nil {
				return err
			}
		}

		// Losing holds still open at this point are released.
		bids, err := tx.Bids().ListBidsByAuction(ctx, auction.ID)
		if err != nil {
			return err
		}
		for _, other := range bids {
			if other.ID == current.ID || other.PaymentStatus != domain.PaymentPending {
				continue
			}
			if err := tx.Bids().UpdateBidPaymentStatus(ctx, other.ID, domain.PaymentCancelled); err != nil {
				return err
			}
			released = append(released, other.PaymentRef)
		}

		outcome = domain.OutcomeSettled
		completed = auction
		winning = current
		return nil
	})
	if err != nil {
		return "", asPersistenceError(err, "could not apply payment success")
	}

	for _, ref := range released {
		s.holds.ReleaseDetached(ref, "auction settled")
	}

	switch outcome {
	case domain.OutcomeDuplicate:
		s.log.Info("Duplicate payment success", "event_id", evt.ID, "bid_id", bid.ID)
	case domain.OutcomeSettlementFailed:
		s.log.Error("Settlement anomaly", "event_id", evt.ID, "bid_id", bid.ID, "auction_id", bid.AuctionID)
	case domain.OutcomeSettled:
		if err := s.createOrder(ctx, completed, winning); err != nil {
			s.log.Error("Failed to create order; queueing", "auction_id", completed.ID, "error", err)
			s.tasks.Enqueue(ctx, domain.TaskCreateOrder, completed.ID, map[string]string{"bid_id": winning.ID})
		}
		s.log.Info("Auction settled", "auction_id", completed.ID, "winner_id", completed.WinnerID, "final_price", winning.Amount.String())
		s.publish(ctx, &domain.AuctionEvent{
			Type:      domain.EventAuctionSettled,
			AuctionID: completed.ID,
			UserID:    completed.WinnerID,
			Amount:    winning.Amount,
			BidCount:  completed.BidCount,
			Timestamp: s.now(),
		})
	}
	return outcome, nil
}

// failBid marks the bid behind paymentRef failed. It reports whether the
// status changed; the next pending bid is promoted when policy allows.
func (s *SettlementHandler) failBid(ctx context.Context, paymentRef, reason string) (bool, error) {
	var (
		changed bool
		auction *domain.Auction
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		// Auction row first, then bid, the same order as applySuccess.
		ref, err := tx.Bids().GetBidByPaymentRef(ctx, paymentRef)
		if err != nil {
			return err
		}
		auction, err = tx.Auctions().GetAuctionForUpdate(ctx, ref.AuctionID)
		if err != nil {
			return err
		}
		bid, err := tx.Bids().GetBidByPaymentRefForUpdate(ctx, paymentRef)
		if err != nil {
			return err
		}
		if bid.PaymentStatus == domain.PaymentFailed || bid.PaymentStatus == domain.PaymentSucceeded {
			return nil
		}
		if err := tx.Bids().UpdateBidPaymentStatus(ctx, bid.ID, domain.PaymentFailed); err != nil {
			return err
		}
		changed = true
		return tx.Activity().LogActivity(ctx, newActivity(bid.AuctionID, bid.BidderID, domain.ActivityPaymentFailed, map[string]string{
			"bid_id": bid.ID,
			"reason": reason,
		}))
	})
	if err != nil {
		return false, asPersistenceError(err, "could not record payment failure")
	}
	if !changed {
		return false, nil
	}

	s.log.Warn("Bid payment failed", "auction_id", auction.ID, "payment_ref", paymentRef, "reason", reason)
	if s.cfg.PromoteNextBidOnFailure && auction.Status == domain.AuctionEnded && !auction.HasWinner() {
		if err := s.promoteNext(ctx, auction.ID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *SettlementHandler) promoteNext(ctx context.Context, auctionID string) error {
	next, err := s.store.Bids().HighestPendingBid(ctx, auctionID)
	if err != nil {
		return asPersistenceError(err, "could not load next bid")
	}
	if next == nil {
		s.log.Info("No remaining bids to promote", "auction_id", auctionID)
		return nil
	}
	s.log.Info("Promoting next highest bid", "auction_id", auctionID, "bid_id", next.ID, "amount", next.Amount.String())
	return s.captureWinner(ctx, auctionID, next)
}

// EnsureOrder creates the order for a completed auction if it is missing.
func (s *SettlementHandler) EnsureOrder(ctx context.Context, auctionID string) error {
	auction, err := s.store.Auctions().GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.Status != domain.AuctionCompleted || !auction.HasWinner() {
		return domain.NewError(domain.ErrInvalidState, "auction %s is not completed", auctionID)
	}

	bids, err := s.store.Bids().ListBidsByAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	for _, bid := range bids {
		if bid.BidderID == auction.WinnerID && bid.PaymentStatus == domain.PaymentSucceeded {
			return s.createOrder(ctx, auction, bid)
		}
	}
	return domain.NewError(domain.ErrNotFound, "winning bid not found for auction %s", auctionID)
}

func (s *SettlementHandler) createOrder(ctx context.Context, auction *domain.Auction, bid *domain.Bid) error {
	if _, err := s.store.Orders().GetOrderByAuction(ctx, auction.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	fee := bid.Amount.Mul(s.cfg.PlatformFeeRate).Round(2)
	order := &domain.Order{
		ID:           uuid.NewString(),
		AuctionID:    auction.ID,
		BuyerID:      bid.BidderID,
		SellerID:     auction.OwnerID,
		Amount:       bid.Amount,
		PlatformFee:  fee,
		SellerAmount: bid.Amount.Sub(fee),
		PaymentRef:   bid.PaymentRef,
		Status:       domain.OrderPendingMeeting,
		Metadata: map[string]string{
			"bid_id":        bid.ID,
			"auction_title": auction.Title,
		},
		CreatedAt: s.now(),
	}

	if err := s.store.Orders().CreateOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}
	s.log.Info("Order created", "order_id", order.ID, "auction_id", auction.ID, "amount", order.Amount.String())
	return nil
}

func (s *SettlementHandler) publish(ctx context.Context, event *domain.AuctionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAuctionEvent(ctx, event); err != nil {
		s.log.Warn("Failed to publish auction event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
	}
}
