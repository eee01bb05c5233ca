package services

import (
	"context"
	"fmt"
	"time"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// EventListener relays coordinator events to websocket watchers and keeps
// the price snapshot cache current.
type EventListener struct {
	priceCache        domain.PriceCache
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(priceCache domain.PriceCache, connectionManager domain.ConnectionManager, log logger.Logger) *EventListener {
	return &EventListener{
		priceCache:        priceCache,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, el.HandleEvent)
}

func (el *EventListener) HandleEvent(event *domain.AuctionEvent) error {
	el.log.Debug("Handling auction event", "type", event.Type, "auction_id", event.AuctionID)

	switch event.Type {
	case domain.EventBidUpdate:
		return el.handleBidUpdate(event)
	case domain.EventAuctionActivated:
		return el.updateSnapshot(event, domain.AuctionActive)
	case domain.EventAuctionClosed:
		return el.handleAuctionClosed(event)
	case domain.EventAuctionSettled:
		return el.handleAuctionSettled(event)
	case domain.EventAuctionCancelled:
		if err := el.updateSnapshot(event, domain.AuctionCancelled); err != nil {
			el.log.Warn("Failed to update price snapshot", "auction_id", event.AuctionID, "error", err)
		}
		if err := el.connectionManager.BroadcastToAuction(event.AuctionID, map[string]interface{}{
			"type":      "auction_cancelled",
			"timestamp": event.Timestamp,
		}); err != nil {
			el.log.Warn("Failed to broadcast auction cancelled event", "auction_id", event.AuctionID, "error", err)
		}
		return el.connectionManager.CloseAndUnregisterConnections(event.AuctionID)
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) handleBidUpdate(event *domain.AuctionEvent) error {
	if err := el.updateSnapshot(event, domain.AuctionActive); err != nil {
		el.log.Warn("Failed to update price snapshot", "auction_id", event.AuctionID, "error", err)
	}

	return el.connectionManager.BroadcastToAuction(event.AuctionID, map[string]interface{}{
		"type":        "bid_update",
		"current_bid": event.Amount.StringFixed(2),
		"bid_count":   event.BidCount,
		"timestamp":   event.Timestamp,
	})
}

func (el *EventListener) handleAuctionClosed(event *domain.AuctionEvent) error {
	if err := el.updateSnapshot(event, domain.AuctionEnded); err != nil {
		el.log.Warn("Failed to update price snapshot", "auction_id", event.AuctionID, "error", err)
	}

	return el.connectionManager.BroadcastToAuction(event.AuctionID, map[string]interface{}{
		"type":      "auction_closed",
		"final_bid": event.Amount.StringFixed(2),
		"bid_count": event.BidCount,
		"timestamp": event.Timestamp,
	})
}

func (el *EventListener) handleAuctionSettled(event *domain.AuctionEvent) error {
	if err := el.updateSnapshot(event, domain.AuctionCompleted); err != nil {
		el.log.Warn("Failed to update price snapshot", "auction_id", event.AuctionID, "error", err)
	}

	// Final broadcast, then nothing else will happen on this auction.
	if err := el.connectionManager.BroadcastToAuction(event.AuctionID, map[string]interface{}{
		"type":        "auction_settled",
		"final_price": event.Amount.StringFixed(2),
		"timestamp":   event.Timestamp,
	}); err != nil {
		el.log.Error("Failed to broadcast auction settled event", "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}

func (el *EventListener) updateSnapshot(event *domain.AuctionEvent, status domain.AuctionStatus) error {
	if el.priceCache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := el.priceCache.StoreSnapshot(ctx, &domain.PriceSnapshot{
		AuctionID:   event.AuctionID,
		CurrentBid:  event.Amount,
		BidCount:    event.BidCount,
		Status:      status.String(),
		LastUpdated: event.Timestamp,
	})
	return err
}
