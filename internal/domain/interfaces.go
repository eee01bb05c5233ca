package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks timebid/internal/domain PaymentGateway,PaymentEventParser,EventPublisher,Locker,LeaderElection

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// GetAuctionForUpdate locks the row for the rest of the enclosing transaction.
	GetAuctionForUpdate(ctx context.Context, auctionID string) (*Auction, error)
	UpdateAuction(ctx context.Context, auction *Auction) error
	DeleteAuction(ctx context.Context, auctionID string) error
	ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
}

type BidRepository interface {
	CreateBid(ctx context.Context, bid *Bid) error
	GetBidByPaymentRef(ctx context.Context, paymentRef string) (*Bid, error)
	GetBidByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*Bid, error)
	ListBidsByAuction(ctx context.Context, auctionID string) ([]*Bid, error)
	// HighestPendingBid returns nil, nil when the auction has no pending bid.
	HighestPendingBid(ctx context.Context, auctionID string) (*Bid, error)
	UpdateBidPaymentStatus(ctx context.Context, bidID string, status PaymentStatus) error
}

type OrderRepository interface {
	// CreateOrder returns ErrConflict when the auction already has an order.
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByAuction(ctx context.Context, auctionID string) (*Order, error)
}

type ActivityRepository interface {
	LogActivity(ctx context.Context, entry *ActivityLog) error
	ListActivity(ctx context.Context, auctionID string) ([]*ActivityLog, error)
}

type ReconciliationRepository interface {
	CreateTask(ctx context.Context, task *ReconciliationTask) error
	GetPendingTasks(ctx context.Context, before time.Time, limit int) ([]*ReconciliationTask, error)
	UpdateTask(ctx context.Context, task *ReconciliationTask) error
}

type Repositories interface {
	Auctions() AuctionRepository
	Bids() BidRepository
	Orders() OrderRepository
	Activity() ActivityRepository
	Reconciliation() ReconciliationRepository
}

// Store is the transactional datastore. Repositories handed to fn share
// one transaction; fn returning an error rolls it back.
type Store interface {
	Repositories
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// Payment interfaces
type PaymentGateway interface {
	CreateHold(ctx context.Context, req HoldRequest) (*Hold, error)
	CaptureHold(ctx context.Context, holdRef string) (*Hold, error)
	CancelHold(ctx context.Context, holdRef string) (*Hold, error)
}

type PaymentEventParser interface {
	ParseEvent(payload []byte, signature string) (*PaymentEvent, error)
}

// Cache interfaces
type PriceCache interface {
	// StoreSnapshot keeps the snapshot only if it is not older than the cached one.
	StoreSnapshot(ctx context.Context, snapshot *PriceSnapshot) (bool, error)
	GetSnapshot(ctx context.Context, auctionID string) (*PriceSnapshot, error)
}

// Locker serializes work on one key across instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Event interfaces
type EventPublisher interface {
	PublishAuctionEvent(ctx context.Context, event *AuctionEvent) error
}

type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *AuctionEvent) error

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	ID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(conn WebSocketConnection) error
	UnregisterConnection(conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
