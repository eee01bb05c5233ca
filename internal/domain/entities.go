package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are stored as DECIMAL(12,2).
const AmountPlaces = 2

var MaxAmount = decimal.RequireFromString("9999999999.99")

// CheckAmountScale reports whether amount fits the stored money column
// without rounding.
func CheckAmountScale(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(AmountPlaces)) {
		return NewError(ErrInvalidInput, "amount must have at most %d decimal places", AmountPlaces)
	}
	if amount.GreaterThan(MaxAmount) {
		return NewError(ErrInvalidInput, "amount must not exceed %s", MaxAmount.StringFixed(AmountPlaces))
	}
	return nil
}

type Auction struct {
	ID                string
	OwnerID           string
	Title             string
	Description       string
	StartingPrice     decimal.Decimal
	CurrentHighestBid decimal.Decimal
	BidCount          int
	Status            AuctionStatus
	StartTime         time.Time
	EndTime           time.Time
	WinnerID          string
	FinalPrice        decimal.NullDecimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Floor is the amount a new bid must strictly exceed.
func (a *Auction) Floor() decimal.Decimal {
	if a.BidCount == 0 {
		return a.StartingPrice
	}
	return a.CurrentHighestBid
}

func (a *Auction) HasWinner() bool {
	return a.WinnerID != ""
}

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCompleted
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCompleted:
		return "completed"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func ParseAuctionStatus(s string) (AuctionStatus, bool) {
	switch s {
	case "pending":
		return AuctionPending, true
	case "active":
		return AuctionActive, true
	case "ended":
		return AuctionEnded, true
	case "completed":
		return AuctionCompleted, true
	case "cancelled":
		return AuctionCancelled, true
	default:
		return AuctionPending, false
	}
}

func (s AuctionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CanTransitionTo reports whether moving from s to next respects the
// monotone lifecycle.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionPending:
		return next == AuctionActive || next == AuctionCancelled
	case AuctionActive:
		return next == AuctionEnded || next == AuctionCompleted || next == AuctionCancelled
	case AuctionEnded:
		return next == AuctionCompleted
	default:
		return false
	}
}

type Bid struct {
	ID            string
	AuctionID     string
	BidderID      string
	Amount        decimal.Decimal
	PaymentRef    string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// ClientSecret lets the bidder confirm the hold with the provider.
	// It is handed back once on placement and never stored.
	ClientSecret string
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type OrderStatus string

const OrderPendingMeeting OrderStatus = "pending_meeting"

type Order struct {
	ID           string
	AuctionID    string
	BuyerID      string
	SellerID     string
	Amount       decimal.Decimal
	PlatformFee  decimal.Decimal
	SellerAmount decimal.Decimal
	PaymentRef   string
	Status       OrderStatus
	Metadata     map[string]string
	CreatedAt    time.Time
}

type ActivityAction string

const (
	ActivityBidPlaced         ActivityAction = "bid_placed"
	ActivityHoldSuperseded    ActivityAction = "hold_superseded"
	ActivityAuctionCreated    ActivityAction = "auction_created"
	ActivityAuctionActivated  ActivityAction = "auction_activated"
	ActivityAuctionCancelled  ActivityAction = "auction_cancelled"
	ActivityAuctionClosed     ActivityAction = "auction_closed"
	ActivityPaymentCaptured   ActivityAction = "payment_captured"
	ActivityPaymentSucceeded  ActivityAction = "payment_succeeded"
	ActivityPaymentFailed     ActivityAction = "payment_failed"
	ActivityAuctionCompleted  ActivityAction = "auction_completed"
	ActivitySettlementAnomaly ActivityAction = "settlement_anomaly"
)

type ActivityLog struct {
	ID        string
	AuctionID string
	ActorID   string
	Action    ActivityAction
	Details   map[string]string
	CreatedAt time.Time
}

// HoldState mirrors the provider-side lifecycle of a manual-capture hold.
type HoldState string

const (
	HoldOpen      HoldState = "open"
	HoldCaptured  HoldState = "captured"
	HoldCancelled HoldState = "cancelled"
)

type HoldRequest struct {
	AuctionID      string
	BidderID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type Hold struct {
	Ref          string
	Amount       decimal.Decimal
	Currency     string
	State        HoldState
	ClientSecret string
}

type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "payment_succeeded"
	PaymentEventFailed    PaymentEventKind = "payment_failed"
	PaymentEventOther     PaymentEventKind = "other"
)

// PaymentEvent is the provider-neutral form of an inbound payment webhook.
type PaymentEvent struct {
	ID        string
	Kind      PaymentEventKind
	RawType   string
	SessionID string
	AuctionID string
	BidderID  string
	Amount    decimal.NullDecimal
}

// SettlementOutcome is the result of applying one payment event.
type SettlementOutcome string

const (
	OutcomeSettled          SettlementOutcome = "settled"
	OutcomeDuplicate        SettlementOutcome = "duplicate"
	OutcomeIgnored          SettlementOutcome = "ignored"
	OutcomePaymentFailed    SettlementOutcome = "payment_failed"
	OutcomeSettlementFailed SettlementOutcome = "settlement_failed"
)

// PriceSnapshot is the cached view pushed to watchers on connect.
type PriceSnapshot struct {
	AuctionID   string          `json:"auction_id"`
	CurrentBid  decimal.Decimal `json:"current_bid"`
	BidCount    int             `json:"bid_count"`
	Status      string          `json:"status"`
	EndTime     time.Time       `json:"end_time"`
	LastUpdated time.Time       `json:"last_updated"`
}

type AuctionEvent struct {
	Type      AuctionEventType `json:"type"`
	AuctionID string           `json:"auction_id"`
	UserID    string           `json:"user_id,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	BidCount  int              `json:"bid_count,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type AuctionEventType string

const (
	EventBidUpdate        AuctionEventType = "bid_update"
	EventAuctionActivated AuctionEventType = "auction_activated"
	EventAuctionClosed    AuctionEventType = "auction_closed"
	EventAuctionSettled   AuctionEventType = "auction_settled"
	EventAuctionCancelled AuctionEventType = "auction_cancelled"
)
