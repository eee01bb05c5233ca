package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// intentAPI is the subset of the PaymentIntents client the gateway uses.
type intentAPI interface {
	New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Get(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Capture(id string, params *stripeapi.PaymentIntentCaptureParams) (*stripeapi.PaymentIntent, error)
	Cancel(id string, params *stripeapi.PaymentIntentCancelParams) (*stripeapi.PaymentIntent, error)
}

type Gateway struct {
	intents  intentAPI
	currency string
	// confirmWith, when set, is a payment method every hold is confirmed
	// with on creation. Otherwise the bidder confirms using the client secret.
	confirmWith string
	log         logger.Logger
}

func NewGateway(secretKey, currency, confirmWith string, log logger.Logger) *Gateway {
	sc := client.New(secretKey, nil)
	g := newGateway(sc.PaymentIntents, currency, log)
	g.confirmWith = confirmWith
	return g
}

func newGateway(intents intentAPI, currency string, log logger.Logger) *Gateway {
	return &Gateway{intents: intents, currency: currency, log: log}
}

// CreateHold opens a manual-capture PaymentIntent; funds are authorized
// once the client confirms it and stay uncaptured until CaptureHold.
func (g *Gateway) CreateHold(ctx context.Context, req domain.HoldRequest) (*domain.Hold, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}

	minor, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(minor),
		Currency:      stripeapi.String(currency),
		CaptureMethod: stripeapi.String(string(stripeapi.PaymentIntentCaptureMethodManual)),
		Description:   stripeapi.String(fmt.Sprintf("Bid on auction %s", req.AuctionID)),
	}
	if g.confirmWith != "" {
		params.PaymentMethod = stripeapi.String(g.confirmWith)
		params.Confirm = stripeapi.Bool(true)
		params.PaymentMethodTypes = stripeapi.StringSlice([]string{"card"})
	}
	params.Context = ctx
	params.AddMetadata("auction_id", req.AuctionID)
	params.AddMetadata("bidder_id", req.BidderID)
	params.AddMetadata("amount", req.Amount.StringFixed(2))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be created")
	}
	if g.confirmWith != "" && pi.Status != stripeapi.PaymentIntentStatusRequiresCapture {
		g.log.Warn("Hold not authorized on confirm", "hold_ref", pi.ID, "status", pi.Status)
		g.cancelUnauthorized(ctx, pi.ID)
		return nil, domain.NewError(domain.ErrPayment, "payment hold was not authorized")
	}
	return toHold(pi), nil
}

func (g *Gateway) CaptureHold(ctx context.Context, holdRef string) (*domain.Hold, error) {
	params := &stripeapi.PaymentIntentCaptureParams{}
	params.Context = ctx

	pi, err := g.intents.Capture(holdRef, params)
	if err == nil {
		return toHold(pi), nil
	}
	if !isUnexpectedState(err) {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment capture failed")
	}

	current, getErr := g.get(ctx, holdRef)
	if getErr != nil {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment capture failed")
	}
	if current.Status == stripeapi.PaymentIntentStatusSucceeded {
		g.log.Info("hold already captured", "hold_ref", holdRef)
		return toHold(current), nil
	}
	return nil, domain.WrapError(domain.ErrPayment, err, "payment capture failed: intent is %s", current.Status)
}

func (g *Gateway) CancelHold(ctx context.Context, holdRef string) (*domain.Hold, error) {
	params := &stripeapi.PaymentIntentCancelParams{
		CancellationReason: stripeapi.String(string(stripeapi.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	pi, err := g.intents.Cancel(holdRef, params)
	if err == nil {
		return toHold(pi), nil
	}
	if !isUnexpectedState(err) {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be cancelled")
	}

	// Already cancelled or already captured both leave nothing to release.
	current, getErr := g.get(ctx, holdRef)
	if getErr != nil {
		return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be cancelled")
	}
	switch current.Status {
	case stripeapi.PaymentIntentStatusCanceled, stripeapi.PaymentIntentStatusSucceeded:
		return toHold(current), nil
	}
	return nil, domain.WrapError(domain.ErrPayment, err, "payment hold could not be cancelled: intent is %s", current.Status)
}

func (g *Gateway) cancelUnauthorized(ctx context.Context, id string) {
	if _, err := g.CancelHold(ctx, id); err != nil {
		g.log.Warn("Failed to cancel unauthorized hold", "hold_ref", id, "error", err)
	}
}

func (g *Gateway) get(ctx context.Context, id string) (*stripeapi.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	return g.intents.Get(id, params)
}

func isUnexpectedState(err error) bool {
	var serr *stripeapi.Error
	return errors.As(err, &serr) && serr.Code == stripeapi.ErrorCodePaymentIntentUnexpectedState
}

func toHold(pi *stripeapi.PaymentIntent) *domain.Hold {
	state := domain.HoldOpen
	switch pi.Status {
	case stripeapi.PaymentIntentStatusSucceeded:
		state = domain.HoldCaptured
	case stripeapi.PaymentIntentStatusCanceled:
		state = domain.HoldCancelled
	}
	return &domain.Hold{
		Ref:          pi.ID,
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
		State:        state,
		ClientSecret: pi.ClientSecret,
	}
}

// ToMinorUnits converts to cents, refusing amounts that would lose
// precision or leave the stored money range.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if err := domain.CheckAmountScale(amount); err != nil {
		return 0, err
	}
	return amount.Shift(domain.AmountPlaces).IntPart(), nil
}

func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
