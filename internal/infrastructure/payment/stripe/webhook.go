package stripe

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"timebid/internal/domain"
)

// EventParser verifies Stripe-Signature headers and maps events onto
// domain.PaymentEvent.
type EventParser struct {
	secret string
}

func NewEventParser(webhookSecret string) *EventParser {
	return &EventParser{secret: webhookSecret}
}

func (p *EventParser) ParseEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, err, "invalid webhook signature or payload")
	}

	out := &domain.PaymentEvent{
		ID:      event.ID,
		Kind:    domain.PaymentEventOther,
		RawType: string(event.Type),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, err, "invalid payment intent payload")
		}
		out.Kind = domain.PaymentEventSucceeded
		if event.Type == "payment_intent.payment_failed" {
			out.Kind = domain.PaymentEventFailed
		}
		out.SessionID = pi.ID
		applyMetadata(out, pi.Metadata)
		if !out.Amount.Valid && pi.Amount > 0 {
			out.Amount = decimal.NewNullDecimal(FromMinorUnits(pi.Amount))
		}

	case "checkout.session.completed":
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, err, "invalid checkout session payload")
		}
		out.Kind = domain.PaymentEventSucceeded
		out.SessionID = session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			out.SessionID = session.PaymentIntent.ID
		}
		applyMetadata(out, session.Metadata)
		if !out.Amount.Valid && session.AmountTotal > 0 {
			out.Amount = decimal.NewNullDecimal(FromMinorUnits(session.AmountTotal))
		}
	}

	return out, nil
}

func applyMetadata(evt *domain.PaymentEvent, md map[string]string) {
	evt.AuctionID = md["auction_id"]
	evt.BidderID = md["bidder_id"]
	if raw, ok := md["amount"]; ok {
		if amount, err := decimal.NewFromString(raw); err == nil {
			evt.Amount = decimal.NewNullDecimal(amount)
		}
	}
}
