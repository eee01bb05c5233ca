package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type fakeIntents struct {
	created   *stripeapi.PaymentIntentParams
	// status an intent lands in when confirmed on creation
	confirmStatus stripeapi.PaymentIntentStatus
	intents   map[string]*stripeapi.PaymentIntent
	cancelErr error
	capErr    error
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{intents: make(map[string]*stripeapi.PaymentIntent)}
}

func (f *fakeIntents) New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	f.created = params
	pi := &stripeapi.PaymentIntent{
		ID:           "pi_123",
		Amount:       *params.Amount,
		Currency:     stripeapi.Currency(*params.Currency),
		Status:       stripeapi.PaymentIntentStatusRequiresPaymentMethod,
		ClientSecret: "pi_123_secret_abc",
	}
	if params.Confirm != nil && *params.Confirm {
		pi.Status = f.confirmStatus
		if pi.Status == "" {
			pi.Status = stripeapi.PaymentIntentStatusRequiresCapture
		}
	}
	f.intents[pi.ID] = pi
	return pi, nil
}

func (f *fakeIntents) Get(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	pi, ok := f.intents[id]
	if !ok {
		return nil, &stripeapi.Error{Code: stripeapi.ErrorCodeResourceMissing}
	}
	return pi, nil
}

func (f *fakeIntents) Capture(id string, params *stripeapi.PaymentIntentCaptureParams) (*stripeapi.PaymentIntent, error) {
	if f.capErr != nil {
		return nil, f.capErr
	}
	pi := f.intents[id]
	pi.Status = stripeapi.PaymentIntentStatusSucceeded
	return pi, nil
}

func (f *fakeIntents) Cancel(id string, params *stripeapi.PaymentIntentCancelParams) (*stripeapi.PaymentIntent, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	pi := f.intents[id]
	pi.Status = stripeapi.PaymentIntentStatusCanceled
	return pi, nil
}

func TestCreateHoldUsesManualCapture(t *testing.T) {
	fake := newFakeIntents()
	g := newGateway(fake, "usd", logger.NewNop())

	hold, err := g.CreateHold(context.Background(), domain.HoldRequest{
		AuctionID:      "a1",
		BidderID:       "u1",
		Amount:         decimal.RequireFromString("80.5"),
		IdempotencyKey: "bid-hold:a1:u1:80.5:n1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", hold.Ref)
	assert.Equal(t, domain.HoldOpen, hold.State)
	assert.Equal(t, int64(8050), *fake.created.Amount)
	assert.Equal(t, "manual", *fake.created.CaptureMethod)
	assert.Equal(t, "a1", fake.created.Metadata["auction_id"])
	assert.Equal(t, "80.50", fake.created.Metadata["amount"])
	assert.Equal(t, "bid-hold:a1:u1:80.5:n1", *fake.created.IdempotencyKey)
	assert.Equal(t, "pi_123_secret_abc", hold.ClientSecret, "bidder confirms with the client secret")
	assert.Nil(t, fake.created.Confirm)
}

func TestCreateHoldConfirmsWithPaymentMethod(t *testing.T) {
	fake := newFakeIntents()
	g := newGateway(fake, "usd", logger.NewNop())
	g.confirmWith = "pm_card_visa"

	hold, err := g.CreateHold(context.Background(), domain.HoldRequest{AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	assert.Equal(t, domain.HoldOpen, hold.State)
	assert.Equal(t, "pm_card_visa", *fake.created.PaymentMethod)
	assert.True(t, *fake.created.Confirm)

	// Once authorized the hold can be captured at close.
	captured, err := g.CaptureHold(context.Background(), hold.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCaptured, captured.State)
}

func TestCreateHoldDeclinedOnConfirm(t *testing.T) {
	fake := newFakeIntents()
	fake.confirmStatus = stripeapi.PaymentIntentStatusRequiresPaymentMethod
	g := newGateway(fake, "usd", logger.NewNop())
	g.confirmWith = "pm_card_chargeDeclined"

	_, err := g.CreateHold(context.Background(), domain.HoldRequest{AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromInt(20)})
	require.ErrorIs(t, err, domain.ErrPayment)
	assert.Equal(t, stripeapi.PaymentIntentStatusCanceled, fake.intents["pi_123"].Status, "unauthorized intent is cancelled")
}

func TestCancelHoldIsIdempotent(t *testing.T) {
	unexpected := &stripeapi.Error{Code: stripeapi.ErrorCodePaymentIntentUnexpectedState}

	tests := []struct {
		name      string
		status    stripeapi.PaymentIntentStatus
		cancelErr error
		wantState domain.HoldState
		wantErr   bool
	}{
		{name: "open hold", status: stripeapi.PaymentIntentStatusRequiresCapture, wantState: domain.HoldCancelled},
		{name: "already cancelled", status: stripeapi.PaymentIntentStatusCanceled, cancelErr: unexpected, wantState: domain.HoldCancelled},
		{name: "already captured", status: stripeapi.PaymentIntentStatusSucceeded, cancelErr: unexpected, wantState: domain.HoldCaptured},
		{name: "processing", status: stripeapi.PaymentIntentStatusProcessing, cancelErr: unexpected, wantErr: true},
		{name: "network", status: stripeapi.PaymentIntentStatusRequiresCapture, cancelErr: errors.New("timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeIntents()
			fake.intents["pi_1"] = &stripeapi.PaymentIntent{ID: "pi_1", Status: tt.status, Amount: 1000}
			fake.cancelErr = tt.cancelErr
			g := newGateway(fake, "usd", logger.NewNop())

			hold, err := g.CancelHold(context.Background(), "pi_1")
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrPayment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, hold.State)
		})
	}
}

func TestCaptureHoldAlreadyCaptured(t *testing.T) {
	fake := newFakeIntents()
	fake.intents["pi_1"] = &stripeapi.PaymentIntent{ID: "pi_1", Status: stripeapi.PaymentIntentStatusSucceeded, Amount: 1000}
	fake.capErr = &stripeapi.Error{Code: stripeapi.ErrorCodePaymentIntentUnexpectedState}
	g := newGateway(fake, "usd", logger.NewNop())

	hold, err := g.CaptureHold(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCaptured, hold.State)
	assert.Equal(t, "10", hold.Amount.String())
}

func TestMinorUnits(t *testing.T) {
	minor, err := ToMinorUnits(decimal.RequireFromString("123.45"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), minor)

	minor, err = ToMinorUnits(domain.MaxAmount)
	require.NoError(t, err)
	assert.Equal(t, int64(999999999999), minor)

	_, err = ToMinorUnits(decimal.RequireFromString("0.999"))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ToMinorUnits(decimal.RequireFromString("92233720368547758.09"))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, "1.5", FromMinorUnits(150).String())
}
