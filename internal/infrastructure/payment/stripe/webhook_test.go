package stripe

import (
	"testing"

	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testSecret,
	})
	return signed.Header, signed.Payload
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		kind      domain.PaymentEventKind
		sessionID string
		auctionID string
		amount    string
	}{
		{
			name: "payment intent succeeded",
			payload: `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2023-10-16",
				"data":{"object":{"id":"pi_1","object":"payment_intent","amount":8000,
				"metadata":{"auction_id":"a1","bidder_id":"u1","amount":"80.00"}}}}`,
			kind:      domain.PaymentEventSucceeded,
			sessionID: "pi_1",
			auctionID: "a1",
			amount:    "80",
		},
		{
			name: "payment intent failed",
			payload: `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","api_version":"2023-10-16",
				"data":{"object":{"id":"pi_2","object":"payment_intent","amount":1250,"metadata":{}}}}`,
			kind:      domain.PaymentEventFailed,
			sessionID: "pi_2",
			amount:    "12.5",
		},
		{
			name: "checkout session completed",
			payload: `{"id":"evt_3","object":"event","type":"checkout.session.completed","api_version":"2023-10-16",
				"data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_3","amount_total":500,
				"metadata":{"auction_id":"a3","bidder_id":"u3"}}}}`,
			kind:      domain.PaymentEventSucceeded,
			sessionID: "pi_3",
			auctionID: "a3",
			amount:    "5",
		},
		{
			name:    "unrelated event",
			payload: `{"id":"evt_4","object":"event","type":"customer.created","api_version":"2023-10-16","data":{"object":{"id":"cus_1"}}}`,
			kind:    domain.PaymentEventOther,
		},
	}

	parser := NewEventParser(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := sign(t, tt.payload)

			evt, err := parser.ParseEvent(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, evt.Kind)
			assert.Equal(t, tt.sessionID, evt.SessionID)
			assert.Equal(t, tt.auctionID, evt.AuctionID)
			if tt.amount != "" {
				require.True(t, evt.Amount.Valid)
				assert.Equal(t, tt.amount, evt.Amount.Decimal.String())
			}
		})
	}
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	header, body := sign(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	_, err := NewEventParser("whsec_other").ParseEvent(body, header)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewEventParser(testSecret).ParseEvent([]byte("not json"), "t=1,v1=deadbeef")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
