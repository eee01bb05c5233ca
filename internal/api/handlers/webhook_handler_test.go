package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
	"timebid/internal/domain/mocks"
	"timebid/pkg/logger"
)

type stubSettlement struct {
	outcome domain.SettlementOutcome
	err     error
	got     []*domain.PaymentEvent
}

func (s *stubSettlement) HandlePaymentEvent(ctx context.Context, evt *domain.PaymentEvent) (domain.SettlementOutcome, error) {
	s.got = append(s.got, evt)
	return s.outcome, s.err
}

type queued struct {
	kind      domain.TaskKind
	reference string
	payload   map[string]string
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queued
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind domain.TaskKind, reference string, payload map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queued{kind: kind, reference: reference, payload: payload})
}

func postWebhook(e *echo.Echo, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newWebhookServer(parser domain.PaymentEventParser, settlement PaymentEventHandler, tasks TaskEnqueuer) *echo.Echo {
	e := echo.New()
	NewWebhookHandler(parser, settlement, tasks, logger.NewNop()).Register(e.Group("/api/v1"))
	return e
}

func TestWebhookRejectsUnverifiedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	parser := mocks.NewMockPaymentEventParser(ctrl)
	parser.EXPECT().ParseEvent([]byte(`{}`), "t=1,v1=bad").
		Return(nil, domain.NewError(domain.ErrInvalidInput, "invalid webhook signature or payload"))

	settlement := &stubSettlement{}
	rec := postWebhook(newWebhookServer(parser, settlement, &recordingQueue{}), `{}`, "t=1,v1=bad")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, settlement.got)
}

func TestWebhookAcknowledgesOutcomes(t *testing.T) {
	for _, outcome := range []domain.SettlementOutcome{
		domain.OutcomeSettled, domain.OutcomeDuplicate, domain.OutcomeIgnored, domain.OutcomePaymentFailed,
	} {
		t.Run(string(outcome), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			parser := mocks.NewMockPaymentEventParser(ctrl)
			evt := &domain.PaymentEvent{ID: "evt_1", Kind: domain.PaymentEventSucceeded, SessionID: "pi_1"}
			parser.EXPECT().ParseEvent(gomock.Any(), "sig").Return(evt, nil)

			settlement := &stubSettlement{outcome: outcome}
			queue := &recordingQueue{}
			rec := postWebhook(newWebhookServer(parser, settlement, queue), `{"id":"evt_1"}`, "sig")

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), string(outcome))
			require.Len(t, settlement.got, 1)
			assert.Same(t, evt, settlement.got[0])
			assert.Empty(t, queue.tasks)
		})
	}
}

func TestWebhookQueuesReplayOnInternalError(t *testing.T) {
	ctrl := gomock.NewController(t)
	parser := mocks.NewMockPaymentEventParser(ctrl)
	evt := &domain.PaymentEvent{
		ID:        "evt_9",
		Kind:      domain.PaymentEventSucceeded,
		RawType:   "payment_intent.succeeded",
		SessionID: "pi_9",
		AuctionID: "a1",
	}
	parser.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(evt, nil)

	settlement := &stubSettlement{err: domain.WrapError(domain.ErrPersistence, errors.New("deadlock"), "could not settle")}
	queue := &recordingQueue{}
	rec := postWebhook(newWebhookServer(parser, settlement, queue), `{"id":"evt_9"}`, "sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, domain.TaskReplayPaymentEvent, queue.tasks[0].kind)
	assert.Equal(t, "evt_9", queue.tasks[0].reference)
	assert.Equal(t, "pi_9", queue.tasks[0].payload["session_id"])
	assert.Equal(t, string(domain.PaymentEventSucceeded), queue.tasks[0].payload["kind"])
}

// A sandbox capture delivered through the real settlement path completes
// the auction exactly once.
func TestWebhookSettlesThroughSandbox(t *testing.T) {
	f := newFixture(t)
	created := f.createAuction(t, "10")
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/bids", "alice-1", `{"auction_id":"`+created.ID+`","amount":20}`).Code)

	// Bidding closed; the winner's capture is what the provider reports.
	ctx := context.Background()
	auction, err := f.store.Auctions().GetAuction(ctx, created.ID)
	require.NoError(t, err)
	auction.Status = domain.AuctionEnded
	require.NoError(t, f.store.Auctions().UpdateAuction(ctx, auction))

	var events []domain.PaymentEvent
	f.gateway.OnEvent = func(evt domain.PaymentEvent) { events = append(events, evt) }

	bids, err := f.store.Bids().ListBidsByAuction(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	_, err = f.gateway.CaptureHold(ctx, bids[0].PaymentRef)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ctrl := gomock.NewController(t)
	parser := mocks.NewMockPaymentEventParser(ctrl)
	parser.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&events[0], nil).Times(2)
	e := newWebhookServer(parser, f.settlement, &recordingQueue{})

	rec := postWebhook(e, `{}`, "sig")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.OutcomeSettled))

	rec = postWebhook(e, `{}`, "sig")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.OutcomeDuplicate))

	order, err := f.store.Orders().GetOrderByAuction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice-1", order.BuyerID)
	assert.Equal(t, "2.00", order.PlatformFee.StringFixed(2))
}
