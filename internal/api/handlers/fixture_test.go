package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"timebid/internal/api/middleware"
	"timebid/internal/domain"
	"timebid/internal/infrastructure/memory"
	"timebid/internal/infrastructure/payment/sandbox"
	"timebid/internal/services"
	"timebid/pkg/logger"
)

type nopPublisher struct{}

func (nopPublisher) PublishAuctionEvent(ctx context.Context, event *domain.AuctionEvent) error {
	return nil
}

type fixture struct {
	e          *echo.Echo
	store      *memory.Store
	gateway    *sandbox.Gateway
	manager    *services.AuctionManager
	settlement *services.SettlementHandler
}

// newFixture wires the real services over the in-memory store and the
// sandbox provider.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore()
	gateway := sandbox.NewGateway(log)

	validator := services.NewBidValidator()
	tasks := services.NewTaskQueue(store.Reconciliation(), log)
	holds := services.NewHoldManager(gateway, tasks, "usd", time.Second, log)
	updater := services.NewAuctionStateUpdater(store, validator, true, log)
	bids := services.NewBidService(store, validator, holds, updater, nopPublisher{}, log)
	settlement := services.NewSettlementHandler(store, holds, tasks, memory.NewLocker(), nopPublisher{}, services.SettlementConfig{
		PlatformFeeRate: decimal.RequireFromString("0.10"),
	}, log)
	manager := services.NewAuctionManager(store, settlement, nopPublisher{}, nil, "test", 10, log)

	e := echo.New()
	e.Use(middleware.Identity())
	v1 := e.Group("/api/v1")
	NewBidHandler(bids, log).Register(v1)
	NewAuctionHandler(manager, log).Register(v1)

	return &fixture{
		e:          e,
		store:      store,
		gateway:    gateway,
		manager:    manager,
		settlement: settlement,
	}
}

func (f *fixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	return serve(f.e, method, path, userID, body)
}

func serve(e *echo.Echo, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// createAuction opens an hour-long auction owned by "seller".
func (f *fixture) createAuction(t *testing.T, startingPrice string) AuctionResponse {
	t.Helper()
	body := `{"title":"Portfolio review","starting_price":` + startingPrice +
		`,"end_time":"` + time.Now().Add(time.Hour).UTC().Format(time.RFC3339) + `"}`
	rec := f.do(http.MethodPost, "/api/v1/auctions", "seller", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}
