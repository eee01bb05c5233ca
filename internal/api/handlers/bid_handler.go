package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"timebid/internal/api/middleware"
	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*domain.Bid, error)
	ListBids(ctx context.Context, auctionID, callerID string) ([]*domain.Bid, error)
}

type BidHandler struct {
	bids BidService
	log  logger.Logger
}

// PlaceBidRequest takes amount as a JSON number or numeric string so that
// no float rounding happens before it becomes a decimal.
type PlaceBidRequest struct {
	AuctionID string      `json:"auction_id"`
	Amount    json.Number `json:"amount"`
}

type BidResponse struct {
	ID            string    `json:"id"`
	AuctionID     string    `json:"auction_id"`
	BidderID      string    `json:"bidder_id"`
	Amount        string    `json:"amount"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	ClientSecret  string    `json:"client_secret,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewBidHandler(bids BidService, log logger.Logger) *BidHandler {
	return &BidHandler{bids: bids, log: log}
}

func (h *BidHandler) Register(g *echo.Group) {
	g.POST("/bids", h.PlaceBid, middleware.RequireIdentity())
	g.GET("/bids", h.ListBids)
}

func (h *BidHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.AuctionID = strings.TrimSpace(req.AuctionID)
	if req.AuctionID == "" {
		return badRequest(c, "auction_id is required")
	}
	if req.Amount == "" {
		return badRequest(c, "amount is required")
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		return badRequest(c, "amount must be a number")
	}

	bid, err := h.bids.PlaceBid(c.Request().Context(), req.AuctionID, middleware.UserID(c), amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toBidResponse(bid))
}

func (h *BidHandler) ListBids(c echo.Context) error {
	auctionID := strings.TrimSpace(c.QueryParam("auction_id"))
	if auctionID == "" {
		return badRequest(c, "auction_id is required")
	}

	bids, err := h.bids.ListBids(c.Request().Context(), auctionID, middleware.UserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b))
	}
	return c.JSON(http.StatusOK, out)
}

func toBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		ID:            b.ID,
		AuctionID:     b.AuctionID,
		BidderID:      b.BidderID,
		Amount:        b.Amount.StringFixed(2),
		PaymentRef:    b.PaymentRef,
		PaymentStatus: string(b.PaymentStatus),
		ClientSecret:  b.ClientSecret,
		CreatedAt:     b.CreatedAt,
	}
}
