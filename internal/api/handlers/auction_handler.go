package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"timebid/internal/api/middleware"
	"timebid/internal/domain"
	"timebid/internal/services"
	"timebid/pkg/logger"
)

type AuctionService interface {
	CreateAuction(ctx context.Context, in services.CreateAuctionInput) (*domain.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error)
	CancelAuction(ctx context.Context, auctionID, callerID string) (*domain.Auction, error)
	DeleteAuction(ctx context.Context, auctionID, callerID string) error
}

type AuctionHandler struct {
	auctions AuctionService
	log      logger.Logger
}

type CreateAuctionRequest struct {
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	StartingPrice json.Number `json:"starting_price"`
	StartTime     *time.Time  `json:"start_time,omitempty"`
	EndTime       time.Time   `json:"end_time"`
}

type AuctionResponse struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	StartingPrice     string     `json:"starting_price"`
	CurrentHighestBid string     `json:"current_highest_bid"`
	BidCount          int        `json:"bid_count"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	WinnerID          string     `json:"winner_id,omitempty"`
	FinalPrice        string     `json:"final_price,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

func NewAuctionHandler(auctions AuctionService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		log:      log,
	}
}

func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction, middleware.RequireIdentity())
	g.GET("/auctions/:id", h.GetAuction)
	g.POST("/auctions/:id/cancel", h.CancelAuction, middleware.RequireIdentity())
	g.DELETE("/auctions/:id", h.DeleteAuction, middleware.RequireIdentity())
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	startingPrice := decimal.Zero
	if req.StartingPrice != "" {
		p, err := decimal.NewFromString(req.StartingPrice.String())
		if err != nil {
			return badRequest(c, "starting_price must be a number")
		}
		startingPrice = p
	}

	in := services.CreateAuctionInput{
		OwnerID:       middleware.UserID(c),
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: startingPrice,
		EndTime:       req.EndTime,
	}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}

	auction, err := h.auctions.CreateAuction(c.Request().Context(), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("Auction created via API", "auction_id", auction.ID, "owner_id", auction.OwnerID)
	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auction, err := h.auctions.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toAuctionResponse(auction))
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	auction, err := h.auctions.CancelAuction(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toAuctionResponse(auction))
}

func (h *AuctionHandler) DeleteAuction(c echo.Context) error {
	if err := h.auctions.DeleteAuction(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	resp := AuctionResponse{
		ID:                a.ID,
		OwnerID:           a.OwnerID,
		Title:             a.Title,
		Description:       a.Description,
		StartingPrice:     a.StartingPrice.StringFixed(2),
		CurrentHighestBid: a.CurrentHighestBid.StringFixed(2),
		BidCount:          a.BidCount,
		Status:            a.Status.String(),
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		WinnerID:          a.WinnerID,
		CreatedAt:         a.CreatedAt,
	}
	if a.FinalPrice.Valid {
		resp.FinalPrice = a.FinalPrice.Decimal.StringFixed(2)
	}
	if !a.UpdatedAt.IsZero() {
		updated := a.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
