package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"timebid/internal/domain"
	"timebid/internal/services"
	"timebid/pkg/logger"
)

const maxWebhookBody = 64 << 10

type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, evt *domain.PaymentEvent) (domain.SettlementOutcome, error)
}

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind domain.TaskKind, reference string, payload map[string]string)
}

// WebhookHandler receives provider payment events. Anything that parses
// and verifies is acknowledged with 200, so the provider stops
// redelivering; internal failures are queued for replay instead.
type WebhookHandler struct {
	parser     domain.PaymentEventParser
	settlement PaymentEventHandler
	tasks      TaskEnqueuer
	log        logger.Logger
}

func NewWebhookHandler(parser domain.PaymentEventParser, settlement PaymentEventHandler, tasks TaskEnqueuer, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:     parser,
		settlement: settlement,
		tasks:      tasks,
		log:        log,
	}
}

func (h *WebhookHandler) Register(g *echo.Group) {
	g.POST("/webhooks/payments", h.HandlePayment)
}

func (h *WebhookHandler) HandlePayment(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "could not read body")
	}

	evt, err := h.parser.ParseEvent(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.Warn("Rejected payment webhook", "error", err)
		return badRequest(c, "invalid webhook payload or signature")
	}

	ctx := c.Request().Context()
	outcome, err := h.settlement.HandlePaymentEvent(ctx, evt)
	if err != nil {
		h.log.Error("Payment event failed; queued for replay", "event_id", evt.ID, "type", evt.RawType, "error", err)
		h.tasks.Enqueue(context.WithoutCancel(ctx), domain.TaskReplayPaymentEvent, evt.ID, services.PaymentEventPayload(evt))
		return c.JSON(http.StatusOK, map[string]string{"status": "queued"})
	}

	h.log.Info("Payment event handled", "event_id", evt.ID, "type", evt.RawType, "outcome", outcome)
	return c.JSON(http.StatusOK, map[string]string{"status": string(outcome)})
}
