package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"timebid/internal/domain"
	"timebid/internal/infrastructure/websocket"
	"timebid/pkg/logger"
)

// WebSocketHandlers mounts the realtime watch endpoint on a mux router.
type WebSocketHandlers struct {
	wsHandler   *websocket.WebSocketHandler
	connManager *websocket.ConnectionManager
}

func NewWebSocketHandlers(auctions websocket.AuctionReader, priceCache domain.PriceCache,
	connManager *websocket.ConnectionManager, allowedOrigins []string, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler:   websocket.NewWebSocketHandler(auctions, priceCache, connManager, allowedOrigins, log),
		connManager: connManager,
	}
}

func (h *WebSocketHandlers) Register(router *mux.Router) {
	router.HandleFunc("/ws/auctions/{auctionID}", h.wsHandler.HandleConnection).Methods(http.MethodGet)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

func (h *WebSocketHandlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"service":   "realtime",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
