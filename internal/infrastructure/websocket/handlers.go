package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// AuctionReader loads the auction a watcher asks for.
type AuctionReader interface {
	GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error)
}

type WebSocketHandler struct {
	auctions    AuctionReader
	priceCache  domain.PriceCache
	connManager domain.ConnectionManager
	upgrader    websocket.Upgrader
	log         logger.Logger
}

func NewWebSocketHandler(auctions AuctionReader, priceCache domain.PriceCache,
	connManager domain.ConnectionManager, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		auctions:    auctions,
		priceCache:  priceCache,
		connManager: connManager,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades a watcher of one auction, pushes the current
// price snapshot and keeps the socket alive until it closes.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	auction, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch auction.Status {
	case domain.AuctionCompleted, domain.AuctionCancelled:
		http.Error(w, "auction is "+auction.Status.String(), http.StatusGone)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "auction_id", auctionID, "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, auctionID)
	if err := h.connManager.RegisterConnection(wsConn); err != nil {
		h.log.Error("Failed to register connection", "auction_id", auctionID, "error", err)
		wsConn.Close()
		return
	}

	if err := wsConn.Send(h.snapshotMessage(r.Context(), auction)); err != nil {
		h.log.Warn("Failed to send snapshot", "auction_id", auctionID, "error", err)
	}

	go h.keepAlive(wsConn)
	h.readLoop(wsConn)
}

func (h *WebSocketHandler) snapshotMessage(ctx context.Context, auction *domain.Auction) map[string]interface{} {
	snapshot := &domain.PriceSnapshot{
		AuctionID:   auction.ID,
		CurrentBid:  auction.CurrentHighestBid,
		BidCount:    auction.BidCount,
		Status:      auction.Status.String(),
		EndTime:     auction.EndTime,
		LastUpdated: auction.UpdatedAt,
	}
	if h.priceCache != nil {
		if cached, err := h.priceCache.GetSnapshot(ctx, auction.ID); err == nil && !cached.LastUpdated.Before(snapshot.LastUpdated) {
			snapshot = cached
			snapshot.EndTime = auction.EndTime
		}
	}
	return map[string]interface{}{
		"type":        "snapshot",
		"auction_id":  snapshot.AuctionID,
		"current_bid": snapshot.CurrentBid.StringFixed(2),
		"bid_count":   snapshot.BidCount,
		"status":      snapshot.Status,
		"end_time":    snapshot.EndTime,
	}
}

// readLoop only answers pings; watchers never send commands.
func (h *WebSocketHandler) readLoop(conn *WebSocketConnection) {
	defer func() {
		h.connManager.UnregisterConnection(conn)
		conn.Close()
	}()

	conn.conn.SetReadLimit(4096)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Watcher disconnected", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if msgType, _ := msg["type"].(string); msgType == "ping" {
			conn.Send(map[string]string{"type": "pong"})
		}
	}
}

func (h *WebSocketHandler) keepAlive(conn *WebSocketConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

// WebSocketConnection serializes writes to one gorilla connection.
type WebSocketConnection struct {
	conn      *websocket.Conn
	id        string
	auctionID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocketConnection(conn *websocket.Conn, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		id:        uuid.NewString(),
		auctionID: auctionID,
		done:      make(chan struct{}),
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	wsc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) ping() error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (wsc *WebSocketConnection) Close() error {
	var err error
	wsc.closeOnce.Do(func() {
		close(wsc.done)
		err = wsc.conn.Close()
	})
	return err
}

func (wsc *WebSocketConnection) ID() string {
	return wsc.id
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
