package websocket

import (
	"encoding/json"
	"sync"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// ConnectionManager tracks watchers per auction.
type ConnectionManager struct {
	connections map[string]map[string]domain.WebSocketConnection // auctionID -> connID -> connection
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]domain.WebSocketConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	auctionID := conn.AuctionID()
	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[string]domain.WebSocketConnection)
	}
	cm.connections[auctionID][conn.ID()] = conn

	cm.log.Debug("Connection registered", "conn_id", conn.ID(), "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	auctionID := conn.AuctionID()
	if auctionConns, exists := cm.connections[auctionID]; exists {
		delete(auctionConns, conn.ID())
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionID)
		}
	}

	cm.log.Debug("Connection unregistered", "conn_id", conn.ID(), "auction_id", auctionID)
	return nil
}

// CloseAndUnregisterConnections drops every watcher of a finished auction.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	auctionConns := cm.connections[auctionID]
	delete(cm.connections, auctionID)
	cm.mutex.Unlock()

	for connID, conn := range auctionConns {
		if err := conn.Close(); err != nil {
			cm.log.Warn("Failed to close connection", "conn_id", connID, "auction_id", auctionID, "error", err)
		}
	}

	cm.log.Info("Connections closed for auction", "auction_id", auctionID, "count", len(auctionConns))
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	connections := make([]domain.WebSocketConnection, 0, len(cm.connections[auctionID]))
	for _, conn := range cm.connections[auctionID] {
		connections = append(connections, conn)
	}
	return connections
}

// BroadcastToAuction encodes message once and sends it to every watcher.
// A failed send drops that watcher; the others still receive the message.
func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	connections := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting to auction", "auction_id", auctionID, "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(json.RawMessage(messageBytes)); err != nil {
			cm.log.Warn("Failed to send message; dropping watcher", "conn_id", conn.ID(), "auction_id", auctionID, "error", err)
			_ = cm.UnregisterConnection(conn)
			_ = conn.Close()
		}
	}
	return nil
}
