package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wellness-service/internal/logging"
	"wellness-service/internal/models"
)

const (
	maxConnectionsPerSupporter = 10
	writeWait                  = 5 * time.Second
)

// SupporterDirectory resolves who follows a checker's alerts.
type SupporterDirectory interface {
	ListActiveSupporterLinks(ctx context.Context, checkerID string) ([]models.SupporterLink, error)
}

// WebSocketManager manages live alert feeds per supporter.
type WebSocketManager struct {
	connections map[string]map[*websocket.Conn]bool // supporterID -> set of connections
	mutex       sync.Mutex
	logger      *logging.Logger
	directory   SupporterDirectory
	events      chan models.AlertEvent
}

func NewWebSocketManager(directory SupporterDirectory, logger *logging.Logger, buffer int) *WebSocketManager {
	if buffer <= 0 {
		buffer = 64
	}
	return &WebSocketManager{
		connections: make(map[string]map[*websocket.Conn]bool),
		logger:      logger,
		directory:   directory,
		events:      make(chan models.AlertEvent, buffer),
	}
}

// AddConnection registers conn for a supporter. It reports false when the
// supporter already has the maximum number of live connections.
func (m *WebSocketManager) AddConnection(supporterID string, conn *websocket.Conn) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.connections[supporterID]; !exists {
		m.connections[supporterID] = make(map[*websocket.Conn]bool)
	}
	if len(m.connections[supporterID]) >= maxConnectionsPerSupporter {
		m.logger.Warnf("Max connections reached for supporter %s", supporterID)
		return false
	}
	m.connections[supporterID][conn] = true
	m.logger.Infof("Added WebSocket connection for supporter %s (total: %d)", supporterID, len(m.connections[supporterID]))
	return true
}

// RemoveConnection removes a WebSocket connection
func (m *WebSocketManager) RemoveConnection(supporterID string, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if conns, exists := m.connections[supporterID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, supporterID)
		}
		m.logger.Infof("Removed WebSocket connection for supporter %s (remaining: %d)", supporterID, len(conns))
	}
}

// Connections returns the number of live connections of a supporter.
func (m *WebSocketManager) Connections(supporterID string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.connections[supporterID])
}

// SendToSupporter writes message to every connection of the supporter and
// drops connections that fail.
func (m *WebSocketManager) SendToSupporter(supporterID string, message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	conns, exists := m.connections[supporterID]
	if !exists {
		return
	}
	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Errorf("Failed to send WebSocket message to supporter %s: %v", supporterID, err)
			_ = conn.Close()
			delete(conns, conn)
		}
	}
	if len(conns) == 0 {
		delete(m.connections, supporterID)
	}
}

// Observe queues an alert event for broadcast. It never blocks; events are
// dropped when the buffer is full.
func (m *WebSocketManager) Observe(ev models.AlertEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warnf("WebSocket event buffer full, dropping %s for alert %s", ev.Type, ev.Alert.ID)
	}
}

// Run broadcasts queued events until ctx is cancelled.
func (m *WebSocketManager) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				m.closeAll()
				return
			case ev := <-m.events:
				m.broadcast(ctx, ev)
			}
		}
	}()
}

func (m *WebSocketManager) broadcast(ctx context.Context, ev models.AlertEvent) {
	links, err := m.directory.ListActiveSupporterLinks(ctx, ev.Alert.CheckerID)
	if err != nil {
		m.logger.Errorf("Failed to load supporters of checker %s for live feed: %v", ev.Alert.CheckerID, err)
		return
	}
	message, err := json.Marshal(ev)
	if err != nil {
		m.logger.Errorf("Failed to encode alert event %s: %v", ev.Alert.ID, err)
		return
	}
	for _, link := range links {
		m.SendToSupporter(link.Identity(), message)
	}
}

func (m *WebSocketManager) closeAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for id, conns := range m.connections {
		for conn := range conns {
			_ = conn.Close()
		}
		delete(m.connections, id)
	}
}
