package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness-service/internal/db"
	"wellness-service/internal/logging"
	"wellness-service/internal/models"
)

func serveFeed(t *testing.T, m *WebSocketManager) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		supporterID := r.URL.Query().Get("supporter")
		if !m.AddConnection(supporterID, conn) {
			_ = conn.Close()
			return
		}
		go func() {
			defer m.RemoveConnection(supporterID, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, supporterID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?supporter=" + supporterID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketBroadcastsToCheckerSupporters(t *testing.T) {
	store := db.NewMemory()
	store.PutSupporterLink(models.SupporterLink{ID: "l1", CheckerID: "c1", SupporterID: "sup-a", Active: true})
	store.PutSupporterLink(models.SupporterLink{ID: "l2", CheckerID: "c2", SupporterID: "sup-b", Active: true})

	m := NewWebSocketManager(store, logging.NewNop(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	m.Run(ctx, &wg)
	defer func() {
		cancel()
		wg.Wait()
	}()

	srv := serveFeed(t, m)
	a := dial(t, srv, "sup-a")
	b := dial(t, srv, "sup-b")
	require.Eventually(t, func() bool {
		return m.Connections("sup-a") == 1 && m.Connections("sup-b") == 1
	}, 2*time.Second, 10*time.Millisecond)

	alert := models.Alert{ID: uuid.New(), CheckerID: "c1", Level: models.LevelSoft, Status: models.StatusPending}
	m.Observe(models.AlertEvent{Type: models.EventAlertCreated, Alert: alert, OccurredAt: now})

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	var ev models.AlertEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, models.EventAlertCreated, ev.Type)
	assert.Equal(t, alert.ID, ev.Alert.ID)
	assert.Equal(t, models.LevelSoft, ev.Alert.Level)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = b.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketConnectionLimit(t *testing.T) {
	m := NewWebSocketManager(db.NewMemory(), logging.NewNop(), 1)
	srv := serveFeed(t, m)
	for i := 0; i < maxConnectionsPerSupporter+1; i++ {
		dial(t, srv, "sup-a")
	}
	require.Eventually(t, func() bool {
		return m.Connections("sup-a") == maxConnectionsPerSupporter
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketObserveNeverBlocks(t *testing.T) {
	m := NewWebSocketManager(db.NewMemory(), logging.NewNop(), 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.Observe(models.AlertEvent{Type: models.EventAlertResolved})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked with a full buffer")
	}
}
