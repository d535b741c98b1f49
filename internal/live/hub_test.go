package live_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"air-quality-backend/internal/live"
	"air-quality-backend/internal/model"
	"air-quality-backend/internal/store"
)

var testDBSeq atomic.Int64

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:livetest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SensorReading{}))
	return store.NewGormStore(db)
}

// startHub serves the hub over a test HTTP server and returns its ws URL.
func startHub(t *testing.T, s store.Store) (string, *live.Hub, context.CancelFunc) {
	t.Helper()

	hub := live.New(s)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) live.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg live.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHub_ConnectReceivesLatestReading(t *testing.T) {
	s := newTestStore(t)
	reading := model.SensorReading{PM1: 1, PM25: 18.7, PM10: 3}
	require.NoError(t, s.CreateReading(context.Background(), &reading))

	wsURL, _, _ := startHub(t, s)
	conn := dial(t, wsURL)

	msg := readMessage(t, conn)
	assert.Equal(t, "reading", msg.Event)
	assert.Equal(t, 18.7, msg.Data.PM25)
}

func TestHub_BroadcastsOnNotify(t *testing.T) {
	s := newTestStore(t)
	wsURL, hub, _ := startHub(t, s)

	conn := dial(t, wsURL)
	// Empty store: nothing is sent on connect. Give the hub a moment to
	// register the client before publishing.
	time.Sleep(20 * time.Millisecond)

	hub.NotifyReading(model.SensorReading{ID: 7, PM1: 5.2, PM25: 18.7, PM10: 42.0})

	msg := readMessage(t, conn)
	assert.Equal(t, "reading", msg.Event)
	assert.Equal(t, int64(7), msg.Data.ID)
	assert.Equal(t, 42.0, msg.Data.PM10)
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	s := newTestStore(t)
	wsURL, hub, _ := startHub(t, s)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
	}
	time.Sleep(20 * time.Millisecond)

	hub.NotifyReading(model.SensorReading{ID: 1, PM25: 10})

	for i, conn := range conns {
		msg := readMessage(t, conn)
		assert.Equal(t, "reading", msg.Event, "client %d", i)
		assert.Equal(t, 10.0, msg.Data.PM25, "client %d", i)
	}
}

func TestHub_BroadcastsInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	wsURL, hub, _ := startHub(t, s)

	conn := dial(t, wsURL)
	time.Sleep(20 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		hub.NotifyReading(model.SensorReading{ID: int64(i), PM25: float64(i * 10)})
	}

	for i := 1; i <= 3; i++ {
		msg := readMessage(t, conn)
		assert.Equal(t, int64(i), msg.Data.ID)
	}
}

func TestHub_CountTracksDisconnects(t *testing.T) {
	s := newTestStore(t)
	wsURL, hub, _ := startHub(t, s)

	conn := dial(t, wsURL)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, hub.Count())

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close
	assert.Equal(t, 0, hub.Count())
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	s := newTestStore(t)
	wsURL, hub, cancel := startHub(t, s)

	dial(t, wsURL)
	time.Sleep(20 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, hub.Count())
}

func TestHub_NonWebSocketRequestRejected(t *testing.T) {
	s := newTestStore(t)
	hub := live.New(s)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
