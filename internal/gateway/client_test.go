package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/conductor/internal/logging"
)

// socketPair returns the server side of a WebSocket whose peer never reads.
func socketPair(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no server connection")
		return nil
	}
}

// idleClient builds a client whose event queue is never drained.
func idleClient(t *testing.T, queue int) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ConnID: "idle",
		socket: socketPair(t),
		log:    logging.New(nil, "silent"),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Frame, queue),
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendEvent_FullQueueDisconnects(t *testing.T) {
	c := idleClient(t, 2)

	require.NoError(t, c.SendEvent("invocation_started", map[string]any{"n": 1}, 1))
	require.NoError(t, c.SendEvent("invocation_started", map[string]any{"n": 2}, 2))
	assert.ErrorIs(t, c.SendEvent("invocation_started", map[string]any{"n": 3}, 3), ErrSlowClient)

	assert.True(t, c.closed.Load())
	assert.Error(t, c.Context().Err())
	assert.ErrorIs(t, c.SendEvent("invocation_started", nil, 4), ErrClientClosed)
}

func TestBroadcast_DoesNotWaitForStalledClient(t *testing.T) {
	reg := NewClientRegistry(logging.New(nil, "silent"))
	stalled := idleClient(t, 1)
	reg.Add(stalled)

	done := make(chan struct{})
	go func() {
		for i := range 50 {
			reg.Broadcast("invocation_completed", map[string]any{"i": i}, int64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a client that is not reading")
	}
	assert.True(t, stalled.closed.Load())
}

func TestClient_PumpDeliversEventsInOrder(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer peer.Close()

	c := NewClient(<-conns, ClientInfo{ID: "t"}, AuthResult{OK: true}, nil, logging.New(nil, "silent"))
	defer c.Close()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, c.SendEvent("handoff_tracked", nil, seq))
	}

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	for seq := int64(1); seq <= 3; seq++ {
		var f Frame
		require.NoError(t, peer.ReadJSON(&f))
		assert.Equal(t, "handoff_tracked", f.Event)
		assert.Equal(t, seq, f.Seq)
	}
}
