package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/conductor/internal/logging"
)

const (
	// writeTimeout bounds every socket write; a peer that stops reading is
	// disconnected instead of stalling its writers.
	writeTimeout = 10 * time.Second
	// eventQueueSize is how many broadcast events may wait for one client.
	eventQueueSize = 256
)

// Client is an authenticated WebSocket connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Auth        AuthResult
	ConnectedAt time.Time

	socket  *websocket.Conn
	limiter *rate.Limiter
	log     *logging.Logger

	// ctx ends when the connection closes; in-flight requests see it.
	ctx    context.Context
	cancel context.CancelFunc

	events chan Frame

	mu     sync.Mutex // serializes writes
	closed atomic.Bool
}

// NewClient wraps an authenticated connection. limiter may be nil.
func NewClient(conn *websocket.Conn, info ClientInfo, auth AuthResult, limiter *rate.Limiter, log *logging.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Client{
		ConnID:      id,
		Info:        info,
		Auth:        auth,
		ConnectedAt: time.Now(),
		socket:      conn,
		limiter:     limiter,
		log:         log.With("connId", id),
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan Frame, eventQueueSize),
	}
	go c.pumpEvents()
	return c
}

// pumpEvents writes queued events in order until the client closes.
func (c *Client) pumpEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.events:
			if err := c.Send(f); err != nil {
				c.log.Debug().Err(err).Str("event", f.Event).Msg("event write failed, closing")
				c.Close()
				return
			}
		}
	}
}

// Context is cancelled when the client disconnects.
func (c *Client) Context() context.Context { return c.ctx }

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteJSON(f)
}

// SendEvent queues an event without blocking. A client whose queue is full
// has stopped reading and is disconnected.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.events <- f:
		return nil
	default:
		c.log.Warn().Str("event", event).Int("queued", len(c.events)).Msg("event queue full, disconnecting slow client")
		c.Close()
		return ErrSlowClient
	}
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, e ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, e))
}

// ReadFrame blocks for the next frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the socket and cancels in-flight requests. It does not wait
// for a blocked writer; closing the socket fails that write.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	return c.socket.Close()
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends an event to every client. Send failures are logged.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Debug().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
		}
	}
}

// CloseAll disconnects every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
