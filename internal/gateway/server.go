// Package gateway serves the coordinator's operations as JSON RPC over
// WebSocket and broadcasts coordinator events to connected clients.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/soyeahso/conductor/internal/metrics"
	"github.com/soyeahso/conductor/internal/version"
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrSlowClient   = errors.New("client event queue full")
)

const (
	maxPayload       = 4 << 20
	handshakeTimeout = 10 * time.Second
)

// Server is the gateway HTTP and WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	creds    Credentials
	coord    Coordinator
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	eventSeq atomic.Int64

	hooks   *hooks.Manager
	metrics *metrics.Collector

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	failures   *failureLimiter
	inflight   sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHooks broadcasts every event of hm to connected clients and emits
// gateway_start and gateway_stop.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics records RPC metrics and serves /metrics when enabled in config.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// New creates a gateway server in front of coord.
func New(cfg config.GatewayConfig, coord Coordinator, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		creds:    ResolveCredentials(cfg.Auth),
		coord:    coord,
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]RequestHandler),
		failures: newFailureLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.ControlUI.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	if s.hooks != nil {
		s.hooks.OnAll("gateway.broadcast", func(_ context.Context, p hooks.Payload) error {
			s.clients.Broadcast(p.Event, p.Data, s.eventSeq.Add(1))
			return nil
		})
	}
	return s
}

// checkOrigin admits non-browser clients and listed browser origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origin, allowed)
	}
}

// Handle registers an RPC method.
func (s *Server) Handle(method string, h RequestHandler) {
	s.handlers[method] = h
}

// Methods returns the registered RPC methods, sorted.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func listenAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.ControlUI.AllowedOrigins)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := listenAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	} else if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS disabled on a non-loopback bind, credentials travel in cleartext")
	}

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.creds.Mode).
		Bool("tls", s.cfg.TLS.Enabled).
		Int("methods", len(s.handlers)).
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gateway shutting down")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.inflight.Wait()
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.failures.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("too many failed handshakes")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.failures.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(client)
}

// handshake runs challenge, connect and hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent("connect.challenge", map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		rejectAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect, got %s %s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && (params.MinProtocol > ProtocolVersion || params.MaxProtocol < ProtocolVersion) {
		rejectAndClose(conn, frame.ID, CodeProtocol, fmt.Sprintf("protocol %d not supported", ProtocolVersion))
		return nil, fmt.Errorf("protocol range %d-%d excludes %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	auth := Authorize(s.creds, params.Auth)
	if !auth.OK {
		rejectAndClose(conn, frame.ID, CodeUnauthorized, auth.Reason)
		return nil, fmt.Errorf("auth failed: %s", auth.Reason)
	}
	conn.SetReadDeadline(time.Time{})

	var limiter *rate.Limiter
	if rl := s.cfg.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1))
	}
	client := NewClient(conn, params.Client, auth, limiter, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: version.Version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{Methods: s.Methods(), Events: hooks.AllEvents},
		Policy: ServerPolicy{
			MaxPayload:        maxPayload,
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		},
	}
	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", auth.Method).
		Msg("client authenticated")
	return client, nil
}

func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		if client.limiter != nil && !client.limiter.Allow() {
			client.RespondError(frame.ID, ErrorShape{
				Code:       CodeRateLimited,
				Message:    "request rate exceeded",
				Retryable:  true,
				RetryAfter: int(time.Second.Milliseconds() / max(int64(client.limiter.Limit()), 1)),
			})
			s.observe(frame.Method, CodeRateLimited, 0)
			continue
		}

		// Requests run concurrently; aggregation and escalation may block.
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.dispatch(client, frame)
		}()
	}
}

func (s *Server) dispatch(client *Client, frame Frame) {
	h, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + frame.Method})
		s.observe("unknown", CodeMethodNotFound, 0)
		return
	}

	rc := &RequestContext{ctx: client.Context(), Client: client, Frame: frame, server: s}
	start := time.Now()
	h(rc)
	s.observe(frame.Method, rc.code, time.Since(start))
}

func (s *Server) observe(method, code string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveRPC(method, code, d)
	}
}

func rejectAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
