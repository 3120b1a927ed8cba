// Package transport accepts WebSocket connections, enforces the handshake
// portion of auth for legacy/dual modes, and forwards frames to the
// gateway's dispatch layer.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameHandler processes one inbound frame from a connection. Called
// serially per connection: at most one frame is ever in flight for a given
// connection at a time.
type FrameHandler func(connID string, raw []byte)

// DisconnectHandler is invoked once per connection close.
type DisconnectHandler func(connID string, code int, reason string)

// Server is the WebSocket + health-check HTTP server.
type Server struct {
	host string
	port int

	allowedOrigins []string
	bearerToken    string
	requireBearer  bool

	onFrame      FrameHandler
	onDisconnect DisconnectHandler

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	// wg tracks every in-flight connection-handling goroutine so Stop can
	// await the drain of frame handling before the caller clears shared state.
	wg sync.WaitGroup

	httpServer *http.Server
	mux        *http.ServeMux
}

// Config parameterizes a transport Server.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	BearerToken    string
	RequireBearer  bool // false for ed25519 mode, which defers credential checks to node.register
}

// New builds a transport server. onFrame/onDisconnect are invoked from the
// server's per-connection goroutines.
func New(cfg Config, onFrame FrameHandler, onDisconnect DisconnectHandler) *Server {
	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		allowedOrigins: cfg.AllowedOrigins,
		bearerToken:    cfg.BearerToken,
		requireBearer:  cfg.RequireBearer,
		onFrame:        onFrame,
		onDisconnect:   onDisconnect,
		clients:        make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket handshake Origin header against the
// allowed-origins allowlist. Empty allowlist or empty Origin header (non-
// browser clients) are always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.allowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

func (s *Server) checkBearer(r *http.Request) bool {
	if !s.requireBearer {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.bearerToken
	return got == want
}

// BuildMux creates and caches the HTTP mux with /ws and /health registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections, blocking until
// ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("transport server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkBearer(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.onFrame)
	s.registerClient(client)

	s.wg.Add(1)
	defer s.wg.Done()

	defer func() {
		s.unregisterClient(client)
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	slog.Info("connection accepted", "connId", c.ID)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	delete(s.clients, c.ID)
	s.mu.Unlock()
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID, code, reason)
	}
	slog.Info("connection closed", "connId", c.ID, "code", code)
}

// SendFrame writes raw bytes to connID's socket. A no-op for unknown
// connections.
func (s *Server) SendFrame(connID string, raw []byte) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	c.Send(raw)
}

// Client returns the Client for a connection id, used by the gateway to
// track per-connection schema-error counts.
func (s *Server) Client(connID string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[connID]
	return c, ok
}

// CloseClient closes a connection with the given WS close code/reason.
func (s *Server) CloseClient(connID string, code int, reason string) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if ok {
		c.closeInternal(code, reason)
	}
}

// CloseAll closes every currently tracked connection, used on shutdown.
func (s *Server) CloseAll(code int, reason string) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		c.closeInternal(code, reason)
	}
}

// Wait blocks until every connection-handling goroutine started by
// handleWebSocket has returned. Callers typically call CloseAll first so the
// wait actually terminates.
func (s *Server) Wait() {
	s.wg.Wait()
}

// StartTestServer creates a listener on 127.0.0.1:0 and returns the actual
// address and a start function, for integration tests that need a real
// socket.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
