package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/engine"
	"dex_go/internal/infra"
	"dex_go/internal/instruction"
	"dex_go/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	maxMessage    = 1 << 20
	submitTimeout = 5 * time.Second
)

// Submitter accepts instructions for sequencing.
type Submitter interface {
	Submit(ctx context.Context, ins *instruction.Instruction) (*engine.Result, error)
}

// Querier serves read-only views.
type Querier interface {
	Market(key domain.Key) (*service.MarketView, error)
	Markets() ([]*service.MarketView, error)
	UserAccount(key domain.Key) (*service.AccountView, error)
	OwnerAccounts(owner domain.Key) ([]*service.AccountView, error)
}

// Server exposes the submission and query channels over WebSocket.
type Server struct {
	submitter Submitter
	querier   Querier
	metrics   *infra.Metrics
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a server. metrics may be nil.
func NewServer(sub Submitter, q Querier, metrics *infra.Metrics) *Server {
	return &Server{
		submitter: sub,
		querier:   q,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes wsPath to the WebSocket endpoint and serves /healthz.
func (s *Server) Handler(wsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.metricsSnapshot())
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down and waits
// for open connections to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr, wsPath string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(wsPath),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("WebSocket server listening", slog.String("addr", addr), slog.String("path", wsPath))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.stopAccepting()
	// Hijacked connections close themselves once ctx is done.
	s.wg.Wait()
	return err
}

// track registers a connection unless shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) stopAccepting() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

// ServeWS upgrades the request and serves requests until the peer leaves.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementConnections()
		defer s.metrics.DecrementConnections()
	}

	c := &serverConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.pingLoop(ctx)

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	slog.Debug("Client connected", slog.String("remote", r.RemoteAddr))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		resp := s.handle(ctx, msg)
		if err := c.writeJSON(resp); err != nil {
			slog.Warn("WebSocket write error", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) *Response {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return errorResponse("", domain.NewValidationError("request", "malformed json: %v", err))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodSubmit:
		result, err = s.submit(ctx, req.Instruction)
	case MethodQuery:
		result, err = s.query(req.Query)
	default:
		err = domain.NewValidationError("method", "unknown method %q", req.Method)
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, fmt.Errorf("encode result: %w", err))
	}
	return &Response{ID: req.ID, OK: true, Result: raw}
}

func (s *Server) submit(ctx context.Context, ins *instruction.Instruction) (*engine.Result, error) {
	if ins == nil {
		return nil, domain.NewValidationError("instruction", "required")
	}
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	return s.submitter.Submit(ctx, ins)
}

func (s *Server) query(q *Query) (any, error) {
	if q == nil {
		return nil, domain.NewValidationError("query", "required")
	}
	switch q.Kind {
	case QueryMarket:
		return s.querier.Market(q.Key)
	case QueryMarkets:
		return s.querier.Markets()
	case QueryUserAccount:
		return s.querier.UserAccount(q.Key)
	case QueryOwnerAccounts:
		return s.querier.OwnerAccounts(q.Key)
	case QueryMetrics:
		return s.metricsSnapshot(), nil
	}
	return nil, domain.NewValidationError("query.kind", "unknown query %q", q.Kind)
}

func (s *Server) metricsSnapshot() infra.MetricsSnapshot {
	if s.metrics == nil {
		return infra.MetricsSnapshot{Timestamp: time.Now()}
	}
	return s.metrics.Snapshot()
}

func errorResponse(id string, err error) *Response {
	return &Response{ID: id, Error: err.Error(), ErrorKind: domain.Kind(err)}
}

// serverConn serialises writes from the request loop and the pinger.
type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *serverConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
