// Package api exposes a live dashboard over a running backtest: REST
// endpoints for the latest rows/summary, a websocket push feed, and a
// Prometheus /metrics endpoint. This is purely observational — the
// Non-goals exclude live order routing, so nothing here drives the engine.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"as-backtester/pkg/types"
)

// Config controls the dashboard HTTP server.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server serves the live dashboard for one backtest run.
type Server struct {
	cfg    Config
	runID  string
	logger *slog.Logger

	mu      sync.RWMutex
	rows    []types.MetricRow
	summary *types.RunSummary

	hub *hub

	httpServer *http.Server
}

const maxRetainedRows = 5000

// NewServer constructs a dashboard server with a fresh run ID.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	runID := uuid.NewString()
	return &Server{
		cfg:    cfg,
		runID:  runID,
		logger: logger.With("component", "dashboard", "run_id", runID),
		hub:    newHub(),
	}
}

// PushRow records a metric row and broadcasts it to connected websocket
// clients, throttled to at most one broadcast per 50ms so a fast backtest
// replay doesn't saturate slow browser clients.
func (s *Server) PushRow(row types.MetricRow) {
	s.mu.Lock()
	s.rows = append(s.rows, row)
	if len(s.rows) > maxRetainedRows {
		s.rows = s.rows[len(s.rows)-maxRetainedRows:]
	}
	s.mu.Unlock()

	s.hub.broadcast(row)
}

// PushSummary records the final run summary.
func (s *Server) PushSummary(summary types.RunSummary) {
	s.mu.Lock()
	s.summary = &summary
	s.mu.Unlock()
}

// Emit and Finish satisfy backtest.Sink structurally, so a Server can be
// handed directly to backtest.New (typically wrapped together with
// observability.Wrap via a small fan-out sink — see cmd/backtest).
func (s *Server) Emit(row types.MetricRow)        { s.PushRow(row) }
func (s *Server) Finish(summary types.RunSummary) { s.PushSummary(summary) }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. It always returns a non-nil error on exit except for the
// clean-shutdown case.
func (s *Server) Run(ctx context.Context) error {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	v1.HandleFunc("/rows", s.handleRows).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/ws", s.handleWebSocket)

	corsMw := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	s.httpServer = &http.Server{
		Addr:    addrForPort(s.cfg.Port),
		Handler: corsMw.Handler(router),
	}

	go s.hub.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func addrForPort(port int) string {
	if port <= 0 {
		port = 8090
	}
	return ":" + strconv.Itoa(port)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	summary := s.summary
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if summary == nil {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
		return
	}
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rows := make([]types.MetricRow, len(s.rows))
	copy(rows, s.rows)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"rows":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"run_id": s.runID,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{
		conn:    conn,
		send:    make(chan types.MetricRow, 256),
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
	s.hub.register <- client
	go client.writeLoop(s.hub, s.logger)
}
