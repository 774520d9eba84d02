// Package gateway exposes the manager over HTTP and WebSocket.
//
// REST endpoints cover quote history, the watchlist and status; /ws pushes
// every streamed envelope to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rgodfrey/mockfeed/internal/manager"
)

// Server serves the HTTP API and the WebSocket push channel.
type Server struct {
	mgr    *manager.Manager
	hub    *Hub
	logger *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates a Server on port. The server subscribes to the manager
// so every streamed envelope reaches connected WebSocket clients.
func NewServer(port int, mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mgr:    mgr,
		hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mgr.Subscribe(s.hub.Broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/quotes/{symbol}", s.handleQuotes)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("POST /api/watchlist", s.handleAddWatchlist)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and disconnects all WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.mgr.DB()
	status := map[string]any{
		"status":    "ok",
		"mock_mode": s.mgr.IsMockMode(),
		"streaming": s.mgr.IsStreaming(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if err != nil {
		status["status"] = "degraded"
		status["store_error"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine := s.mgr.EngineStats()
	pipeline := s.mgr.PipelineStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"streaming":  s.mgr.IsStreaming(),
		"mock_mode":  s.mgr.IsMockMode(),
		"ws_clients": s.hub.ClientCount(),
		"engine": map[string]int64{
			"ticks_completed": engine.TicksCompleted,
			"messages_sent":   engine.MessagesSent,
			"handler_errors":  engine.HandlerErrors,
		},
		"ingest": map[string]int64{
			"received":       pipeline.Received,
			"stored":         pipeline.Stored,
			"malformed":      pipeline.Malformed,
			"empty":          pipeline.Empty,
			"dropped":        pipeline.Dropped,
			"storage_errors": pipeline.StorageErrors,
		},
	})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	rows, err := s.mgr.QueryQuotes(r.Context(), symbol, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"count":  len(rows),
		"quotes": rows,
	})
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	wl, err := s.mgr.Watchlist()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wl == nil {
		wl = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": wl})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.mgr.AddSymbol(req.Symbol); err != nil {
		if errors.Is(err, manager.ErrEmptySymbol) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": req.Symbol})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.add(conn)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
