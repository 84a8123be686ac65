package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/connection"
	"github.com/maxvit/ctrader_meanrev/internal/domain"
	"github.com/maxvit/ctrader_meanrev/internal/engine"
)

// Server is the dashboard surface: status and config over JSON, live
// events over the websocket hub.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	session    *connection.Session
	hub        *Hub
	logger     *zap.Logger
}

func NewServer(port int, eng *engine.Engine, sess *connection.Session, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		engine:  eng,
		session: sess,
		hub:     hub,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /ws", hub.handleWS)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("dashboard listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusView struct {
		Connection string        `json:"connection"`
		Engine     engine.Status `json:"engine"`
	}
	s.writeJSON(w, http.StatusOK, statusView{
		Connection: s.session.State().String(),
		Engine:     s.engine.Status(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid config payload", http.StatusBadRequest)
		return
	}
	if cfg.LotSize <= 0 || cfg.EntryOffset <= 0 {
		http.Error(w, "lot_size and entry_offset must be positive", http.StatusBadRequest)
		return
	}
	// Persist before acknowledging so a crash after the 200 cannot lose
	// the change.
	if err := s.engine.UpdateConfig(r.Context(), cfg); err != nil {
		s.logger.Error("config update failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	mutated := s.engine.DailyReset(r.Context(), force)
	s.writeJSON(w, http.StatusOK, map[string]bool{"mutated": mutated})
}
