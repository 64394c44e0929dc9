// Package api serves a read-only status/admin HTTP surface over the
// network core's live state: health, peer list, blacklist, and DS
// committee. None of these routes accept writes; they exist purely so an
// operator or RPC layer can observe what the core built, matching the
// original's framing of RPC handlers as external callers reading through
// documented getters (SPEC_FULL §6, §9).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/config"
	"github.com/shardnode/shardnode/internal/dscomposition"
	"github.com/shardnode/shardnode/internal/sendqueue"
)

// Server is the HTTP admin/status server.
type Server struct {
	config     *config.Config
	router     *mux.Router
	httpServer *http.Server
	startTime  time.Time

	blacklist *blacklist.Blacklist
	sendJobs  *sendqueue.SendJobs
	committee *dscomposition.Committee

	log *zap.SugaredLogger
}

// NewServer creates a new admin/status API server.
func NewServer(cfg *config.Config, bl *blacklist.Blacklist, sj *sendqueue.SendJobs, committee *dscomposition.Committee, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		startTime: time.Now(),
		blacklist: bl,
		sendJobs:  sj,
		committee: committee,
		log:       log.Named("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/admin/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/admin/blacklist", s.handleBlacklist).Methods("GET")
	s.router.HandleFunc("/admin/committee", s.handleCommittee).Methods("GET")
	s.router.HandleFunc("/admin/peers", s.handlePeers).Methods("GET")
}

// Start begins serving on the configured admin address. Blocks until the
// server stops.
func (s *Server) Start() error {
	addr := s.config.AdminFullAddress()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Infow("starting admin HTTP server", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Infow("shutting down admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime duration.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// GetRouter returns the mux router (for testing).
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
