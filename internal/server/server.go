package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"oversounds/internal/config"
	"oversounds/internal/database"
	"oversounds/internal/mcp"
	"oversounds/internal/metrics"
	"oversounds/internal/ngrok"
	"oversounds/internal/store"
	"oversounds/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Version is reported by /health and the MCP server.
const Version = "1.0.0"

// StoreServer serves the storefront over HTTP.
type StoreServer struct {
	config       *config.Config
	configPath   string
	db           *database.Database
	logger       *logrus.Logger
	storefront   atomic.Pointer[store.Storefront]
	ngrokService *ngrok.Service
	httpServer   *http.Server

	mu      sync.Mutex // guards watcher and stopped
	watcher *fsnotify.Watcher
	stopped bool
}

// NewStoreServer creates a server instance. db may be nil when the run log
// is disabled; configPath may be empty when hot reload is not wanted.
func NewStoreServer(cfg *config.Config, configPath string, db *database.Database, logger *logrus.Logger) (*StoreServer, error) {
	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	ss := &StoreServer{
		config:       cfg,
		configPath:   configPath,
		db:           db,
		logger:       logger,
		ngrokService: ngrokSvc,
	}
	ss.storefront.Store(store.FromConfig(cfg, ss.recorder(), logger))

	// Shutdown may run before Start.
	ss.httpServer = &http.Server{
		Addr:         cfg.GetAddress(),
		Handler:      ss.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	return ss, nil
}

// recorder returns the run log, or nil when it is disabled. The explicit nil
// keeps a nil *Database out of the interface.
func (ss *StoreServer) recorder() store.RunRecorder {
	if ss.db == nil {
		return nil
	}
	return ss.db
}

// Storefront returns the storefront currently in use.
func (ss *StoreServer) Storefront() *store.Storefront {
	return ss.storefront.Load()
}

// Products builds the storefront with the current upstream settings.
func (ss *StoreServer) Products(ctx context.Context) ([]models.Product, error) {
	return ss.Storefront().Products(ctx)
}

// Handler builds the router with every route and middleware.
func (ss *StoreServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(ss.requestIDMiddleware)
	r.Use(ss.panicRecoveryMiddleware)
	r.Use(ss.requestLoggingMiddleware)
	r.Use(ss.metricsMiddleware)
	if ss.config.Server.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: ss.config.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "Mcp-Session-Id"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/store", ss.handleShowStorefront)
	r.Get("/health", ss.handleHealthCheck)
	r.Get("/api/config", ss.handleGetConfig)
	r.Get("/api/store/runs", ss.handleGetRuns)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if ss.config.MCP.Enabled {
		r.Handle("/mcp", mcp.Handler(ss, Version))
	}

	return r
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown, including one that happened before Start.
func (ss *StoreServer) Start() error {
	if ss.config.Watch.Enabled && ss.configPath != "" {
		if err := ss.startConfigWatcher(); err != nil {
			ss.logger.WithError(err).Warn("Could not start config watcher")
		}
	}

	localAddress := fmt.Sprintf("http://%s", ss.config.GetAddress())
	sf := ss.Storefront()
	ss.logger.WithFields(logrus.Fields{
		"address":        localAddress,
		"upstream":       sf.UpstreamURL(),
		"failure_policy": sf.Policy(),
		"mcp":            ss.config.MCP.Enabled,
	}).Info("OverSounds storefront starting")

	if ss.ngrokService != nil && !ss.isStopped() {
		if err := ss.ngrokService.StartTunnel(context.Background(), localAddress); err != nil {
			ss.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	if err := ss.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (ss *StoreServer) isStopped() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.stopped
}

// Shutdown gracefully stops the HTTP server, the watcher and the tunnel.
func (ss *StoreServer) Shutdown(ctx context.Context) error {
	ss.logger.Info("Shutting down storefront server...")

	ss.stopConfigWatcher()
	if err := ss.ngrokService.Stop(); err != nil {
		ss.logger.WithError(err).Warn("Failed to stop ngrok tunnel")
	}

	err := ss.httpServer.Shutdown(ctx)

	ss.logger.Info("Storefront server shutdown complete")
	return err
}
