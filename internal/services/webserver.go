package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/handlers"
	"incident-vault-sync/internal/interfaces"
	"incident-vault-sync/internal/middleware"

	"github.com/ternarybob/arbor"
)

// webServer provides HTTP endpoints for monitoring and manual sync control
type webServer struct {
	config      *common.Config
	server      *http.Server
	logger      arbor.ILogger
	apiHandlers *handlers.APIHandlers
	wsHub       *handlers.WebSocketHub
	running     bool
	startTime   time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg *common.Config, storage interfaces.Storage, syncer interfaces.Syncer, wsHub *handlers.WebSocketHub, logger arbor.ILogger) (interfaces.WebService, error) {
	mux := http.NewServeMux()

	apiHandlers := handlers.NewAPIHandlers(cfg, storage, syncer, logger, wsHub)

	ws := &webServer{
		config:      cfg,
		logger:      logger,
		apiHandlers: apiHandlers,
		wsHub:       wsHub,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Collector.Port),
			Handler: mux,
		},
	}

	// Create middleware chain
	logMiddleware := middleware.Logging(logger)
	corsMiddleware := middleware.CORS

	// Register API endpoints with middleware
	mux.HandleFunc("/health", logMiddleware(corsMiddleware(apiHandlers.HealthHandler)))
	mux.HandleFunc("/version", logMiddleware(corsMiddleware(apiHandlers.VersionHandler)))
	mux.HandleFunc("/status", logMiddleware(corsMiddleware(apiHandlers.StatusHandler)))
	mux.HandleFunc("/config", logMiddleware(corsMiddleware(apiHandlers.ConfigHandler)))
	mux.HandleFunc("/sync", logMiddleware(corsMiddleware(apiHandlers.SyncHandler)))

	// Register WebSocket endpoint
	mux.HandleFunc("/ws", corsMiddleware(wsHub.WebSocketHandler))

	return ws, nil
}

// Start starts the web server
func (ws *webServer) Start(ctx context.Context) error {
	ws.running = true
	ws.startTime = time.Now()

	go func() {
		ws.logger.Info().Int("port", ws.config.Collector.Port).Msg("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error().Err(err).Msg("Web server error")
		}
	}()
	return nil
}

// Stop stops the web server
func (ws *webServer) Stop() error {
	ws.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws.logger.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// IsRunning returns true if the web server is running
func (ws *webServer) IsRunning() bool {
	return ws.running
}
