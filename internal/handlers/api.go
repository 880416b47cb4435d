// -----------------------------------------------------------------------
// Last Modified: Sunday, 31st August 2026
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	"github.com/ternarybob/arbor"
)

// APIHandlers contains all API endpoint handlers
type APIHandlers struct {
	config    *common.Config
	storage   interfaces.Storage
	syncer    interfaces.Syncer
	logger    arbor.ILogger
	startTime time.Time
	wsHub     *WebSocketHub
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Uptime    float64   `json:"uptime_seconds"`
	Services  struct {
		Database bool `json:"database"`
	} `json:"services"`
}

// VersionResponse represents version information
type VersionResponse struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// StatusResponse represents the sync service status response
type StatusResponse struct {
	Running     bool                    `json:"running"`
	Syncing     bool                    `json:"syncing"`
	Uptime      float64                 `json:"uptime_seconds"`
	LastSync    *interfaces.SyncState   `json:"last_sync,omitempty"`
	LastOutcome *interfaces.SyncOutcome `json:"last_outcome,omitempty"`
}

// ConfigResponse represents the configuration display response. The API
// key never appears here.
type ConfigResponse struct {
	Collector  *common.CollectorConfig `json:"collector"`
	IncidentIO struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		APIKeySet      bool   `json:"api_key_set"`
	} `json:"incidentio"`
	Sync    *common.SyncConfig    `json:"sync"`
	Vault   *common.VaultConfig   `json:"vault"`
	Storage *common.StorageConfig `json:"storage"`
	Logging *common.LoggingConfig `json:"logging"`
}

// SyncResponse represents the response to a manual sync trigger
type SyncResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Outcome *interfaces.SyncOutcome `json:"outcome,omitempty"`
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(config *common.Config, storage interfaces.Storage, syncer interfaces.Syncer, logger arbor.ILogger, wsHub *WebSocketHub) *APIHandlers {
	return &APIHandlers{
		config:    config,
		storage:   storage,
		syncer:    syncer,
		logger:    logger,
		startTime: time.Now(),
		wsHub:     wsHub,
	}
}

// HealthHandler returns system health status
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   common.GetVersion(),
		Build:     common.GetBuild(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}

	health.Services.Database = h.testDatabaseConnection()
	if !health.Services.Database {
		health.Status = "degraded"
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode health response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// VersionHandler returns version information
func (h *APIHandlers) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	versionResp := VersionResponse{
		Version: common.GetVersion(),
		Build:   common.GetBuild(),
		Commit:  common.GetGitCommit(),
	}

	if err := json.NewEncoder(w).Encode(versionResp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode version response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// StatusHandler returns sync status and the outcome of the last cycle
func (h *APIHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := StatusResponse{
		Running: true,
		Syncing: h.syncer.IsSyncing(),
		Uptime:  time.Since(h.startTime).Seconds(),
	}

	state, err := h.storage.LoadSyncState()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to load sync state for status")
	} else {
		status.LastSync = state
	}
	status.LastOutcome = h.syncer.LastOutcome()

	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode status response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// ConfigHandler returns system configuration with credentials redacted
func (h *APIHandlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	config := ConfigResponse{
		Collector: &h.config.Collector,
		Sync:      &h.config.Sync,
		Vault:     &h.config.Vault,
		Storage:   &h.config.Storage,
		Logging:   &h.config.Logging,
	}
	config.IncidentIO.BaseURL = h.config.IncidentIO.BaseURL
	config.IncidentIO.TimeoutSeconds = h.config.IncidentIO.TimeoutSeconds
	config.IncidentIO.APIKeySet = h.config.IncidentIO.APIKey != ""

	if err := json.NewEncoder(w).Encode(config); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode config response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// SyncHandler triggers a sync cycle. A cycle already in flight causes the
// request to be rejected with 409 rather than queued.
func (h *APIHandlers) SyncHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trigger := "manual"
	if r.URL.Query().Get("historical") == "true" {
		trigger = "historical"
	}

	h.logger.Info().Str("trigger", trigger).Msg("Sync requested via API")

	outcome := h.syncer.SyncNow(trigger)

	response := SyncResponse{
		Success: outcome.Success,
		Outcome: outcome,
	}
	switch {
	case outcome.Rejected:
		response.Message = outcome.Reason
		w.WriteHeader(http.StatusConflict)
	case outcome.Success:
		response.Message = "Sync completed"
	default:
		response.Message = outcome.Reason
		w.WriteHeader(http.StatusInternalServerError)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode sync response")
	}
}

func (h *APIHandlers) testDatabaseConnection() bool {
	_, err := h.storage.LoadSyncState()
	return err == nil
}
