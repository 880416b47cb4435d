package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Collector  CollectorConfig  `toml:"collector"`
	IncidentIO IncidentIOConfig `toml:"incidentio"`
	Sync       SyncConfig       `toml:"sync"`
	Vault      VaultConfig      `toml:"vault"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
}

type CollectorConfig struct {
	Name            string `toml:"name"`
	Environment     string `toml:"environment"`
	Port            int    `toml:"port"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

type IncidentIOConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SyncConfig struct {
	UserIdentifier      string `toml:"user_identifier"`
	SectionHeader       string `toml:"section_header"`
	IncludeOnCall       bool   `toml:"include_oncall"`
	IncludeIncidents    bool   `toml:"include_incidents"`
	OmitEmptySections   bool   `toml:"omit_empty_sections"`
	CreateIncidentNotes bool   `toml:"create_incident_notes"`
	IncidentFolder      string `toml:"incident_folder"`
	HistoryDays         int    `toml:"history_days"`
	Backfill            bool   `toml:"backfill"`
}

type VaultConfig struct {
	Path        string `toml:"path"`
	DailyFolder string `toml:"daily_folder"`
	DailyFormat string `toml:"daily_format"`
}

type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	return &Config{
		Collector: CollectorConfig{
			Name:            execName,
			Environment:     "development",
			Port:            8080,
			IntervalMinutes: 15,
		},
		IncidentIO: IncidentIOConfig{
			BaseURL:        "https://api.incident.io",
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			SectionHeader:       "## Incidents",
			IncludeOnCall:       true,
			IncludeIncidents:    true,
			OmitEmptySections:   false,
			CreateIncidentNotes: true,
			IncidentFolder:      "Incidents",
			HistoryDays:         7,
			Backfill:            false,
		},
		Vault: VaultConfig{
			Path:        filepath.Join(execDir, "vault"),
			DailyFolder: "Daily",
			DailyFormat: "2006-01-02",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(execDir, "data", execName+".db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		// Auto-detect config file
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			return config, nil
		}
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if apiKey := os.Getenv("INCIDENTIO_API_KEY"); apiKey != "" {
		config.IncidentIO.APIKey = apiKey
	}
	if baseURL := os.Getenv("INCIDENTIO_BASE_URL"); baseURL != "" {
		config.IncidentIO.BaseURL = baseURL
	}
	if vaultPath := os.Getenv("VAULT_PATH"); vaultPath != "" {
		config.Vault.Path = vaultPath
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if portNum, err := strconv.Atoi(port); err == nil {
			config.Collector.Port = portNum
		}
	}
}

func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("vault path is required")
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is required")
	}

	if c.IncidentIO.BaseURL == "" {
		return fmt.Errorf("incidentio base_url is required")
	}

	if c.Sync.SectionHeader == "" {
		return fmt.Errorf("sync section_header is required")
	}

	if c.Collector.Port <= 0 {
		c.Collector.Port = 8080
	}

	if c.Collector.IntervalMinutes <= 0 {
		c.Collector.IntervalMinutes = 15
	}

	if c.IncidentIO.TimeoutSeconds <= 0 {
		c.IncidentIO.TimeoutSeconds = 30
	}

	if c.Sync.HistoryDays < 0 {
		return fmt.Errorf("sync history_days cannot be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Collector.Environment == "production"
}

// DailyNoteLocation returns the folder and date format used to compute a
// daily note path. Satisfies interfaces.DailyNoteProvider so the syncer
// stays agnostic to how the location is discovered.
func (c *Config) DailyNoteLocation() (string, string) {
	return c.Vault.DailyFolder, c.Vault.DailyFormat
}
