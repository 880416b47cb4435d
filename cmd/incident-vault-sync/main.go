// -----------------------------------------------------------------------
// Last Modified: Sunday, 31st August 2026
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/handlers"
	"incident-vault-sync/internal/interfaces"
	"incident-vault-sync/internal/services"

	"github.com/ternarybob/arbor"
)

const serviceName = "incident-vault-sync"

func main() {
	// Parse command line flags
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		mode           = flag.String("mode", "dev", "Environment mode: 'dev', 'development', 'prod', or 'production'")
		quiet          = flag.Bool("quiet", false, "Suppress banner output")
		version        = flag.Bool("version", false, "Show version information")
		help           = flag.Bool("help", false, "Show help message")
		validateConfig = flag.Bool("validate", false, "Validate configuration file and exit")
		once           = flag.Bool("once", false, "Run a single sync cycle and exit")
		setSecret      = flag.String("set-secret", "", "Store the incident.io API key in the secret store and exit")
		clearSecret    = flag.Bool("clear-secret", false, "Remove the stored API key and exit")
	)
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("%s v%s (build: %s)\n", serviceName, common.GetVersion(), common.GetBuild())
		os.Exit(0)
	}

	// Handle help flag
	if *help {
		showHelp()
		os.Exit(0)
	}

	environment := parseMode(*mode)

	// Load configuration with priority: defaults -> TOML -> environment
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Collector.Environment = environment

	// Handle validate flag
	if *validateConfig {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize logger
	if err := common.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := common.GetLogger()

	logger.Info().
		Str("version", common.GetVersion()).
		Str("build", common.GetBuild()).
		Str("environment", environment).
		Msg("Starting Incident Vault Sync Service")

	logger.Info().
		Str("config_path", *configPath).
		Str("vault_path", cfg.Vault.Path).
		Msg("Configuration loaded")

	// Display startup banner after initial log messages (to ensure log file exists)
	if !*quiet {
		common.PrintBanner(serviceName, environment, cfg.Vault.Path, common.GetLogFilePath())
	}

	// Initialize services
	logger.Info().Msg("Initializing services...")

	storage, err := services.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize storage")
		os.Exit(1)
	}
	defer storage.Close()

	if *setSecret != "" || *clearSecret {
		key := *setSecret
		if *clearSecret {
			key = ""
		}
		if err := services.StoreAPIKey(storage, key); err != nil {
			logger.Error().Err(err).Msg("Failed to update secret store")
			os.Exit(1)
		}
		if key == "" {
			logger.Info().Msg("Stored API key removed, config file value will be used")
		} else {
			logger.Info().Msg("API key stored, it now takes precedence over the config file")
		}
		return
	}

	vault, err := services.NewVault(&cfg.Vault, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize vault")
		os.Exit(1)
	}

	cfg.IncidentIO.APIKey = services.ResolveAPIKey(storage, cfg, logger)
	if cfg.IncidentIO.APIKey == "" {
		logger.Error().Msg("No API key configured, set INCIDENTIO_API_KEY or store one in the secret store")
		os.Exit(1)
	}

	client := services.NewIncidentClient(&cfg.IncidentIO, logger)

	wsHub := handlers.NewWebSocketHub(logger)
	syncer := services.NewSyncer(cfg, client, vault, storage, wsHub, logger, nil)

	logger.Info().Msg("Services initialized successfully")

	// Verify API connectivity before settling into the schedule
	conn := client.TestConnection(context.Background())
	if conn.Success {
		logger.Info().Str("base_url", cfg.IncidentIO.BaseURL).Msg("API connection verified")
	} else {
		logger.Warn().Str("reason", conn.Reason).Msg("API connection check failed, sync will retry on schedule")
	}

	if *once {
		outcome := syncer.SyncNow(services.TriggerManual)
		if !outcome.Success {
			logger.Error().Str("reason", outcome.Reason).Msg("Sync failed")
			os.Exit(1)
		}
		logger.Info().Msg("Incident Vault Sync shutdown complete")
		return
	}

	runServerMode(cfg, *configPath, storage, syncer, wsHub, logger)

	if !*quiet {
		common.PrintShutdownBanner(serviceName)
	}
	logger.Info().Msg("Incident Vault Sync shutdown complete")
}

func runServerMode(cfg *common.Config, configPath string, storage interfaces.Storage, syncer interfaces.Syncer, wsHub *handlers.WebSocketHub, logger arbor.ILogger) {
	logger.Info().Msg("Starting in server mode")

	webServer, err := services.NewWebServer(cfg, storage, syncer, wsHub, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create web server")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := webServer.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start web server")
		return
	}

	logger.Info().
		Int("port", cfg.Collector.Port).
		Msg("Web server started successfully")

	// First cycle runs immediately, the scheduler takes over after that
	go syncer.SyncNow(services.TriggerStartup)
	go syncer.Run(ctx)

	// SIGHUP reloads settings in place, SIGINT/SIGTERM shut down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info().Msg("Server running - press Ctrl+C to stop")

	for {
		sig := <-sigChan
		if sig != syscall.SIGHUP {
			break
		}
		reloaded, err := common.LoadConfig(configPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Config reload failed, keeping current settings")
			continue
		}
		reloaded.Collector.Environment = cfg.Collector.Environment
		reloaded.IncidentIO.APIKey = services.ResolveAPIKey(storage, reloaded, logger)
		syncer.UpdateSettings(reloaded)
		logger.Info().Msg("Configuration reloaded, next sync cycle uses the new settings")
	}
	logger.Info().Msg("Shutdown signal received")

	cancel()

	if err := webServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping web server")
	}

	logger.Info().Msg("Server mode shutdown complete")
}

func parseMode(mode string) string {
	mode = strings.ToLower(mode)
	switch mode {
	case "prod", "production":
		return "production"
	case "dev", "development":
		return "development"
	default:
		return "development"
	}
}

func showHelp() {
	fmt.Printf("%s v%s - Incident Vault Sync\n\n", serviceName, common.GetVersion())
	fmt.Println("Usage:")
	fmt.Printf("  %s [flags]\n\n", os.Args[0])
	fmt.Println("Flags:")
	fmt.Println("  -mode string        Environment mode: 'dev', 'development', 'prod', or 'production' (default \"dev\")")
	fmt.Println("  -config string      Configuration file path")
	fmt.Println("  -once               Run a single sync cycle and exit")
	fmt.Println("  -quiet              Suppress banner output")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show help message")
	fmt.Println("  -validate           Validate configuration file and exit")
	fmt.Println("  -set-secret string  Store the incident.io API key in the secret store and exit")
	fmt.Println("  -clear-secret       Remove the stored API key and exit")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s                                  # Run in server mode\n", os.Args[0])
	fmt.Printf("  %s -once                            # Run one sync cycle and exit\n", os.Args[0])
	fmt.Printf("  %s -config /path/to/config.toml     # Use custom config file\n", os.Args[0])
}
