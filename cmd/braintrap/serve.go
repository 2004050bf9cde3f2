package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/braintrap/internal/challenge"
	"github.com/goodtune/braintrap/internal/config"
	"github.com/goodtune/braintrap/internal/intercept"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/platform/bridge"
	"github.com/goodtune/braintrap/internal/policy"
	"github.com/goodtune/braintrap/internal/stats"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/storage/bolt"
	"github.com/goodtune/braintrap/internal/storage/redis"
	"github.com/goodtune/braintrap/internal/systemd"
	"github.com/goodtune/braintrap/internal/tags"
	"github.com/goodtune/braintrap/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// bridgeDrainTimeout bounds the wait for in-flight bridge events on shutdown.
const bridgeDrainTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement core",
	Long: `Run the enforcement core. Host events are read from stdin and commands
for the host are written to stdout, one JSON object per line. Logs go to stderr.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting BrainTrap")

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The host bridge is also the OS usage source and the UI
	hostBridge := bridge.New(os.Stdin, os.Stdout, bridge.Config{MaxInFlight: cfg.Bridge.MaxInFlight}, logger)

	// Initialize Usage Service
	usageService := usage.NewService(
		store.Usage(),
		store.Limits(),
		hostBridge,
		usage.Config{PollInterval: parseDuration(cfg.Usage.PollInterval, usage.DefaultPollInterval)},
		logger,
	)

	// Initialize Decision Engine
	engine := policy.NewEngine(
		store.Limits(),
		store.Settings(),
		usageService,
		policy.Config{
			HostAppID:         cfg.Engine.HostAppID,
			Debounce:          parseDuration(cfg.Engine.Debounce, policy.DefaultDebounce),
			UsageQueryTimeout: parseDuration(cfg.Engine.UsageQueryTimeout, policy.DefaultUsageQueryTimeout),
			LimitCacheSize:    cfg.Engine.LimitCacheSize,
			LimitCacheTTL:     parseDuration(cfg.Engine.LimitCacheTTL, time.Minute),
		},
		logger,
	)
	if err := engine.LoadFocusMode(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load focus mode, starting inactive")
	}

	logger.Info().Str("host_app_id", cfg.Engine.HostAppID).Msg("Decision Engine initialized")

	// Initialize Interception Controller
	controller := intercept.NewController(
		intercept.Deps{
			Engine:    engine,
			Navigator: hostBridge,
			Device:    hostBridge,
			Presenter: hostBridge,
			Store:     store,
			Tags:      tags.NewRegistry(store.Settings(), logger),
			Adapter:   challenge.NewAdapter(store.Attempts(), cfg.Challenge.HistoryWindow, logger),
			Generator: challenge.NewGenerator(0),
			Stats:     stats.NewCalculator(store, stats.DefaultLookbackDays, logger),
		},
		intercept.Config{
			SettleDelay:         parseDuration(cfg.Intercept.SettleDelay, intercept.DefaultSettleDelay),
			LockoutCountdown:    parseDuration(cfg.Intercept.LockoutCountdown, intercept.DefaultLockoutCountdown),
			FocusUnlockMinutes:  cfg.Intercept.FocusUnlockMinutes,
			DefaultBonusMinutes: cfg.Challenge.DefaultBonusMinutes,
			QueueSize:           cfg.Intercept.QueueSize,
			Session: challenge.SessionConfig{
				ProblemsRequired: cfg.Challenge.ProblemsRequired,
				ProblemTimeLimit: parseDuration(cfg.Challenge.ProblemTimeLimit, challenge.DefaultProblemTimeLimit),
			},
		},
		logger,
	)
	engine.SetInterceptor(controller)
	hostBridge.Attach(engine, controller)

	// Initialize Retention Scheduler
	retention, err := usage.NewRetention(store.Usage(), store.Attempts(), cfg.Usage.CleanupTime, cfg.Usage.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Retention Scheduler: %w", err)
	}
	retention.Start()

	usageService.Start(ctx)

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, logger)

		// Use systemd socket-activated listener if available
		ln, err := systemd.MetricsListener()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to get systemd metrics listener")
		} else if ln != nil {
			logger.Info().Msg("Running with systemd socket activation")
			metricsServer.SetListener(ln)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		_ = controller.Run(ctx)
	}()
	go systemd.RunWatchdog(ctx, logger)

	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- hostBridge.Serve(ctx) }()

	logger.Info().Msg("BrainTrap startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload) or the host closing stdin
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	bridgeStopped := false
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading limits and focus mode...")
				engine.InvalidateLimits()
				if err := engine.LoadFocusMode(ctx); err != nil {
					logger.Error().Err(err).Msg("Failed to reload focus mode")
				}
				continue
			}
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break loop

		case err := <-bridgeDone:
			bridgeStopped = true
			if err != nil {
				logger.Error().Err(err).Msg("Host bridge failed")
			} else {
				logger.Info().Msg("Host closed the event stream, stopping...")
			}
			break loop
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()

	// In-flight bridge dispatches still use the store.
	if !bridgeStopped {
		if err := drainBridge(bridgeDone, bridgeDrainTimeout); err != nil {
			logger.Warn().Err(err).Msg("Host bridge did not drain in time")
		}
	}
	<-controllerDone
	usageService.Stop()
	retention.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("BrainTrap stopped")

	return nil
}

// errBridgeDrain is returned when the bridge outlives the drain timeout.
var errBridgeDrain = errors.New("timed out waiting for bridge dispatches")

// drainBridge waits for Serve to return after its context was cancelled.
func drainBridge(done <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errBridgeDrain
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'bolt' or 'redis')", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration. Logs go to
// stderr because stdout carries bridge commands.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// quietLogger is used by the one-shot commands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// openFromConfig loads configuration and opens storage for one-shot commands.
func openFromConfig() (*config.Config, storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStorage(cfg.Storage)
	if errors.Is(err, storage.ErrLocked) {
		return nil, nil, fmt.Errorf("%w\n   The service holds the bolt store while running. Send limit_set, limit_delete,\n   tag_register, tag_clear or focus events over the bridge instead, or use redis storage", err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return cfg, store, nil
}
