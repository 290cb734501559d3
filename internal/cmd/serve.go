package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/analyzer"
	"github.com/piilens/piilens/internal/config"
	errwrap "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/observability"
	"github.com/piilens/piilens/internal/server"
	"github.com/piilens/piilens/internal/server/handlers"
	servermw "github.com/piilens/piilens/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	// Signal handlers are registered and ready
	return nil
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// analyzerHealthChecker probes the analyzer backend's health endpoint
type analyzerHealthChecker struct {
	baseURL string
	client  *http.Client
}

func (a analyzerHealthChecker) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "analyzer health request failed")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errwrap.WrapExternalService(ctx, err, "analyzer backend unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errwrap.NewExternalServiceError(
			fmt.Sprintf("analyzer health check returned status %d", resp.StatusCode))
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flag overrides are the top config layer
		overrides := map[string]any{}
		if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
			serverOverrides := map[string]any{}
			if cmd.Flags().Changed("host") {
				serverOverrides["host"] = serverHost
			}
			if cmd.Flags().Changed("port") {
				serverOverrides["port"] = serverPort
			}
			overrides["server"] = serverOverrides
		}

		cfg, err := config.Load(cmd.Context(), cfgFile, overrides)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration load failed")
		}

		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		// Initialize server logger with namespace
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Metrics.Port),
			zap.String("analyzer_url", cfg.Analyzer.BaseURL))

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		if cfg.Health.Enabled {
			hm.RegisterChecker("analyzer", analyzerHealthChecker{
				baseURL: cfg.Analyzer.BaseURL,
				client:  &http.Client{Timeout: 5 * time.Second},
			})
		}

		// Create the analyzer backend client
		backend := analyzer.NewClient(analyzer.ClientConfig{
			BaseURL:           cfg.Analyzer.BaseURL,
			Timeout:           cfg.Analyzer.Timeout,
			MinScore:          cfg.Analyzer.MinScore,
			RequestsPerMinute: cfg.Analyzer.RequestsPerMinute,
			PaceRPS:           cfg.Analyzer.PaceRPS,
		})

		// Create server
		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			RateLimit: servermw.RateLimiterConfig{
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				BurstLimit:        cfg.RateLimit.BurstLimit,
				BlockDuration:     cfg.RateLimit.BlockDuration,
			},
			Analyzer:        backend,
			DefaultLanguage: cfg.Analyzer.DefaultLanguage,
			MaxTextLength:   cfg.Server.MaxTextLength,
		})

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		// Background sweeper drops idle client windows and expired blocks
		sweepCtx, stopSweeper := context.WithCancel(context.Background())
		srv.RateLimiter().StartSweeper(sweepCtx, cfg.RateLimit.SweepInterval)

		// Get shutdown timeout from config
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Shutdown HTTP server and the sweeper (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			stopSweeper()

			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Load(ctx, cfgFile, overrides)
			if err != nil {
				observability.ServerLogger.Error("Failed to reload configuration",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			// Rate limiter and server wiring need a restart to pick up
			// changes; logging level applies immediately.
			observability.SetLevel(observability.ServerLogger, reloaded.Logging.Level)
			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("log_level", reloaded.Logging.Level))

			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
