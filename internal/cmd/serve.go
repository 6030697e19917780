package cmd

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/partflow/partflow/internal/config"
	"github.com/partflow/partflow/internal/core"
	"github.com/partflow/partflow/internal/core/enrich"
	"github.com/partflow/partflow/internal/core/queue"
	"github.com/partflow/partflow/internal/core/store"
	"github.com/partflow/partflow/internal/core/tracker"
	errwrap "github.com/partflow/partflow/internal/errors"
	"github.com/partflow/partflow/internal/metrics"
	"github.com/partflow/partflow/internal/notify"
	"github.com/partflow/partflow/internal/observability"
	"github.com/partflow/partflow/internal/server"
	"github.com/partflow/partflow/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	// Check if signal system is responsive
	// This is a basic check - in production you might want more sophisticated checks
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// storeHealthChecker verifies the usage store is reachable
type storeHealthChecker struct {
	db *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.db == nil {
		return errwrap.NewInternalError("usage store not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment server",
	Long: `Start the HTTP server with the enrichment queue dispatch loops and
graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

Shutdown drains the dispatch loops, requeues in-flight tasks, shuts down
the HTTP server, and flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		// Initialize server logger with namespace
		logLevel := viper.GetString("logging.level")
		observability.InitServerLogger(identity.BinaryName, logLevel, namespace)

		metricsPort := viper.GetInt("metrics.port")
		if metricsPort == 0 {
			metricsPort = 9090
		}

		// Initialize metrics with namespace
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			observability.ServerLogger.Error("Failed to initialize metrics",
				zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", serverHost),
			zap.Int("port", serverPort),
			zap.Int("metrics_port", metricsPort))

		// Open the usage store and apply migrations
		db, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "store open failed")
		}
		if err := db.Migrate(cmd.Context()); err != nil {
			_ = db.Close()
			return errwrap.WrapDatabaseError(cmd.Context(), err, "store migration failed")
		}

		// Notification hub fans rate limit and queue updates out to
		// SSE subscribers.
		hub := notify.NewHub(cfg.Enrichment.NotifyBuffer)

		trk := &tracker.Tracker{Store: db, Notifier: hub}

		// Catalog budgets seed the stored configs; configured overrides
		// win over the built-in numbers.
		catalog, err := supplierCatalog(cfg)
		if err != nil {
			_ = db.Close()
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "supplier catalog load failed")
		}
		budgets := core.DefaultBudgets(catalog)
		if err := trk.InitializeDefaultLimits(cmd.Context(), budgets); err != nil {
			_ = db.Close()
			return errwrap.WrapDatabaseError(cmd.Context(), err, "rate limit seeding failed")
		}

		mgr := queue.NewManager(catalog, queue.Config{
			MaxRetries: cfg.Enrichment.MaxRetries,
			IdleDelay:  cfg.Enrichment.IdleDelay,
		})
		mgr.Limiter = meteredLimiter{trk}
		mgr.Executor = meteredExecutor{&enrich.Simulator{Delay: cfg.Enrichment.SimulatorDelay}}
		mgr.Notifier = hub

		// Mirror queue status events into Prometheus gauges/counters.
		metricEvents, cancelMetricSub := hub.Subscribe()
		go observeQueueMetrics(metricEvents)

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("store", storeHealthChecker{db: db})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})

		// Inject services used by the API handlers
		handlers.SetQueueService(mgr)
		handlers.SetLimitService(trk)
		handlers.SetEventSource(hub)

		// Create server
		srv := server.New(serverHost, serverPort)

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		// Get shutdown timeout from config
		shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
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

		// Handler 2: Close the usage store
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Closing usage store...")
			return db.Close()
		})

		// Handler 3: Drain dispatch loops. In-flight tasks are requeued
		// as pending so a restart resumes them.
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Stopping enrichment dispatch...")
			mgr.Stop()
			cancelMetricSub()
			observability.ServerLogger.Info("Enrichment dispatch stopped")
			return nil
		})

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
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

			// Attempt to reload configuration
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))

			// TODO: Add hooks for components that need to react to config changes
			// - Update log levels if changed
			// - Update supplier budgets if changed
			// - Notify other components of config changes

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

		// Start dispatch loops
		if err := mgr.Start(cmd.Context()); err != nil {
			_ = db.Close()
			return errwrap.WrapInternal(cmd.Context(), err, "dispatch start failed")
		}
		observability.ServerLogger.Info("Enrichment dispatch started",
			zap.Strings("suppliers", mgr.Suppliers()),
			zap.Int("max_retries", cfg.Enrichment.MaxRetries))

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", serverHost),
				zap.Int("port", serverPort))
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

// meteredLimiter mirrors denied rate limit checks into counters.
type meteredLimiter struct {
	*tracker.Tracker
}

func (l meteredLimiter) CheckRateLimit(ctx context.Context, supplier, endpointType string) (*core.RateLimitStatus, error) {
	status, err := l.Tracker.CheckRateLimit(ctx, supplier, endpointType)
	if err == nil && status != nil && !status.Allowed {
		for _, window := range status.Violations {
			metrics.RecordRateLimitDenial(status.Supplier, window)
		}
	}
	return status, err
}

// meteredExecutor counts outbound supplier calls by outcome.
type meteredExecutor struct {
	inner queue.Executor
}

func (e meteredExecutor) Execute(ctx context.Context, task *core.EnrichmentTask, capability core.Capability) error {
	err := e.inner.Execute(ctx, task, capability)
	metrics.RecordSupplierRequest(task.Supplier, string(capability), err == nil)
	return err
}

// observeQueueMetrics consumes queue status events until the
// subscription is cancelled, keeping the per-supplier depth gauge and
// terminal-outcome counters current.
func observeQueueMetrics(events <-chan notify.Event) {
	prev := make(map[string]queue.QueueCounts)
	for event := range events {
		if event.Type != notify.EventQueueStatusUpdate {
			continue
		}
		status, ok := event.Payload.(queue.QueueStatus)
		if !ok {
			continue
		}

		counts := status.Counts
		metrics.SetQueueDepth(status.Supplier, counts.Pending)

		last := prev[status.Supplier]
		recordOutcomes(status.Supplier, "completed", counts.Completed-last.Completed)
		recordOutcomes(status.Supplier, "failed", counts.Failed-last.Failed)
		recordOutcomes(status.Supplier, "cancelled", counts.Cancelled-last.Cancelled)
		prev[status.Supplier] = counts
	}
}

func recordOutcomes(supplier, outcome string, delta int) {
	for i := 0; i < delta; i++ {
		metrics.RecordTaskOutcome(supplier, outcome)
	}
}

// supplierCatalog resolves the supplier catalog (built-in or from a
// configured YAML file) and applies budget and pacing overrides.
func supplierCatalog(cfg *config.Config) ([]core.SupplierInfo, error) {
	catalog := core.BuiltinCatalog()
	if path := strings.TrimSpace(cfg.Enrichment.SuppliersFile); path != "" {
		loaded, err := core.LoadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	for i := range catalog {
		name := core.NormalizeSupplier(catalog[i].Name)
		if budgets, ok := cfg.RateLimits[name]; ok {
			catalog[i].Budgets = core.WindowBudgets{
				PerMinute: budgets.PerMinute,
				PerHour:   budgets.PerHour,
				PerDay:    budgets.PerDay,
			}
		}
		if delay, ok := cfg.Enrichment.Pacing[name]; ok {
			catalog[i].PacingDelay = delay
		}
	}
	return catalog, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
