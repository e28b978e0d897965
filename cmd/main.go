package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"colorlogic/internal/api"
	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/ha"
	"colorlogic/internal/metrics"
	"colorlogic/internal/mqtt"
	"colorlogic/internal/notify"
	"colorlogic/internal/plugins/lights"
	"colorlogic/internal/plugins/reset"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/state"
	"colorlogic/internal/sun"
	pkgha "colorlogic/pkg/ha"
	"colorlogic/pkg/plugin"
	pkgstate "colorlogic/pkg/state"

	// Registers the schedule plugin with the global registry. The lights
	// plugin registers through its direct import above.
	_ "colorlogic/internal/plugins/schedule"
)

// lightsManagerProvider is implemented by the lights plugin adapter so the
// composition root can reach the manager for notifier installation.
type lightsManagerProvider interface {
	GetManager() *lights.Manager
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"
	configDir := envOr("CONFIG_DIR", "configs")
	apiPort := envInt(logger, "API_PORT", 8081)
	latitude := envFloat(logger, "LATITUDE", 0)
	longitude := envFloat(logger, "LONGITUDE", 0)

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	if latitude == 0 && longitude == 0 {
		logger.Warn("LATITUDE/LONGITUDE not set - dusk times will be wrong until they are")
	}

	logger.Info("Starting ColorLogic controller",
		zap.String("url", haURL),
		zap.Bool("read_only", readOnly),
		zap.String("config_dir", configDir))

	location := time.Local
	if tz := os.Getenv("TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Warn("Invalid TZ, using local time", zap.String("tz", tz), zap.Error(err))
		} else {
			location = loc
		}
	}

	// Load configuration
	configLoader := config.NewLoader(configDir, logger)
	if err := configLoader.LoadAll(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	configLoader.StartAutoReload()
	defer configLoader.Stop()

	// Connect to Home Assistant
	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	// Create State Manager and sync from HA
	stateManager := state.NewManager(client, logger, readOnly)
	if err := stateManager.SyncFromHA(); err != nil {
		logger.Fatal("Failed to sync state from HA", zap.Error(err))
	}
	if err := stateManager.SetupComputedState(); err != nil {
		logger.Fatal("Failed to set up computed state", zap.Error(err))
	}

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	// Shared services
	realClock := clock.NewRealClock()
	controls := control.Default()
	subscriptions := shadowstate.NewSubscriptionRegistry()
	sunCalculator := sun.NewCalculator(latitude, longitude, location, logger)

	// Instantiate plugins from the global registry
	ctx := plugin.NewContext(pkgha.WrapClient(client), pkgstate.WrapManager(stateManager),
		logger, readOnly, configDir, location)
	ctx.Clock = realClock
	ctx.ConfigLoader = configLoader
	ctx.Controls = controls
	ctx.ShadowRegistry = subscriptions
	ctx.SunCalculator = sunCalculator

	plugins, err := plugin.CreateAll(ctx)
	if err != nil {
		logger.Fatal("Failed to create plugins", zap.Error(err))
	}

	// Install the Slack notifier before trackers start reporting
	integrations := configLoader.GetIntegrationsConfig()
	if integrations.Slack.Enabled() {
		notifier := notify.NewSlackNotifier(integrations.Slack.WebhookURL, logger)
		for _, p := range plugins {
			if provider, ok := p.(lightsManagerProvider); ok {
				provider.GetManager().SetNotifier(notifier)
			}
		}
		logger.Info("Slack notifications enabled")
	}

	for _, p := range plugins {
		if err := p.Start(); err != nil {
			logger.Fatal("Failed to start plugin",
				zap.String("plugin", p.Name()),
				zap.Error(err))
		}
		logger.Info("Plugin started", zap.String("plugin", p.Name()))
	}
	defer func() {
		for i := len(plugins) - 1; i >= 0; i-- {
			plugins[i].Stop()
		}
	}()

	// Reset coordinator recalibrates every resettable plugin on the
	// dashboard resync trigger
	resettables := make([]reset.PluginWithName, 0, len(plugins))
	for _, p := range plugins {
		if r, ok := p.(plugin.Resettable); ok {
			resettables = append(resettables, reset.PluginWithName{Name: p.Name(), Plugin: r})
		}
	}
	resetCoordinator := reset.NewCoordinator(stateManager, logger, resettables)
	if err := resetCoordinator.Start(); err != nil {
		logger.Fatal("Failed to start reset coordinator", zap.Error(err))
	}
	defer resetCoordinator.Stop()

	// Prometheus metrics read live controller snapshots at scrape time
	prometheus.MustRegister(&metrics.Collector{
		Controls: controls,
		Clock:    realClock,
		Logger:   logger,
	})

	// HTTP API
	apiServer := api.NewServer(stateManager, controls, subscriptions, logger, apiPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer apiServer.Stop()

	// Optional MQTT status mirror
	if integrations.MQTT.Enabled() {
		publisher, err := mqtt.Connect(integrations.MQTT, controls, realClock, logger)
		if err != nil {
			logger.Error("Failed to connect to MQTT broker", zap.Error(err))
		} else {
			publisher.Start()
			defer publisher.Stop()
			logger.Info("MQTT status publishing enabled",
				zap.String("broker", integrations.MQTT.Broker))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ColorLogic controller running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(logger *zap.Logger, key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Int("default", fallback))
		return fallback
	}
	return value
}

func envFloat(logger *zap.Logger, key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("Invalid number in environment, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Float64("default", fallback))
		return fallback
	}
	return value
}
