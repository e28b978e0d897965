package plugin

import (
	"time"

	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/sun"
	pkgha "colorlogic/pkg/ha"
	pkgstate "colorlogic/pkg/state"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
// It wraps the core services needed by all plugins in a single struct
// for cleaner constructor signatures.
//
// Note: HAClient and StateManager use interface types from pkg/ha and pkg/state
// respectively, which allows external packages to work with these types.
// The actual implementations from internal/ha and internal/state satisfy
// these interfaces.
type Context struct {
	// HAClient provides access to Home Assistant for service calls
	// and entity state subscriptions.
	HAClient pkgha.Client

	// StateManager provides access to the state variable system
	// for reading and writing state, and subscribing to changes.
	StateManager pkgstate.Manager

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates whether the application is in read-only mode.
	// When true, plugins should log what they would do but not make
	// actual changes to Home Assistant entities.
	ReadOnly bool

	// ConfigDir is the path to the configuration directory.
	// Plugins that need configuration files can find them here.
	ConfigDir string

	// Timezone is the configured timezone for time-based calculations.
	// Plugins that deal with dusk windows or schedules should use this.
	Timezone *time.Location

	// Clock is the time source plugins use for timers and scheduling.
	// Tests inject a mock clock here to drive pulse trains and dusk
	// triggers deterministically.
	Clock clock.Clock

	// ConfigLoader provides parsed light and schedule configuration.
	ConfigLoader *config.Loader

	// Controls is the registry where the lights plugin publishes a
	// controller per light, and where the schedule plugin and API
	// resolve them.
	Controls *control.Registry

	// ShadowRegistry tracks which entities and state variables each
	// plugin subscribes to, for input capture on recorded actions.
	// May be nil when shadow state tracking is disabled.
	ShadowRegistry *shadowstate.SubscriptionRegistry

	// SunCalculator computes the dusk times the schedule plugin arms
	// its evening trigger from.
	SunCalculator *sun.Calculator
}

// NewContext creates a new plugin context with all required dependencies.
// Optional dependencies (Clock, ConfigLoader, Controls, ShadowRegistry,
// SunCalculator) are assigned directly on the returned Context by the caller.
func NewContext(
	haClient pkgha.Client,
	stateManager pkgstate.Manager,
	logger *zap.Logger,
	readOnly bool,
	configDir string,
	timezone *time.Location,
) *Context {
	return &Context{
		HAClient:     haClient,
		StateManager: stateManager,
		Logger:       logger,
		ReadOnly:     readOnly,
		ConfigDir:    configDir,
		Timezone:     timezone,
	}
}
