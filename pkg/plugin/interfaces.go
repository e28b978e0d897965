// Package plugin provides the plugin system interfaces and registry for the
// pool light controller. Plugins can register themselves with the global
// registry using init() functions, allowing for compile-time plugin selection
// and override mechanisms for private implementations.
package plugin

import "colorlogic/internal/shadowstate"

// Plugin is the core interface that all plugins must implement.
// Plugins are responsible for automation logic in a specific domain
// (e.g., lights, schedule).
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	// This name is used for registration and logging.
	Name() string

	// Start begins the plugin's operation.
	// - Sets up subscriptions to state changes
	// - Starts any background goroutines
	// - Returns error if initialization fails
	Start() error

	// Stop gracefully shuts down the plugin.
	// - Unsubscribes from all state changes
	// - Stops any background goroutines
	// - Releases resources
	Stop()
}

// Resettable is an optional interface for plugins that support the system-wide
// resync mechanism. When the resync state variable is triggered, the resync
// coordinator calls Reset() on all plugins implementing this interface.
type Resettable interface {
	// Reset re-establishes known state. For the lights plugin this starts
	// the recalibration sequence on every managed light.
	// - Returns error if reset cannot begin
	Reset() error
}

// ShadowStateProvider is an optional interface for plugins that track their
// decision-making for observability. Shadow state captures the inputs that
// led to each action, enabling debugging and verification.
type ShadowStateProvider interface {
	// GetShadowState returns the current shadow state for the plugin.
	// The returned state captures recent decisions and their triggering inputs.
	GetShadowState() shadowstate.PluginShadowState
}

// Factory is a function that creates a new plugin instance given a context.
// Factories are registered with the global registry and called during
// application startup to instantiate plugins.
type Factory func(ctx *Context) (Plugin, error)
