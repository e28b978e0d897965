package lights

import (
	"fmt"

	pkgha "colorlogic/pkg/ha"
	"colorlogic/pkg/plugin"
	pkgstate "colorlogic/pkg/state"

	"colorlogic/internal/shadowstate"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "lights",
		Description: "Pool light mode tracking - trackers, relay devices, mirrors, controllers",
		Priority:    plugin.PriorityDefault,
		Order:       10, // Before the schedule plugin (20), which resolves controllers
		Factory:     createPlugin,
	})
}

// createPlugin creates a new lights plugin instance from the plugin context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	haClient := pkgha.UnwrapClient(ctx.HAClient)
	if haClient == nil {
		return nil, fmt.Errorf("lights plugin requires internal ha.HAClient")
	}

	stateManager := pkgstate.UnwrapManager(ctx.StateManager)
	if stateManager == nil {
		return nil, fmt.Errorf("lights plugin requires internal state.Manager")
	}

	if ctx.ConfigLoader == nil {
		return nil, fmt.Errorf("lights plugin requires a config loader")
	}
	if ctx.Controls == nil {
		return nil, fmt.Errorf("lights plugin requires a controller registry")
	}
	if ctx.Clock == nil {
		return nil, fmt.Errorf("lights plugin requires a clock")
	}

	manager := NewManager(haClient, stateManager, ctx.ConfigLoader, ctx.Controls,
		ctx.Clock, ctx.Logger, ctx.ReadOnly, ctx.ShadowRegistry)
	return &pluginAdapter{manager: manager}, nil
}

// pluginAdapter wraps the Manager to implement the plugin.Plugin interface.
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string {
	return "lights"
}

func (p *pluginAdapter) Start() error {
	return p.manager.Start()
}

func (p *pluginAdapter) Stop() {
	p.manager.Stop()
}

// Implement plugin.Resettable
func (p *pluginAdapter) Reset() error {
	return p.manager.Reset()
}

// Implement plugin.ShadowStateProvider
func (p *pluginAdapter) GetShadowState() shadowstate.PluginShadowState {
	return p.manager.GetShadowState()
}

// GetManager returns the underlying Manager instance, for wiring that needs
// the full API (notifier installation, shadow state registration).
func (p *pluginAdapter) GetManager() *Manager {
	return p.manager
}
