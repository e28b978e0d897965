package schedule

import (
	"fmt"

	pkgha "colorlogic/pkg/ha"
	"colorlogic/pkg/plugin"
	pkgstate "colorlogic/pkg/state"

	"colorlogic/internal/shadowstate"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "schedule",
		Description: "Evening automation - dusk trigger, weekday modes, scheduled off",
		Priority:    plugin.PriorityDefault,
		Order:       20, // After the lights plugin (10) so controllers exist
		Factory:     createPlugin,
	})
}

// createPlugin creates a new schedule plugin instance from the plugin context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	haClient := pkgha.UnwrapClient(ctx.HAClient)
	if haClient == nil {
		return nil, fmt.Errorf("schedule plugin requires internal ha.HAClient")
	}

	stateManager := pkgstate.UnwrapManager(ctx.StateManager)
	if stateManager == nil {
		return nil, fmt.Errorf("schedule plugin requires internal state.Manager")
	}

	if ctx.ConfigLoader == nil {
		return nil, fmt.Errorf("schedule plugin requires a config loader")
	}
	if ctx.Controls == nil {
		return nil, fmt.Errorf("schedule plugin requires a controller registry")
	}
	if ctx.Clock == nil {
		return nil, fmt.Errorf("schedule plugin requires a clock")
	}
	if ctx.SunCalculator == nil {
		return nil, fmt.Errorf("schedule plugin requires a sun calculator")
	}

	manager := NewManager(haClient, stateManager, ctx.ConfigLoader, ctx.Controls,
		ctx.SunCalculator, ctx.Clock, ctx.Logger, ctx.ReadOnly, ctx.ShadowRegistry)
	return &pluginAdapter{manager: manager}, nil
}

// pluginAdapter wraps the Manager to implement the plugin.Plugin interface.
// The schedule does not implement plugin.Resettable: the resync trigger
// recalibrates lights and should not reshuffle armed timers.
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string {
	return "schedule"
}

func (p *pluginAdapter) Start() error {
	return p.manager.Start()
}

func (p *pluginAdapter) Stop() {
	p.manager.Stop()
}

// Implement plugin.ShadowStateProvider
func (p *pluginAdapter) GetShadowState() shadowstate.PluginShadowState {
	return p.manager.GetShadowState()
}

// GetManager returns the underlying Manager instance.
func (p *pluginAdapter) GetManager() *Manager {
	return p.manager
}
