// Package reset watches the resync trigger and recalibrates every plugin
// that opts in. Flipping input_boolean.colorlogic_resync on starts a pass:
// the coordinator consumes the trigger, flips it back off, and calls Reset
// on each registered plugin.
package reset

import (
	"fmt"

	"colorlogic/internal/state"

	"go.uber.org/zap"
)

// Resettable is the slice of the plugin interface the coordinator needs.
type Resettable interface {
	Reset() error
}

// PluginWithName pairs a resettable plugin with its name for logging
type PluginWithName struct {
	Name   string
	Plugin Resettable
}

// Coordinator watches the resync boolean and orchestrates recalibration
type Coordinator struct {
	stateManager *state.Manager
	logger       *zap.Logger
	plugins      []PluginWithName
	subscription state.Subscription
}

// NewCoordinator creates a new resync coordinator. Read-only handling lives
// in the state manager, so the coordinator itself has no dry-run mode.
func NewCoordinator(stateManager *state.Manager, logger *zap.Logger, plugins []PluginWithName) *Coordinator {
	return &Coordinator{
		stateManager: stateManager,
		logger:       logger.Named("reset"),
		plugins:      plugins,
	}
}

// Start begins monitoring the resync boolean
func (c *Coordinator) Start() error {
	c.logger.Info("Starting Resync Coordinator",
		zap.Int("plugin_count", len(c.plugins)))

	sub, err := c.stateManager.Subscribe("resync", c.handleResyncChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to resync: %w", err)
	}
	c.subscription = sub

	c.logger.Info("Resync Coordinator started successfully")
	return nil
}

// Stop cleans up the coordinator
func (c *Coordinator) Stop() {
	if c.subscription != nil {
		c.subscription.Unsubscribe()
		c.subscription = nil
	}
	c.logger.Info("Resync Coordinator stopped")
}

// handleResyncChange processes resync boolean changes
func (c *Coordinator) handleResyncChange(key string, oldValue, newValue interface{}) {
	triggered, ok := newValue.(bool)
	if !ok {
		c.logger.Warn("Resync value is not a boolean", zap.Any("value", newValue))
		return
	}

	// Only act when resync goes from off to on
	if !triggered {
		return
	}

	// Consume the trigger exactly once; a failed swap means a duplicate
	// notification already handled this press.
	swapped, err := c.stateManager.CompareAndSwapBool("resync", true, false)
	if err != nil {
		c.logger.Error("Failed to consume resync trigger", zap.Error(err))
		// Continue with the recalibration anyway
	} else if !swapped {
		return
	}

	c.logger.Info("Resync triggered - recalibrating plugins")
	c.executeReset()
}

// executeReset calls Reset() on all plugins in order
func (c *Coordinator) executeReset() {
	successCount := 0
	errorCount := 0

	for _, p := range c.plugins {
		c.logger.Info("Resetting plugin", zap.String("plugin", p.Name))

		if err := p.Plugin.Reset(); err != nil {
			c.logger.Error("Failed to reset plugin",
				zap.String("plugin", p.Name),
				zap.Error(err))
			errorCount++
			continue
		}
		successCount++
	}

	c.logger.Info("Resync complete",
		zap.Int("success", successCount),
		zap.Int("errors", errorCount),
		zap.Int("total", len(c.plugins)))
}
