package shadowstate

import (
	"colorlogic/internal/ha"
)

// StateManager is the subset of the state manager the capture helper needs.
// Declared here to avoid a circular import with the state package.
type StateManager interface {
	GetBool(key string) (bool, error)
	GetString(key string) (string, error)
}

// InputCaptureHelper snapshots the current values of everything a plugin
// subscribes to, keyed by entity ID or state variable name.
type InputCaptureHelper struct {
	registry     *SubscriptionRegistry
	haClient     ha.HAClient
	stateManager StateManager
}

// NewInputCaptureHelper creates a new input capture helper
func NewInputCaptureHelper(registry *SubscriptionRegistry, haClient ha.HAClient, stateManager StateManager) *InputCaptureHelper {
	return &InputCaptureHelper{
		registry:     registry,
		haClient:     haClient,
		stateManager: stateManager,
	}
}

// CaptureInputs captures all registered inputs for a plugin
func (h *InputCaptureHelper) CaptureInputs(pluginName string) map[string]interface{} {
	inputs := make(map[string]interface{})

	for _, entityID := range h.registry.GetHASubscriptions(pluginName) {
		state, err := h.haClient.GetState(entityID)
		if err != nil {
			inputs[entityID] = nil
			continue
		}
		inputs[entityID] = state.State
	}

	for _, stateKey := range h.registry.GetStateSubscriptions(pluginName) {
		inputs[stateKey] = h.getStateValue(stateKey)
	}

	return inputs
}

// CaptureInputsWithAdditional captures registered inputs plus extra values
// the caller wants to record alongside them.
func (h *InputCaptureHelper) CaptureInputsWithAdditional(pluginName string, additional map[string]interface{}) map[string]interface{} {
	inputs := h.CaptureInputs(pluginName)
	for key, value := range additional {
		inputs[key] = value
	}
	return inputs
}

// getStateValue reads a state variable without knowing its type
func (h *InputCaptureHelper) getStateValue(key string) interface{} {
	if boolVal, err := h.stateManager.GetBool(key); err == nil {
		return boolVal
	}
	if strVal, err := h.stateManager.GetString(key); err == nil {
		return strVal
	}
	return nil
}
