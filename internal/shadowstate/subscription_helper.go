package shadowstate

import (
	"fmt"

	"colorlogic/internal/ha"
	"colorlogic/internal/state"

	"go.uber.org/zap"
)

// ShadowInputUpdater is the interface shadow trackers implement to receive
// automatic input updates from SubscriptionHelper.
type ShadowInputUpdater interface {
	UpdateCurrentInputs(inputs map[string]interface{})
}

// SubscriptionHelper wraps HA and state subscriptions so shadow inputs are
// captured automatically before each handler runs, and so a plugin can tear
// everything down with one call.
type SubscriptionHelper struct {
	haClient      ha.HAClient
	stateManager  *state.Manager
	registry      *SubscriptionRegistry
	inputHelper   *InputCaptureHelper
	shadowTracker ShadowInputUpdater
	pluginName    string
	logger        *zap.Logger

	haSubscriptions    []ha.Subscription
	stateSubscriptions []state.Subscription
}

// NewSubscriptionHelper creates a new subscription helper for a plugin.
// The shadowTracker receives automatic input updates before each handler runs.
func NewSubscriptionHelper(
	haClient ha.HAClient,
	stateManager *state.Manager,
	registry *SubscriptionRegistry,
	shadowTracker ShadowInputUpdater,
	pluginName string,
	logger *zap.Logger,
) *SubscriptionHelper {
	h := &SubscriptionHelper{
		haClient:           haClient,
		stateManager:       stateManager,
		registry:           registry,
		shadowTracker:      shadowTracker,
		pluginName:         pluginName,
		logger:             logger,
		haSubscriptions:    make([]ha.Subscription, 0),
		stateSubscriptions: make([]state.Subscription, 0),
	}

	if registry != nil {
		h.inputHelper = NewInputCaptureHelper(registry, haClient, stateManager)
	}

	return h
}

// captureInputs captures all registered inputs and updates the shadow
// tracker. Called before every handler.
func (h *SubscriptionHelper) captureInputs() {
	if h.inputHelper == nil || h.shadowTracker == nil {
		return
	}
	inputs := h.inputHelper.CaptureInputs(h.pluginName)
	h.shadowTracker.UpdateCurrentInputs(inputs)
}

// SubscribeToEntity subscribes to a Home Assistant entity with full state
// access. Shadow inputs are captured before the handler is called.
func (h *SubscriptionHelper) SubscribeToEntity(entityID string, handler func(entityID string, oldState, newState *ha.State)) error {
	if h.registry != nil {
		h.registry.RegisterHASubscription(h.pluginName, entityID)
	}

	sub, err := h.haClient.SubscribeStateChanges(entityID, func(entity string, oldState, newState *ha.State) {
		h.captureInputs()
		handler(entity, oldState, newState)
	})

	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
	}

	h.haSubscriptions = append(h.haSubscriptions, sub)
	return nil
}

// SubscribeToState subscribes to a state variable change.
// Shadow inputs are captured before the handler is called.
func (h *SubscriptionHelper) SubscribeToState(key string, handler func(key string, oldValue, newValue interface{})) error {
	if h.registry != nil {
		h.registry.RegisterStateSubscription(h.pluginName, key)
	}

	sub, err := h.stateManager.Subscribe(key, func(k string, oldValue, newValue interface{}) {
		h.captureInputs()
		handler(k, oldValue, newValue)
	})

	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	h.stateSubscriptions = append(h.stateSubscriptions, sub)
	return nil
}

// GetHASubscriptions returns all HA subscriptions (for manual cleanup if needed)
func (h *SubscriptionHelper) GetHASubscriptions() []ha.Subscription {
	return h.haSubscriptions
}

// GetStateSubscriptions returns all state subscriptions (for manual cleanup if needed)
func (h *SubscriptionHelper) GetStateSubscriptions() []state.Subscription {
	return h.stateSubscriptions
}

// UnsubscribeAll cleans up all subscriptions
func (h *SubscriptionHelper) UnsubscribeAll() {
	for _, sub := range h.haSubscriptions {
		sub.Unsubscribe()
	}
	h.haSubscriptions = nil

	for _, sub := range h.stateSubscriptions {
		sub.Unsubscribe()
	}
	h.stateSubscriptions = nil
}
