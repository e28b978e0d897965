package shadowstate

import (
	"sync"
	"time"
)

// Tracker manages shadow state for all plugins
type Tracker struct {
	mu             sync.RWMutex
	pluginStates   map[string]PluginShadowState
	stateProviders map[string]func() PluginShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		pluginStates:   make(map[string]PluginShadowState),
		stateProviders: make(map[string]func() PluginShadowState),
	}
}

// RegisterPlugin registers a plugin's shadow state
func (t *Tracker) RegisterPlugin(pluginName string, state PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pluginStates[pluginName] = state
}

// RegisterPluginProvider registers a function that snapshots a plugin's
// shadow state on demand. Providers win over static registrations.
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateProviders[pluginName] = provider
}

// GetPluginState retrieves a plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if provider, ok := t.stateProviders[pluginName]; ok {
		return provider(), true
	}

	state, ok := t.pluginStates[pluginName]
	return state, ok
}

// GetAllPluginStates retrieves all plugin shadow states
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]PluginShadowState, len(t.pluginStates)+len(t.stateProviders))

	for k, v := range t.pluginStates {
		states[k] = v
	}
	for k, provider := range t.stateProviders {
		states[k] = provider()
	}

	return states
}

// LightsTracker maintains the lights plugin's shadow state
type LightsTracker struct {
	mu    sync.RWMutex
	state *LightsShadowState
}

// NewLightsTracker creates a new lights shadow state tracker
func NewLightsTracker() *LightsTracker {
	return &LightsTracker{
		state: NewLightsShadowState(),
	}
}

// UpdateCurrentInputs updates the current input values
func (lt *LightsTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for key, value := range inputs {
		lt.state.Inputs.Current[key] = value
	}
	lt.state.Metadata.LastUpdated = time.Now()
}

// SnapshotInputsForAction captures current inputs as the at-last-action snapshot
func (lt *LightsTracker) SnapshotInputsForAction() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.state.Inputs.AtLastAction = make(map[string]interface{})
	for key, value := range lt.state.Inputs.Current {
		lt.state.Inputs.AtLastAction[key] = value
	}
}

// RecordLightAction records a command issued for one light along with the
// tracking view at that moment.
func (lt *LightsTracker) RecordLightAction(lightName, actionType, reason, believedMode, trackingState, targetMode string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := time.Now()
	lt.state.Outputs.Lights[lightName] = LightRecord{
		BelievedMode:  believedMode,
		TrackingState: trackingState,
		TargetMode:    targetMode,
		LastAction:    now,
		ActionType:    actionType,
		Reason:        reason,
	}
	lt.state.Outputs.LastActionTime = now
	lt.state.Metadata.LastUpdated = now
}

// UpdateLightView refreshes a light's believed mode and tracking state
// without recording a new action, for event-driven updates like desyncs.
func (lt *LightsTracker) UpdateLightView(lightName, believedMode, trackingState string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	record := lt.state.Outputs.Lights[lightName]
	record.BelievedMode = believedMode
	record.TrackingState = trackingState
	lt.state.Outputs.Lights[lightName] = record
	lt.state.Metadata.LastUpdated = time.Now()
}

// GetState returns the current shadow state (thread-safe copy)
func (lt *LightsTracker) GetState() *LightsShadowState {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	stateCopy := &LightsShadowState{
		Plugin: lt.state.Plugin,
		Inputs: ShadowInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: LightsOutputs{
			Lights:         make(map[string]LightRecord),
			LastActionTime: lt.state.Outputs.LastActionTime,
		},
		Metadata: lt.state.Metadata,
	}

	for k, v := range lt.state.Inputs.Current {
		stateCopy.Inputs.Current[k] = v
	}
	for k, v := range lt.state.Inputs.AtLastAction {
		stateCopy.Inputs.AtLastAction[k] = v
	}
	for k, v := range lt.state.Outputs.Lights {
		stateCopy.Outputs.Lights[k] = v
	}

	return stateCopy
}

// ScheduleTracker maintains the schedule plugin's shadow state
type ScheduleTracker struct {
	mu    sync.RWMutex
	state *ScheduleShadowState
}

// NewScheduleTracker creates a new schedule shadow state tracker
func NewScheduleTracker() *ScheduleTracker {
	return &ScheduleTracker{
		state: NewScheduleShadowState(),
	}
}

// UpdateCurrentInputs updates the current input values
func (st *ScheduleTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for key, value := range inputs {
		st.state.Inputs.Current[key] = value
	}
	st.state.Metadata.LastUpdated = time.Now()
}

// SnapshotInputsForAction captures current inputs as the at-last-action snapshot
func (st *ScheduleTracker) SnapshotInputsForAction() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state.Inputs.AtLastAction = make(map[string]interface{})
	for key, value := range st.state.Inputs.Current {
		st.state.Inputs.AtLastAction[key] = value
	}
}

// RecordPlan stores the next planned dusk and off times.
func (st *ScheduleTracker) RecordPlan(nextDusk, nextOff time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state.Outputs.NextDusk = nextDusk
	st.state.Outputs.NextOff = nextOff
	st.state.Metadata.LastUpdated = time.Now()
}

// RecordTrigger records a fired schedule step.
func (st *ScheduleTracker) RecordTrigger(actionType, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.state.Outputs.LastActionTime = now
	st.state.Outputs.LastActionType = actionType
	st.state.Outputs.LastReason = reason
	st.state.Metadata.LastUpdated = now
}

// GetState returns the current shadow state (thread-safe copy)
func (st *ScheduleTracker) GetState() *ScheduleShadowState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stateCopy := &ScheduleShadowState{
		Plugin: st.state.Plugin,
		Inputs: ShadowInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs:  st.state.Outputs,
		Metadata: st.state.Metadata,
	}

	for k, v := range st.state.Inputs.Current {
		stateCopy.Inputs.Current[k] = v
	}
	for k, v := range st.state.Inputs.AtLastAction {
		stateCopy.Inputs.AtLastAction[k] = v
	}

	return stateCopy
}
