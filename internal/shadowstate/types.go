// Package shadowstate records what each plugin last saw and last did. The
// HTTP API serves these records so an operator can ask "why did the pool
// light change?" without scraping logs.
package shadowstate

import "time"

// PluginShadowState is the interface that all plugin shadow states must implement
type PluginShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// ShadowInputs tracks current and last-action input values
type ShadowInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// LightsShadowState is the shadow state for the lights plugin: one record
// per managed light plus the shared input snapshots.
type LightsShadowState struct {
	Plugin   string        `json:"plugin"`
	Inputs   ShadowInputs  `json:"inputs"`
	Outputs  LightsOutputs `json:"outputs"`
	Metadata StateMetadata `json:"metadata"`
}

// LightsOutputs tracks the per-light command history
type LightsOutputs struct {
	Lights         map[string]LightRecord `json:"lights"`
	LastActionTime time.Time              `json:"lastActionTime"`
}

// LightRecord is the last recorded action and tracking view of one light
type LightRecord struct {
	BelievedMode  string    `json:"believedMode,omitempty"`
	TrackingState string    `json:"trackingState"`
	TargetMode    string    `json:"targetMode,omitempty"`
	LastAction    time.Time `json:"lastAction"`
	ActionType    string    `json:"actionType"` // "set_mode", "next_mode", "reset", "power"
	Reason        string    `json:"reason"`
}

// GetCurrentInputs implements PluginShadowState
func (l *LightsShadowState) GetCurrentInputs() map[string]interface{} {
	return l.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (l *LightsShadowState) GetLastActionInputs() map[string]interface{} {
	return l.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (l *LightsShadowState) GetOutputs() interface{} {
	return l.Outputs
}

// GetMetadata implements PluginShadowState
func (l *LightsShadowState) GetMetadata() StateMetadata {
	return l.Metadata
}

// NewLightsShadowState creates a new lights shadow state
func NewLightsShadowState() *LightsShadowState {
	return &LightsShadowState{
		Plugin: "lights",
		Inputs: ShadowInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: LightsOutputs{
			Lights: make(map[string]LightRecord),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			PluginName:  "lights",
		},
	}
}

// ScheduleShadowState is the shadow state for the dusk schedule plugin.
type ScheduleShadowState struct {
	Plugin   string          `json:"plugin"`
	Inputs   ShadowInputs    `json:"inputs"`
	Outputs  ScheduleOutputs `json:"outputs"`
	Metadata StateMetadata   `json:"metadata"`
}

// ScheduleOutputs tracks the plan and history of the evening automation
type ScheduleOutputs struct {
	NextDusk       time.Time `json:"nextDusk,omitempty"`
	NextOff        time.Time `json:"nextOff,omitempty"`
	LastActionTime time.Time `json:"lastActionTime,omitempty"`
	LastActionType string    `json:"lastActionType,omitempty"` // "dusk_on" or "night_off"
	LastReason     string    `json:"lastReason,omitempty"`
}

// GetCurrentInputs implements PluginShadowState
func (s *ScheduleShadowState) GetCurrentInputs() map[string]interface{} {
	return s.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (s *ScheduleShadowState) GetLastActionInputs() map[string]interface{} {
	return s.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (s *ScheduleShadowState) GetOutputs() interface{} {
	return s.Outputs
}

// GetMetadata implements PluginShadowState
func (s *ScheduleShadowState) GetMetadata() StateMetadata {
	return s.Metadata
}

// NewScheduleShadowState creates a new schedule shadow state
func NewScheduleShadowState() *ScheduleShadowState {
	return &ScheduleShadowState{
		Plugin: "schedule",
		Inputs: ShadowInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			PluginName:  "schedule",
		},
	}
}
