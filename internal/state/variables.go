package state

// StateType represents the type of a state variable
type StateType string

const (
	TypeBool   StateType = "bool"
	TypeString StateType = "string"
)

// StateVariable defines metadata for a state variable
type StateVariable struct {
	Key       string      // Go variable name (e.g., "poolLightsEnabled")
	EntityID  string      // HA entity ID (e.g., "input_boolean.pool_lights_enabled")
	Type      StateType   // bool, string
	Default   interface{} // Default value
	LocalOnly bool        // If true, only exists in memory, not synced with HA
}

// AllVariables contains the controller's state variables. Three are mirrored
// input_booleans on the Home Assistant dashboard; scheduleActive is computed
// locally from the two enables.
var AllVariables = []StateVariable{
	{Key: "poolLightsEnabled", EntityID: "input_boolean.pool_lights_enabled", Type: TypeBool, Default: true},
	{Key: "scheduleEnabled", EntityID: "input_boolean.pool_schedule_enabled", Type: TypeBool, Default: true},
	{Key: "resync", EntityID: "input_boolean.colorlogic_resync", Type: TypeBool, Default: false},

	// Phase of the evening automation, published by the schedule plugin
	{Key: "scheduleState", EntityID: "input_text.pool_schedule_state", Type: TypeString, Default: ""},

	// Computed: poolLightsEnabled && scheduleEnabled
	{Key: "scheduleActive", EntityID: "", Type: TypeBool, Default: false, LocalOnly: true},
}

// VariablesByKey creates a map of variables by their key
func VariablesByKey() map[string]StateVariable {
	vars := make(map[string]StateVariable)
	for _, v := range AllVariables {
		vars[v.Key] = v
	}
	return vars
}

// VariablesByEntityID creates a map of variables by their entity ID
func VariablesByEntityID() map[string]StateVariable {
	vars := make(map[string]StateVariable)
	for _, v := range AllVariables {
		if v.EntityID != "" {
			vars[v.EntityID] = v
		}
	}
	return vars
}
