package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func setupTestConfigDir(t *testing.T) string {
	tmpDir := t.TempDir()

	lightsConfig := `defaults:
  pulse_off_hold: 1s
  pulse_on_hold: 1s
  save_hold: 2500ms
  stabilization_window: 60s
  reset_window: 3m
  confirmation_timeout: 2m
  debounce_window: 2s
lights:
  - name: pool
    relay_entity: switch.pool_light_relay
    evening_mode: deep_blue_sea
  - name: spa
    relay_entity: switch.spa_light_relay
    evening_mode: aqua_green
    save_mode: false
    reset_shortcut_threshold: 0
    timing:
      reset_window: 4m
  - name: fountain
    relay_entity: switch.fountain_light_relay
    enabled: false
`
	err := os.WriteFile(filepath.Join(tmpDir, "lights.yaml"), []byte(lightsConfig), 0644)
	require.NoError(t, err)

	scheduleConfig := `dusk_offset: -15m
off_time: "22:30"
weekday_modes:
  friday: usa
  saturday: mardi_gras
`
	err = os.WriteFile(filepath.Join(tmpDir, "schedule.yaml"), []byte(scheduleConfig), 0644)
	require.NoError(t, err)

	integrationsConfig := `mqtt:
  broker: tcp://mosquitto:1883
  client_id: colorlogic
  topic_prefix: colorlogic
slack:
  webhook_url: https://hooks.slack.com/services/T000/B000/XXXX
`
	err = os.WriteFile(filepath.Join(tmpDir, "integrations.yaml"), []byte(integrationsConfig), 0644)
	require.NoError(t, err)

	return tmpDir
}

func TestLoader_LoadAll(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	configDir := setupTestConfigDir(t)

	loader := NewLoader(configDir, logger)
	err := loader.LoadAll()
	require.NoError(t, err)

	lights := loader.GetLightsConfig()
	require.NotNil(t, lights)
	assert.Len(t, lights.Lights, 3)

	schedule := loader.GetScheduleConfig()
	require.NotNil(t, schedule)
	assert.Equal(t, -15*time.Minute, schedule.DuskOffset.Std())

	integrations := loader.GetIntegrationsConfig()
	require.NotNil(t, integrations)
	assert.True(t, integrations.MQTT.Enabled())
	assert.True(t, integrations.Slack.Enabled())
}

func TestLoader_LoadLightsConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	configDir := setupTestConfigDir(t)

	loader := NewLoader(configDir, logger)
	err := loader.LoadLightsConfig()
	require.NoError(t, err)

	config := loader.GetLightsConfig()
	require.NotNil(t, config)

	pool := config.Lights[0]
	assert.Equal(t, "pool", pool.Name)
	assert.Equal(t, "switch.pool_light_relay", pool.RelayEntity)
	assert.Equal(t, "deep_blue_sea", pool.EveningMode)
	assert.True(t, pool.IsEnabled())
	assert.True(t, pool.SaveModeEnabled())
	assert.Nil(t, pool.ResetShortcutThreshold)

	spa := config.Lights[1]
	assert.False(t, spa.SaveModeEnabled())
	require.NotNil(t, spa.ResetShortcutThreshold)
	assert.Equal(t, 0, *spa.ResetShortcutThreshold)

	fountain := config.Lights[2]
	assert.False(t, fountain.IsEnabled())
}

func TestLoader_LightsValidation(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	testCases := []struct {
		name    string
		yaml    string
		errText string
	}{
		{
			name:    "no lights",
			yaml:    "lights: []\n",
			errText: "no lights configured",
		},
		{
			name: "missing name",
			yaml: `lights:
  - relay_entity: switch.pool_light_relay
`,
			errText: "name is required",
		},
		{
			name: "missing relay",
			yaml: `lights:
  - name: pool
`,
			errText: "relay_entity is required",
		},
		{
			name: "duplicate name",
			yaml: `lights:
  - name: pool
    relay_entity: switch.pool_light_relay
  - name: pool
    relay_entity: switch.spa_light_relay
`,
			errText: "duplicate name",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			err := os.WriteFile(filepath.Join(tmpDir, "lights.yaml"), []byte(tc.yaml), 0644)
			require.NoError(t, err)

			loader := NewLoader(tmpDir, logger)
			err = loader.LoadLightsConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errText)
		})
	}
}

func TestLoader_LoadScheduleConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	configDir := setupTestConfigDir(t)

	loader := NewLoader(configDir, logger)
	err := loader.LoadScheduleConfig()
	require.NoError(t, err)

	config := loader.GetScheduleConfig()
	require.NotNil(t, config)

	assert.Equal(t, -15*time.Minute, config.DuskOffset.Std())
	assert.True(t, config.OffTime.Set)
	assert.Equal(t, 22, config.OffTime.Hour)
	assert.Equal(t, 30, config.OffTime.Minute)

	mode, ok := config.ModeForWeekday(time.Friday)
	assert.True(t, ok)
	assert.Equal(t, "usa", mode)

	_, ok = config.ModeForWeekday(time.Tuesday)
	assert.False(t, ok)
}

func TestLoader_OptionalFilesAbsent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	tmpDir := t.TempDir()

	lightsConfig := `lights:
  - name: pool
    relay_entity: switch.pool_light_relay
`
	err := os.WriteFile(filepath.Join(tmpDir, "lights.yaml"), []byte(lightsConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader(tmpDir, logger)
	err = loader.LoadAll()
	require.NoError(t, err)

	schedule := loader.GetScheduleConfig()
	assert.Nil(t, schedule, "Missing schedule.yaml should leave the schedule unconfigured")

	integrations := loader.GetIntegrationsConfig()
	require.NotNil(t, integrations)
	assert.False(t, integrations.MQTT.Enabled())
	assert.False(t, integrations.Slack.Enabled())
}

func TestLoader_MissingLightsFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	configDir := t.TempDir() // Empty directory

	loader := NewLoader(configDir, logger)
	err := loader.LoadAll()
	assert.Error(t, err)
}

func TestTimingConfig_Merged(t *testing.T) {
	defaults := TimingConfig{
		PulseOffHold:        Duration(time.Second),
		PulseOnHold:         Duration(time.Second),
		SaveHold:            Duration(2500 * time.Millisecond),
		StabilizationWindow: Duration(60 * time.Second),
		ResetWindow:         Duration(3 * time.Minute),
		ConfirmationTimeout: Duration(2 * time.Minute),
		DebounceWindow:      Duration(2 * time.Second),
	}

	override := TimingConfig{
		ResetWindow: Duration(4 * time.Minute),
	}

	merged := override.Merged(defaults)
	assert.Equal(t, Duration(4*time.Minute), merged.ResetWindow)
	assert.Equal(t, Duration(time.Second), merged.PulseOffHold)
	assert.Equal(t, Duration(2500*time.Millisecond), merged.SaveHold)

	// Empty override inherits everything
	assert.Equal(t, defaults, TimingConfig{}.Merged(defaults))
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	testCases := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "1s", want: time.Second},
		{input: "2500ms", want: 2500 * time.Millisecond},
		{input: "3m", want: 3 * time.Minute},
		{input: "-15m", want: -15 * time.Minute},
		{input: "nonsense", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tc.input), &d)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Std())
		})
	}
}

func TestTimeOfDay_UnmarshalYAML(t *testing.T) {
	var tod TimeOfDay
	err := yaml.Unmarshal([]byte(`"22:30"`), &tod)
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 22, Minute: 30, Set: true}, tod)

	err = yaml.Unmarshal([]byte(`"06:15:30"`), &tod)
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 6, Minute: 15, Second: 30, Set: true}, tod)

	err = yaml.Unmarshal([]byte(`"25:99"`), &tod)
	assert.Error(t, err)

	anchored := TimeOfDay{Hour: 22, Minute: 30, Set: true}.At(
		time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 7, 1, 22, 30, 0, 0, time.UTC), anchored)
}
