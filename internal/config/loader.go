package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TimingConfig holds the pulse and window durations for a light. Zero fields
// inherit from the file-level defaults, then from the built-in values.
type TimingConfig struct {
	PulseOffHold        Duration `yaml:"pulse_off_hold"`
	PulseOnHold         Duration `yaml:"pulse_on_hold"`
	SaveHold            Duration `yaml:"save_hold"`
	StabilizationWindow Duration `yaml:"stabilization_window"`
	ResetWindow         Duration `yaml:"reset_window"`
	ConfirmationTimeout Duration `yaml:"confirmation_timeout"`
	DebounceWindow      Duration `yaml:"debounce_window"`
}

// Merged returns t with zero fields filled in from defaults.
func (t TimingConfig) Merged(defaults TimingConfig) TimingConfig {
	pick := func(v, d Duration) Duration {
		if v != 0 {
			return v
		}
		return d
	}

	return TimingConfig{
		PulseOffHold:        pick(t.PulseOffHold, defaults.PulseOffHold),
		PulseOnHold:         pick(t.PulseOnHold, defaults.PulseOnHold),
		SaveHold:            pick(t.SaveHold, defaults.SaveHold),
		StabilizationWindow: pick(t.StabilizationWindow, defaults.StabilizationWindow),
		ResetWindow:         pick(t.ResetWindow, defaults.ResetWindow),
		ConfirmationTimeout: pick(t.ConfirmationTimeout, defaults.ConfirmationTimeout),
		DebounceWindow:      pick(t.DebounceWindow, defaults.DebounceWindow),
	}
}

// LightConfig describes one pool light in lights.yaml.
type LightConfig struct {
	Name                   string       `yaml:"name"`
	RelayEntity            string       `yaml:"relay_entity"`
	EveningMode            string       `yaml:"evening_mode"`
	Enabled                *bool        `yaml:"enabled"`
	SaveMode               *bool        `yaml:"save_mode"`
	ResetShortcutThreshold *int         `yaml:"reset_shortcut_threshold"`
	Timing                 TimingConfig `yaml:"timing"`
}

// IsEnabled reports whether the light should be managed; absent means yes.
func (lc LightConfig) IsEnabled() bool {
	return lc.Enabled == nil || *lc.Enabled
}

// SaveModeEnabled reports whether the save cycle runs after a mode change;
// absent means yes.
func (lc LightConfig) SaveModeEnabled() bool {
	return lc.SaveMode == nil || *lc.SaveMode
}

// LightsConfig represents the lights.yaml structure
type LightsConfig struct {
	Defaults TimingConfig  `yaml:"defaults"`
	Lights   []LightConfig `yaml:"lights"`
}

// Validate checks structural requirements: at least one light, names present
// and unique, relay entity set for every light.
func (c *LightsConfig) Validate() error {
	if len(c.Lights) == 0 {
		return fmt.Errorf("no lights configured")
	}

	seen := make(map[string]bool, len(c.Lights))
	for i, light := range c.Lights {
		if light.Name == "" {
			return fmt.Errorf("light %d: name is required", i)
		}
		if seen[light.Name] {
			return fmt.Errorf("light %q: duplicate name", light.Name)
		}
		seen[light.Name] = true

		if light.RelayEntity == "" {
			return fmt.Errorf("light %q: relay_entity is required", light.Name)
		}
	}

	return nil
}

// ScheduleConfig represents the schedule.yaml structure
type ScheduleConfig struct {
	DuskOffset   Duration          `yaml:"dusk_offset"`
	OffTime      TimeOfDay         `yaml:"off_time"`
	WeekdayModes map[string]string `yaml:"weekday_modes"`
}

// ModeForWeekday returns the mode key overriding every light's evening mode
// on the given weekday, if one is configured. Keys in weekday_modes are
// lowercase English day names.
func (c *ScheduleConfig) ModeForWeekday(day time.Weekday) (string, bool) {
	mode, ok := c.WeekdayModes[strings.ToLower(day.String())]
	return mode, ok && mode != ""
}

// MQTTConfig configures the optional status publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// SlackConfig configures the optional incident notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Enabled reports whether a webhook is configured.
func (c SlackConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// IntegrationsConfig represents the integrations.yaml structure
type IntegrationsConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Slack SlackConfig `yaml:"slack"`
}

// Loader manages configuration file loading and reloading
type Loader struct {
	configDir    string
	logger       *zap.Logger
	mu           sync.RWMutex
	lights       *LightsConfig
	schedule     *ScheduleConfig
	integrations *IntegrationsConfig
	stopChan     chan struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// LoadAll loads all configuration files. lights.yaml is required;
// schedule.yaml and integrations.yaml fall back to empty defaults when
// absent, which leaves the schedule and the integrations disabled.
func (l *Loader) LoadAll() error {
	l.logger.Info("Loading configuration files", zap.String("dir", l.configDir))

	if err := l.LoadLightsConfig(); err != nil {
		return fmt.Errorf("failed to load lights config: %w", err)
	}

	if err := l.LoadScheduleConfig(); err != nil {
		return fmt.Errorf("failed to load schedule config: %w", err)
	}

	if err := l.LoadIntegrationsConfig(); err != nil {
		return fmt.Errorf("failed to load integrations config: %w", err)
	}

	l.logger.Info("All configuration files loaded successfully")
	return nil
}

// LoadLightsConfig loads the lights.yaml file
func (l *Loader) LoadLightsConfig() error {
	path := filepath.Join(l.configDir, "lights.yaml")
	l.logger.Debug("Loading lights config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read lights config: %w", err)
	}

	var config LightsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse lights config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid lights config: %w", err)
	}

	l.mu.Lock()
	l.lights = &config
	l.mu.Unlock()

	l.logger.Info("Lights config loaded successfully",
		zap.Int("lights", len(config.Lights)))
	return nil
}

// LoadScheduleConfig loads the schedule.yaml file
func (l *Loader) LoadScheduleConfig() error {
	path := filepath.Join(l.configDir, "schedule.yaml")
	l.logger.Debug("Loading schedule config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.logger.Info("No schedule config found, schedule disabled")
		l.mu.Lock()
		l.schedule = nil
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schedule config: %w", err)
	}

	var config ScheduleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse schedule config: %w", err)
	}

	l.mu.Lock()
	l.schedule = &config
	l.mu.Unlock()

	l.logger.Info("Schedule config loaded successfully")
	return nil
}

// LoadIntegrationsConfig loads the integrations.yaml file
func (l *Loader) LoadIntegrationsConfig() error {
	path := filepath.Join(l.configDir, "integrations.yaml")
	l.logger.Debug("Loading integrations config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.logger.Info("No integrations config found, MQTT and Slack disabled")
		l.mu.Lock()
		l.integrations = &IntegrationsConfig{}
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read integrations config: %w", err)
	}

	var config IntegrationsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse integrations config: %w", err)
	}

	l.mu.Lock()
	l.integrations = &config
	l.mu.Unlock()

	l.logger.Info("Integrations config loaded successfully",
		zap.Bool("mqtt", config.MQTT.Enabled()),
		zap.Bool("slack", config.Slack.Enabled()))
	return nil
}

// GetLightsConfig returns the loaded lights configuration
func (l *Loader) GetLightsConfig() *LightsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lights
}

// GetScheduleConfig returns the loaded schedule configuration. It is nil
// when no schedule.yaml exists, which leaves the evening schedule idle.
func (l *Loader) GetScheduleConfig() *ScheduleConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.schedule
}

// GetIntegrationsConfig returns the loaded integrations configuration
func (l *Loader) GetIntegrationsConfig() *IntegrationsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.integrations
}

// StartAutoReload starts automatic configuration reloading at 00:01 daily
func (l *Loader) StartAutoReload() {
	l.logger.Info("Starting auto-reload scheduler (daily at 00:01)")

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 1, 0, 0, now.Location())
	duration := next.Sub(now)

	go func() {
		timer := time.NewTimer(duration)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				l.logger.Info("Auto-reloading configurations")
				if err := l.LoadAll(); err != nil {
					l.logger.Error("Failed to auto-reload configs", zap.Error(err))
				}

				timer.Reset(24 * time.Hour)

			case <-l.stopChan:
				l.logger.Info("Stopping auto-reload scheduler")
				return
			}
		}
	}()
}

// Stop stops the auto-reload scheduler
func (l *Loader) Stop() {
	close(l.stopChan)
}
