package lights

import (
	"errors"
	"fmt"

	"colorlogic/internal/catalog"
	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/ha"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/state"
	"colorlogic/internal/tracker"

	"go.uber.org/zap"
)

// ErrLightsDisabled is returned for mode and power commands while the
// poolLightsEnabled master switch is off. Reset stays allowed: recalibration
// is recovery, not automation.
var ErrLightsDisabled = errors.New("pool lights are disabled")

// Notifier receives noteworthy tracking events. Nil disables notifications.
type Notifier interface {
	LightDesynced(light, reason string)
	LightRecalibrated(light, mode string)
}

// managedLight bundles one light's runtime pieces.
type managedLight struct {
	cfg     config.LightConfig
	device  *relayDevice
	tracker *tracker.Tracker
}

// Manager owns one mode tracker per configured light and bridges them to
// Home Assistant: relay state changes feed power observations in, the mode
// and busy mirror entities publish tracking state out, and the controller
// registry exposes the command surface to the API and schedule plugins.
type Manager struct {
	haClient     ha.HAClient
	stateManager *state.Manager
	configLoader *config.Loader
	controls     *control.Registry
	clk          clock.Clock
	logger       *zap.Logger
	readOnly     bool
	notifier     Notifier

	lights map[string]*managedLight

	shadowTracker *shadowstate.LightsTracker
	subHelper     *shadowstate.SubscriptionHelper
}

// NewManager creates a new Pool Lights manager. The shadow registry may be
// nil, in which case subscriptions are not recorded for the API.
func NewManager(
	haClient ha.HAClient,
	stateManager *state.Manager,
	configLoader *config.Loader,
	controls *control.Registry,
	clk clock.Clock,
	logger *zap.Logger,
	readOnly bool,
	registry *shadowstate.SubscriptionRegistry,
) *Manager {
	m := &Manager{
		haClient:     haClient,
		stateManager: stateManager,
		configLoader: configLoader,
		controls:     controls,
		clk:          clk,
		logger:       logger.Named("lights"),
		readOnly:     readOnly,
		lights:       make(map[string]*managedLight),
	}
	m.shadowTracker = shadowstate.NewLightsTracker()
	m.subHelper = shadowstate.NewSubscriptionHelper(haClient, stateManager, registry, m.shadowTracker, "lights", m.logger)
	return m
}

// SetNotifier installs the notifier. Call before Start.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Start builds a tracker per enabled light, subscribes to the relays, seeds
// the power state, and registers the controllers.
func (m *Manager) Start() error {
	m.logger.Info("Starting Pool Lights Manager")

	cfg := m.configLoader.GetLightsConfig()
	if cfg == nil {
		return fmt.Errorf("lights configuration not loaded")
	}

	for _, lightCfg := range cfg.Lights {
		if !lightCfg.IsEnabled() {
			m.logger.Info("Skipping disabled light", zap.String("light", lightCfg.Name))
			continue
		}
		if err := m.startLight(lightCfg, cfg.Defaults); err != nil {
			m.stopLights()
			return fmt.Errorf("failed to start light %s: %w", lightCfg.Name, err)
		}
	}

	// The master enable is checked per command; the subscription keeps the
	// change visible in logs and in the recorded inputs.
	if err := m.subHelper.SubscribeToState("poolLightsEnabled", func(key string, oldValue, newValue interface{}) {
		m.logger.Info("Master enable changed",
			zap.Any("old", oldValue),
			zap.Any("new", newValue))
	}); err != nil {
		m.stopLights()
		return fmt.Errorf("failed to subscribe to poolLightsEnabled: %w", err)
	}

	m.updateShadowInputs()

	m.logger.Info("Pool Lights Manager started successfully",
		zap.Int("lights", len(m.lights)))
	return nil
}

// startLight wires one light: timing policy, relay device, tracker, relay
// subscription, initial power sync, mirror entities, controller registration.
func (m *Manager) startLight(lightCfg config.LightConfig, defaults config.TimingConfig) error {
	timing := lightCfg.Timing.Merged(defaults)

	trackerCfg := tracker.Config{
		Name:           lightCfg.Name,
		PulseOffHold:   timing.PulseOffHold.Std(),
		PulseOnHold:    timing.PulseOnHold.Std(),
		SaveHold:       timing.SaveHold.Std(),
		Stabilization:  timing.StabilizationWindow.Std(),
		ResetWindow:    timing.ResetWindow.Std(),
		ConfirmTimeout: timing.ConfirmationTimeout.Std(),
		Debounce:       timing.DebounceWindow.Std(),
		SaveMode:       lightCfg.SaveModeEnabled(),
	}
	if lightCfg.ResetShortcutThreshold != nil {
		trackerCfg.ResetShortcutThreshold = *lightCfg.ResetShortcutThreshold
	} else {
		trackerCfg.ResetShortcutThreshold = tracker.DefaultConfig(lightCfg.Name).ResetShortcutThreshold
	}

	light := &managedLight{cfg: lightCfg}
	light.device = newRelayDevice(lightCfg.Name, lightCfg.RelayEntity, m.haClient, m.clk, m.logger, m.readOnly,
		func(on bool) { light.tracker.ObservePower(on) })
	light.tracker = tracker.New(trackerCfg, light.device, m.clk, m.logger)

	name := lightCfg.Name
	light.tracker.SetEventHandler(func(ev tracker.Event) {
		m.handleTrackerEvent(name, ev)
	})

	if err := m.subHelper.SubscribeToEntity(lightCfg.RelayEntity, m.relayHandler(light)); err != nil {
		return err
	}

	// Seed the power state so the first relay transition is interpreted
	// against something real rather than inferred.
	if on, err := light.device.PowerState(); err == nil {
		light.tracker.ObservePower(on)
	} else {
		m.logger.Warn("Could not read initial relay state",
			zap.String("light", name),
			zap.String("entity_id", lightCfg.RelayEntity),
			zap.Error(err))
	}

	m.publishMode(name, nil)
	m.publishBusy(name, false)

	if err := m.controls.Register(name, &lightController{manager: m, light: light}); err != nil {
		return err
	}

	m.lights[name] = light
	m.logger.Info("Light tracking started",
		zap.String("light", name),
		zap.String("relay", lightCfg.RelayEntity),
		zap.Bool("save_mode", trackerCfg.SaveMode),
		zap.Int("reset_shortcut_threshold", trackerCfg.ResetShortcutThreshold))
	return nil
}

// Stop unregisters controllers and tears down trackers and subscriptions.
func (m *Manager) Stop() {
	m.logger.Info("Stopping Pool Lights Manager")
	m.subHelper.UnsubscribeAll()
	m.stopLights()
	m.logger.Info("Pool Lights Manager stopped")
}

func (m *Manager) stopLights() {
	for name, light := range m.lights {
		m.controls.Unregister(name)
		light.tracker.Stop()
		light.device.stop()
	}
}

// Reset starts recalibration on every managed light. Lights with an
// operation already running are skipped with a logged error rather than
// preempted.
func (m *Manager) Reset() error {
	m.logger.Info("Resetting Pool Lights - recalibrating all lights")

	for name, light := range m.lights {
		if err := light.tracker.Reset(); err != nil {
			m.logger.Error("Could not start recalibration",
				zap.String("light", name),
				zap.Error(err))
		}
	}
	return nil
}

// GetShadowState returns the current shadow state
func (m *Manager) GetShadowState() *shadowstate.LightsShadowState {
	return m.shadowTracker.GetState()
}

// relayHandler feeds real relay transitions into a light's tracker.
// Attribute-only updates and unavailable states carry no power information.
func (m *Manager) relayHandler(light *managedLight) func(entityID string, oldState, newState *ha.State) {
	return func(entityID string, oldState, newState *ha.State) {
		if newState == nil {
			return
		}
		if oldState != nil && oldState.State == newState.State {
			return
		}
		switch newState.State {
		case "on":
			light.tracker.ObservePower(true)
		case "off":
			light.tracker.ObservePower(false)
		default:
			m.logger.Debug("Ignoring relay state",
				zap.String("entity_id", entityID),
				zap.String("state", newState.State))
		}
	}
}

// handleTrackerEvent mirrors tracker state to HA and the shadow state. It
// runs on tracker goroutines and must not issue tracker commands.
func (m *Manager) handleTrackerEvent(lightName string, ev tracker.Event) {
	switch ev.Type {
	case tracker.EventOperationStarted:
		m.publishBusy(lightName, true)
		m.recordAction(lightName, actionTypeFor(ev.Op), reasonFor(ev), ev.Status)

	case tracker.EventOperationCompleted:
		m.publishBusy(lightName, false)
		m.publishMode(lightName, ev.Status.Believed)
		m.shadowTracker.UpdateLightView(lightName, believedKey(ev.Status.Believed), string(ev.Status.State))
		if ev.Op == tracker.OpResetting && m.notifier != nil {
			m.notifier.LightRecalibrated(lightName, believedKey(ev.Status.Believed))
		}

	case tracker.EventDesynced:
		m.publishBusy(lightName, false)
		m.publishMode(lightName, nil)
		m.shadowTracker.UpdateLightView(lightName, believedKey(nil), string(ev.Status.State))
		if m.notifier != nil {
			m.notifier.LightDesynced(lightName, ev.Status.LastError)
		}

	case tracker.EventExternalAdvance:
		m.publishMode(lightName, ev.Status.Believed)
		m.shadowTracker.UpdateLightView(lightName, believedKey(ev.Status.Believed), string(ev.Status.State))
	}
}

// publishMode mirrors the believed mode to input_text.<name>_mode.
func (m *Manager) publishMode(lightName string, believed *catalog.Mode) {
	entityName := lightName + "_mode"
	value := believedKey(believed)

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would publish believed mode",
			zap.String("light", lightName),
			zap.String("mode", value))
		return
	}

	if err := m.haClient.SetInputText(entityName, value); err != nil {
		m.logger.Error("Failed to publish believed mode",
			zap.String("light", lightName),
			zap.String("mode", value),
			zap.Error(err))
	}
}

// publishBusy mirrors the in-flight flag to input_boolean.<name>_busy.
func (m *Manager) publishBusy(lightName string, busy bool) {
	entityName := lightName + "_busy"

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would publish busy flag",
			zap.String("light", lightName),
			zap.Bool("busy", busy))
		return
	}

	if err := m.haClient.SetInputBoolean(entityName, busy); err != nil {
		m.logger.Error("Failed to publish busy flag",
			zap.String("light", lightName),
			zap.Bool("busy", busy),
			zap.Error(err))
	}
}

// commandAllowed enforces the master enable for commands that move a light.
func (m *Manager) commandAllowed() error {
	enabled, err := m.stateManager.GetBool("poolLightsEnabled")
	if err != nil {
		m.logger.Warn("Could not read poolLightsEnabled, allowing command", zap.Error(err))
		return nil
	}
	if !enabled {
		return ErrLightsDisabled
	}
	return nil
}

// updateShadowInputs snapshots relay states and the master enable.
func (m *Manager) updateShadowInputs() {
	inputs := make(map[string]interface{})

	for _, light := range m.lights {
		if s, err := m.haClient.GetState(light.cfg.RelayEntity); err == nil {
			inputs[light.cfg.RelayEntity] = s.State
		} else {
			inputs[light.cfg.RelayEntity] = nil
		}
	}
	if enabled, err := m.stateManager.GetBool("poolLightsEnabled"); err == nil {
		inputs["poolLightsEnabled"] = enabled
	}

	m.shadowTracker.UpdateCurrentInputs(inputs)
}

// recordAction captures current inputs and records an action in shadow state.
func (m *Manager) recordAction(lightName, actionType, reason string, status tracker.Status) {
	m.updateShadowInputs()
	m.shadowTracker.SnapshotInputsForAction()
	m.shadowTracker.RecordLightAction(lightName, actionType, reason,
		believedKey(status.Believed), string(status.State), believedKey(status.Target))
}

func actionTypeFor(op tracker.Operation) string {
	switch op {
	case tracker.OpSettingMode:
		return "set_mode"
	case tracker.OpAdvancing:
		return "next_mode"
	case tracker.OpResetting:
		return "reset"
	default:
		return string(op)
	}
}

func reasonFor(ev tracker.Event) string {
	switch ev.Op {
	case tracker.OpSettingMode:
		return fmt.Sprintf("changing mode to %s (%d pulses)", believedKey(ev.Status.Target), ev.Status.PlannedPulses)
	case tracker.OpAdvancing:
		return fmt.Sprintf("advancing to %s", believedKey(ev.Status.Target))
	case tracker.OpResetting:
		return "recalibrating to the first rotation position"
	default:
		return string(ev.Type)
	}
}

func believedKey(mode *catalog.Mode) string {
	if mode == nil {
		return "unknown"
	}
	return mode.Key
}

// lightController adapts one managed light to the controller registry.
type lightController struct {
	manager *Manager
	light   *managedLight
}

func (c *lightController) SetMode(modeKey string) error {
	if err := c.manager.commandAllowed(); err != nil {
		return err
	}
	mode, err := catalog.Find(modeKey)
	if err != nil {
		return err
	}
	return c.light.tracker.SetMode(mode)
}

func (c *lightController) SetColor(r, g, b uint8) (catalog.Mode, error) {
	if err := c.manager.commandAllowed(); err != nil {
		return catalog.Mode{}, err
	}
	mode := catalog.Nearest(r, g, b)
	if err := c.light.tracker.SetMode(mode); err != nil {
		return catalog.Mode{}, err
	}
	return mode, nil
}

func (c *lightController) NextMode() (catalog.Mode, error) {
	if err := c.manager.commandAllowed(); err != nil {
		return catalog.Mode{}, err
	}
	return c.light.tracker.NextMode()
}

func (c *lightController) Reset() error {
	return c.light.tracker.Reset()
}

// SetPower is the raw relay passthrough. The tracker owns the relay while an
// operation runs, so the command is refused then; the resulting off-to-on
// transition, if any, is interpreted by the external-toggle rule.
func (c *lightController) SetPower(on bool) error {
	if err := c.manager.commandAllowed(); err != nil {
		return err
	}
	status := c.light.tracker.Status()
	if status.Operation != tracker.OpNone {
		return fmt.Errorf("%w: %s", tracker.ErrOperationInProgress, status.Operation)
	}
	if err := c.light.device.SetPower(on); err != nil {
		return err
	}
	c.manager.recordAction(c.light.cfg.Name, "power",
		fmt.Sprintf("relay switched %s", onOff(on)), status)
	return nil
}

func (c *lightController) Status() tracker.Status {
	return c.light.tracker.Status()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
