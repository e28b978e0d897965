// Package schedule runs the evening automation: at dusk every enabled pool
// light is commanded to its evening mode, and at the configured off time the
// relays are switched off. Dusk comes from the sun calculator plus an
// optional offset; weekday_modes in schedule.yaml override the per-light
// evening mode for specific days.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/ha"
	"colorlogic/internal/planner"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/state"
	"colorlogic/internal/sun"
	"colorlogic/internal/tracker"

	"go.uber.org/zap"
)

// Schedule phases published to the scheduleState mirror.
const (
	stateWaiting  = "waiting_for_dusk"
	stateEvening  = "evening"
	stateDisabled = "disabled"
)

// armScanDays bounds the search for the next evening window.
const armScanDays = 7

// Manager owns the evening schedule: it arms a timer for the next dusk, a
// second one for the off time, and re-plans after every firing. The
// scheduleActive computed variable gates the whole thing; flipping it off
// cancels the timers, flipping it back on re-plans from scratch.
type Manager struct {
	haClient     ha.HAClient
	stateManager *state.Manager
	configLoader *config.Loader
	controls     *control.Registry
	calculator   *sun.Calculator
	clk          clock.Clock
	logger       *zap.Logger
	readOnly     bool

	shadowTracker *shadowstate.ScheduleTracker
	subHelper     *shadowstate.SubscriptionHelper

	mu        sync.Mutex
	stopped   bool
	duskTimer clock.Timer
	offTimer  clock.Timer
}

// NewManager creates a new Evening Schedule manager. The shadow registry may
// be nil, in which case subscriptions are not recorded for the API.
func NewManager(
	haClient ha.HAClient,
	stateManager *state.Manager,
	configLoader *config.Loader,
	controls *control.Registry,
	calculator *sun.Calculator,
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
		calculator:   calculator,
		clk:          clk,
		logger:       logger.Named("schedule"),
		readOnly:     readOnly,
	}
	m.shadowTracker = shadowstate.NewScheduleTracker()
	m.subHelper = shadowstate.NewSubscriptionHelper(haClient, stateManager, registry, m.shadowTracker, "schedule", m.logger)
	return m
}

// Start subscribes to the schedule enable and arms the first trigger if the
// schedule is currently active.
func (m *Manager) Start() error {
	m.logger.Info("Starting Evening Schedule")

	if err := m.subHelper.SubscribeToState("scheduleActive", m.handleActiveChange); err != nil {
		return fmt.Errorf("failed to subscribe to scheduleActive: %w", err)
	}

	active, err := m.stateManager.GetBool("scheduleActive")
	if err != nil {
		return fmt.Errorf("failed to read scheduleActive: %w", err)
	}

	m.mu.Lock()
	if active {
		m.armLocked()
	} else {
		m.logger.Info("Schedule inactive at startup")
		m.publishState(stateDisabled)
	}
	m.mu.Unlock()

	m.updateShadowInputs()

	m.logger.Info("Evening Schedule started")
	return nil
}

// Stop cancels pending triggers and tears down subscriptions.
func (m *Manager) Stop() {
	m.logger.Info("Stopping Evening Schedule")
	m.subHelper.UnsubscribeAll()

	m.mu.Lock()
	m.stopped = true
	m.disarmLocked()
	m.mu.Unlock()

	m.logger.Info("Evening Schedule stopped")
}

// GetShadowState returns the current shadow state
func (m *Manager) GetShadowState() *shadowstate.ScheduleShadowState {
	return m.shadowTracker.GetState()
}

// handleActiveChange reacts to the scheduleActive computed variable. It runs
// on a state manager notification goroutine.
func (m *Manager) handleActiveChange(key string, oldValue, newValue interface{}) {
	active, ok := newValue.(bool)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	if active {
		m.logger.Info("Schedule enabled, planning evening automation")
		m.armLocked()
	} else {
		m.logger.Info("Schedule disabled, cancelling planned triggers")
		m.disarmLocked()
		m.publishState(stateDisabled)
	}
}

// armLocked plans the next evening window and arms its timer. When called
// inside an open window it applies the evening modes immediately and arms
// only the off trigger. Caller holds m.mu.
func (m *Manager) armLocked() {
	m.disarmLocked()

	cfg := m.configLoader.GetScheduleConfig()
	if cfg == nil {
		m.logger.Info("No schedule configured, staying idle")
		m.publishState(stateDisabled)
		return
	}

	now := m.clk.Now()

	// An off time past midnight keeps yesterday's window open into the
	// early morning, so yesterday is checked before today.
	for _, daysBack := range []int{1, 0} {
		dusk, off := m.windowFor(cfg, now.AddDate(0, 0, -daysBack))
		if dusk.IsZero() {
			continue
		}
		if now.Before(dusk) {
			m.armDuskLocked(dusk, off)
			return
		}
		if !off.IsZero() && now.Before(off) {
			m.logger.Info("Inside the evening window, applying modes now",
				zap.Time("dusk", dusk),
				zap.Time("off", off))
			m.applyEveningModesLocked(cfg, dusk)
			m.armOffLocked(dusk, off)
			return
		}
	}

	m.armNextDuskLocked(cfg, now)
}

// armNextDuskLocked scans forward for the next dusk after now and arms it.
// Caller holds m.mu.
func (m *Manager) armNextDuskLocked(cfg *config.ScheduleConfig, now time.Time) {
	for day := 0; day < armScanDays; day++ {
		dusk, off := m.windowFor(cfg, now.AddDate(0, 0, day))
		if !dusk.IsZero() && dusk.After(now) {
			m.armDuskLocked(dusk, off)
			return
		}
	}

	m.logger.Error("No dusk found within the scan horizon, schedule idle",
		zap.Int("days", armScanDays))
	m.publishState(stateDisabled)
}

// windowFor returns the evening window anchored to the day ref falls on:
// dusk shifted by the configured offset, and the off instant, pushed past
// midnight when it reads earlier than dusk. Off is zero when off_time is
// not configured; dusk is zero when the sun never sets that day.
func (m *Manager) windowFor(cfg *config.ScheduleConfig, ref time.Time) (dusk, off time.Time) {
	dusk = m.calculator.DuskOn(ref)
	if dusk.IsZero() {
		return time.Time{}, time.Time{}
	}
	dusk = dusk.Add(cfg.DuskOffset.Std())

	if !cfg.OffTime.Set {
		return dusk, time.Time{}
	}
	off = cfg.OffTime.At(dusk)
	if !off.After(dusk) {
		off = off.AddDate(0, 0, 1)
	}
	return dusk, off
}

// armDuskLocked arms the dusk trigger and publishes the waiting phase.
// Caller holds m.mu.
func (m *Manager) armDuskLocked(dusk, off time.Time) {
	m.duskTimer = m.clk.AfterFunc(dusk.Sub(m.clk.Now()), func() {
		m.onDusk(dusk, off)
	})
	m.shadowTracker.RecordPlan(dusk, off)
	m.publishState(stateWaiting)
	m.logger.Info("Evening trigger armed",
		zap.Time("dusk", dusk),
		zap.Time("off", off))
}

// armOffLocked arms the off trigger for an already-open window.
// Caller holds m.mu.
func (m *Manager) armOffLocked(dusk, off time.Time) {
	m.offTimer = m.clk.AfterFunc(off.Sub(m.clk.Now()), func() {
		m.onOff(off)
	})
	m.shadowTracker.RecordPlan(dusk, off)
	m.logger.Info("Off trigger armed", zap.Time("off", off))
}

// disarmLocked cancels any pending triggers. Caller holds m.mu.
func (m *Manager) disarmLocked() {
	if m.duskTimer != nil {
		m.duskTimer.Stop()
		m.duskTimer = nil
	}
	if m.offTimer != nil {
		m.offTimer.Stop()
		m.offTimer = nil
	}
}

// onDusk fires at dusk: applies the evening modes and arms the off trigger,
// or the next dusk when no off time is configured.
func (m *Manager) onDusk(dusk, off time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.duskTimer = nil

	// Disabling can race the timer firing; the window is gone either way.
	if !m.scheduleActive() {
		return
	}

	cfg := m.configLoader.GetScheduleConfig()
	if cfg == nil {
		m.logger.Warn("Schedule configuration disappeared, trigger dropped")
		return
	}

	m.applyEveningModesLocked(cfg, dusk)

	if !off.IsZero() {
		m.armOffLocked(dusk, off)
	} else {
		// Without an off time there is nothing to wait for tonight;
		// the phase stays "evening" until the schedule is re-planned.
		m.armNextDuskTimerLocked(cfg)
	}
}

// onOff fires at the configured off time: switches the relays off and arms
// the next dusk.
func (m *Manager) onOff(off time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.offTimer = nil

	if !m.scheduleActive() {
		return
	}

	cfg := m.configLoader.GetScheduleConfig()
	if cfg == nil {
		m.logger.Warn("Schedule configuration disappeared, trigger dropped")
		return
	}

	lightsCfg := m.configLoader.GetLightsConfig()
	if lightsCfg == nil {
		m.logger.Error("Lights configuration not loaded, cannot switch off")
		return
	}

	switched := 0
	for _, lightCfg := range lightsCfg.Lights {
		if !lightCfg.IsEnabled() {
			continue
		}
		if m.readOnly {
			m.logger.Info("READ-ONLY: Would switch light off",
				zap.String("light", lightCfg.Name))
			switched++
			continue
		}
		ctrl, err := m.controls.Get(lightCfg.Name)
		if err != nil {
			m.logger.Warn("Light has no controller, skipping",
				zap.String("light", lightCfg.Name),
				zap.Error(err))
			continue
		}
		if err := ctrl.SetPower(false); err != nil {
			if errors.Is(err, tracker.ErrOperationInProgress) {
				m.logger.Warn("Light is mid-operation, leaving it on",
					zap.String("light", lightCfg.Name))
			} else {
				m.logger.Error("Failed to switch light off",
					zap.String("light", lightCfg.Name),
					zap.Error(err))
			}
			continue
		}
		switched++
		m.logger.Info("Light switched off for the night",
			zap.String("light", lightCfg.Name))
	}

	m.recordTrigger("night_off",
		fmt.Sprintf("scheduled off at %s, %d light(s) switched off",
			off.Format("15:04"), switched))

	m.armNextDuskLocked(cfg, m.clk.Now())
}

// applyEveningModesLocked commands every enabled light to its evening mode.
// The weekday override is resolved against the dusk instant, so an off time
// past midnight still counts as the previous evening. Caller holds m.mu.
func (m *Manager) applyEveningModesLocked(cfg *config.ScheduleConfig, dusk time.Time) {
	lightsCfg := m.configLoader.GetLightsConfig()
	if lightsCfg == nil {
		m.logger.Error("Lights configuration not loaded, cannot apply evening modes")
		return
	}

	applied := 0
	for _, lightCfg := range lightsCfg.Lights {
		if !lightCfg.IsEnabled() {
			continue
		}
		mode := eveningModeFor(cfg, lightCfg, dusk.Weekday())
		if mode == "" {
			m.logger.Debug("No evening mode for light, skipping",
				zap.String("light", lightCfg.Name))
			continue
		}
		if m.readOnly {
			m.logger.Info("READ-ONLY: Would set evening mode",
				zap.String("light", lightCfg.Name),
				zap.String("mode", mode))
			applied++
			continue
		}
		ctrl, err := m.controls.Get(lightCfg.Name)
		if err != nil {
			m.logger.Warn("Light has no controller, skipping",
				zap.String("light", lightCfg.Name),
				zap.Error(err))
			continue
		}
		if err := ctrl.SetMode(mode); err != nil {
			switch {
			case errors.Is(err, planner.ErrIndeterminateState):
				m.logger.Warn("Light needs a resync before scheduled mode changes",
					zap.String("light", lightCfg.Name))
			case errors.Is(err, tracker.ErrOperationInProgress):
				m.logger.Warn("Light is mid-operation, skipping evening mode",
					zap.String("light", lightCfg.Name))
			default:
				m.logger.Error("Failed to set evening mode",
					zap.String("light", lightCfg.Name),
					zap.String("mode", mode),
					zap.Error(err))
			}
			continue
		}
		applied++
		m.logger.Info("Evening mode started",
			zap.String("light", lightCfg.Name),
			zap.String("mode", mode))
	}

	m.recordTrigger("dusk_on",
		fmt.Sprintf("dusk at %s, evening mode applied to %d light(s)",
			dusk.Format("15:04"), applied))
	m.publishState(stateEvening)
}

// armNextDuskTimerLocked arms tomorrow's dusk without touching the published
// phase. Caller holds m.mu.
func (m *Manager) armNextDuskTimerLocked(cfg *config.ScheduleConfig) {
	now := m.clk.Now()
	for day := 0; day < armScanDays; day++ {
		dusk, off := m.windowFor(cfg, now.AddDate(0, 0, day))
		if !dusk.IsZero() && dusk.After(now) {
			m.duskTimer = m.clk.AfterFunc(dusk.Sub(now), func() {
				m.onDusk(dusk, off)
			})
			m.shadowTracker.RecordPlan(dusk, off)
			m.logger.Info("Evening trigger armed", zap.Time("dusk", dusk))
			return
		}
	}
	m.logger.Error("No dusk found within the scan horizon", zap.Int("days", armScanDays))
}

// eveningModeFor resolves the mode a light should take at dusk: the weekday
// override when one is configured, the light's own evening mode otherwise.
func eveningModeFor(cfg *config.ScheduleConfig, lightCfg config.LightConfig, day time.Weekday) string {
	if mode, ok := cfg.ModeForWeekday(day); ok {
		return mode
	}
	return lightCfg.EveningMode
}

// scheduleActive reads the computed enable. Unreadable means inactive: the
// automation stays quiet when its gate is in doubt.
func (m *Manager) scheduleActive() bool {
	active, err := m.stateManager.GetBool("scheduleActive")
	if err != nil {
		m.logger.Warn("Could not read scheduleActive", zap.Error(err))
		return false
	}
	return active
}

// publishState mirrors the schedule phase to input_text.pool_schedule_state.
func (m *Manager) publishState(value string) {
	if err := m.stateManager.SetString("scheduleState", value); err != nil {
		m.logger.Error("Failed to publish schedule state",
			zap.String("state", value),
			zap.Error(err))
	}
}

// updateShadowInputs snapshots the schedule gate.
func (m *Manager) updateShadowInputs() {
	inputs := make(map[string]interface{})
	if active, err := m.stateManager.GetBool("scheduleActive"); err == nil {
		inputs["scheduleActive"] = active
	}
	m.shadowTracker.UpdateCurrentInputs(inputs)
}

// recordTrigger captures current inputs and records a fired schedule step.
func (m *Manager) recordTrigger(actionType, reason string) {
	m.updateShadowInputs()
	m.shadowTracker.SnapshotInputsForAction()
	m.shadowTracker.RecordTrigger(actionType, reason)
}
