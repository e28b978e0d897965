// Package tracker maintains the believed mode of a single ColorLogic light
// and drives mode changes over the light's one-bit control channel. The
// device has no readback: the only way to know the current mode is to count
// every power cycle the light ever sees, so the tracker owns the relay,
// interprets every off-to-on transition, and declares itself desynced the
// moment the observed cycles stop matching the cycles it planned.
//
// The tracker is reactive. Commands validate synchronously and then run as a
// chain of clock timers and power observations; no goroutine sleeps between
// pulses. Device calls are always made without holding the tracker lock.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"colorlogic/internal/catalog"
	"colorlogic/internal/clock"
	"colorlogic/internal/planner"
	"colorlogic/internal/protection"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrOperationInProgress indicates a mode change or reset is already
	// running. Intents are rejected, never queued.
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrConfirmationTimeout indicates the relay never confirmed a pulse.
	ErrConfirmationTimeout = errors.New("power cycle was not confirmed in time")

	// ErrStopped indicates the tracker has been shut down.
	ErrStopped = errors.New("tracker stopped")
)

// Device is the tracker's handle on the physical light. SetPower drives the
// relay; TriggerReset starts the recalibration sequence and returns once the
// sequence is underway. Implementations must not call back into the tracker
// synchronously from TriggerReset.
type Device interface {
	SetPower(on bool) error
	TriggerReset() error
}

// State is the tracker's lifecycle state.
type State string

const (
	// StateIdle means no operation is running and the believed mode is
	// whatever the last completed operation or observation established.
	StateIdle State = "idle"

	// StateAwaitingConfirmation means an operation is in flight and the
	// tracker is waiting on relay observations or timers.
	StateAwaitingConfirmation State = "awaiting_confirmation"

	// StateDesynced means the observed power cycles no longer match the
	// plan. The believed mode is unknown and only a reset recovers.
	StateDesynced State = "desynced"
)

// Operation identifies the kind of in-flight operation.
type Operation string

const (
	OpNone        Operation = "none"
	OpSettingMode Operation = "setting_mode"
	OpAdvancing   Operation = "advancing"
	OpResetting   Operation = "resetting"
)

// phase is the internal step of an operation. A setting_mode operation that
// routes through a reset passes phaseReset before phasePulse.
type phase int

const (
	phaseIdle phase = iota
	phaseReset
	phasePulse
	phaseSave
)

// EventType classifies tracker events delivered to the event handler.
type EventType string

const (
	EventOperationStarted   EventType = "operation_started"
	EventOperationCompleted EventType = "operation_completed"
	EventDesynced           EventType = "desynced"
	EventExternalAdvance    EventType = "external_advance"
)

// Event describes a tracker state change. Status is a snapshot taken at the
// moment of the event.
type Event struct {
	Type   EventType
	Op     Operation
	Status Status
}

// Counters accumulate over the tracker's lifetime.
type Counters struct {
	PulsesIssued     uint64
	ModeChanges      uint64
	ExternalAdvances uint64
	Desyncs          uint64
	Resets           uint64
	ConfirmTimeouts  uint64
}

// Status is a point-in-time snapshot of the tracker.
type Status struct {
	Light          string
	Believed       *catalog.Mode // nil when unknown
	Power          bool
	PowerKnown     bool
	State          State
	Operation      Operation
	OperationID    string
	Target         *catalog.Mode
	PlannedPulses  int
	PendingPulses  int
	ProtectedUntil time.Time
	LastTransition time.Time
	LastError      string
	Counters       Counters
}

// Config carries the timing policy for one light. Zero durations fall back
// to the defaults from DefaultConfig; ResetShortcutThreshold of zero or less
// disables the reset shortcut, and SaveMode is taken as given.
type Config struct {
	Name                   string
	PulseOffHold           time.Duration // off dwell inside a pulse
	PulseOnHold            time.Duration // settle after a pulse's power-on
	SaveHold               time.Duration // off dwell of the save cycle
	Stabilization          time.Duration // protection after a completed power-on
	ResetWindow            time.Duration // recalibration window after a reset
	ConfirmTimeout         time.Duration // max wait for a pulse confirmation
	Debounce               time.Duration // window in which a transition is our own echo
	ResetShortcutThreshold int           // pulse distance beyond which reset-first wins
	SaveMode               bool          // lock the reached mode into device memory
}

// DefaultConfig returns the stock timing policy for a light. The pulse
// cadence and save dwell come from the device's documented behavior; the
// windows are deliberately generous.
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		PulseOffHold:           time.Second,
		PulseOnHold:            time.Second,
		SaveHold:               2500 * time.Millisecond,
		Stabilization:          protection.DefaultStabilization,
		ResetWindow:            protection.DefaultReset,
		ConfirmTimeout:         2 * protection.DefaultStabilization,
		Debounce:               2 * time.Second,
		ResetShortcutThreshold: 10,
		SaveMode:               true,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Name)
	if c.PulseOffHold <= 0 {
		c.PulseOffHold = def.PulseOffHold
	}
	if c.PulseOnHold <= 0 {
		c.PulseOnHold = def.PulseOnHold
	}
	if c.SaveHold <= 0 {
		c.SaveHold = def.SaveHold
	}
	if c.Stabilization <= 0 {
		c.Stabilization = def.Stabilization
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = def.ResetWindow
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * c.Stabilization
	}
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
}

// Tracker tracks and changes one light's mode. All exported methods are safe
// for concurrent use.
type Tracker struct {
	cfg    Config
	device Device
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.Mutex
	stopped    bool
	believed   *catalog.Mode
	power      bool
	powerKnown bool
	state      State
	op         Operation
	opID       string
	phase      phase
	target     *catalog.Mode

	plannedPulses   int
	pulsesIssued    int
	pulsesConfirmed int
	onsIssued       int // on commands issued this operation, save included
	confirms        int // off-to-on observations credited this operation

	window           protection.Window
	lastCommandAt    time.Time
	lastTransitionAt time.Time
	lastError        error

	stepTimer    clock.Timer
	confirmTimer clock.Timer
	confirmGen   uint64

	counters Counters
	onEvent  func(Event)
}

// New creates a tracker for one light. The believed mode starts unknown;
// there is no durable persistence, so a restart always needs a reset or an
// explicit recalibration before mode changes work.
func New(cfg Config, device Device, clk clock.Clock, logger *zap.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:    cfg,
		device: device,
		clock:  clk,
		logger: logger.Named("tracker").With(zap.String("light", cfg.Name)),
		state:  StateIdle,
		op:     OpNone,
	}
}

// SetEventHandler installs the event callback. Events are delivered
// synchronously from tracker goroutines; handlers must return quickly and
// must not invoke tracker commands. Call before the tracker is in use.
func (t *Tracker) SetEventHandler(fn func(Event)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// Stop cancels pending timers. The tracker rejects commands afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cancelTimersLocked()
	t.mu.Unlock()
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// SetMode starts a mode change to the target. Validation is synchronous:
// a second operation is rejected, and an unknown believed mode reports
// planner.ErrIndeterminateState. Requesting the mode already believed
// current succeeds immediately without touching the light. The change
// itself runs asynchronously; completion and failure surface through
// Status and events.
func (t *Tracker) SetMode(target catalog.Mode) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	if t.op != OpNone {
		err := fmt.Errorf("%w: %s", ErrOperationInProgress, t.op)
		t.mu.Unlock()
		return err
	}

	route, err := planner.Choose(t.believed, target, t.cfg.ResetShortcutThreshold)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !route.ResetFirst && route.Pulses == 0 {
		t.mu.Unlock()
		t.logger.Info("already in requested mode", zap.String("mode", target.Key))
		return nil
	}

	from := "unknown"
	if t.believed != nil {
		from = t.believed.Key
	}
	t.beginOperationLocked(OpSettingMode, &target, route)
	opID := t.opID
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Info("mode change started",
		zap.String("op_id", opID),
		zap.String("from", from),
		zap.String("to", target.Key),
		zap.Int("pulses", route.Pulses),
		zap.Bool("reset_first", route.ResetFirst))
	deliver(handler, Event{Type: EventOperationStarted, Op: OpSettingMode, Status: status})

	if route.ResetFirst {
		t.startResetSequence(opID)
	} else {
		t.startNextPulse()
	}
	return nil
}

// NextMode advances the light to the successor of the believed mode with a
// single pulse. It returns the mode being advanced to.
func (t *Tracker) NextMode() (catalog.Mode, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return catalog.Mode{}, ErrStopped
	}
	if t.op != OpNone {
		err := fmt.Errorf("%w: %s", ErrOperationInProgress, t.op)
		t.mu.Unlock()
		return catalog.Mode{}, err
	}
	if t.believed == nil {
		t.mu.Unlock()
		return catalog.Mode{}, planner.ErrIndeterminateState
	}

	target := catalog.Successor(*t.believed)
	from := t.believed.Key
	t.beginOperationLocked(OpAdvancing, &target, planner.Route{Pulses: 1})
	opID := t.opID
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Info("advancing to next mode",
		zap.String("op_id", opID),
		zap.String("from", from),
		zap.String("to", target.Key))
	deliver(handler, Event{Type: EventOperationStarted, Op: OpAdvancing, Status: status})

	t.startNextPulse()
	return target, nil
}

// Reset starts the recalibration sequence. It is the only way out of a
// desynced or unknown state and is allowed from any state, but not while
// another operation is running. On completion the believed mode is the first
// rotation position.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	if t.op != OpNone {
		err := fmt.Errorf("%w: %s", ErrOperationInProgress, t.op)
		t.mu.Unlock()
		return err
	}

	t.beginOperationLocked(OpResetting, nil, planner.Route{})
	opID := t.opID
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Info("reset started",
		zap.String("op_id", opID),
		zap.Duration("window", t.cfg.ResetWindow))
	deliver(handler, Event{Type: EventOperationStarted, Op: OpResetting, Status: status})

	t.startResetSequence(opID)
	return nil
}

// ObservePower feeds a relay power observation into the tracker. The lights
// plugin calls this for every real state transition of the relay entity; the
// very first observation establishes the power state without inference.
func (t *Tracker) ObservePower(on bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	first := !t.powerKnown
	previous := t.power
	t.power = on
	t.powerKnown = true

	if first || on == previous || !on {
		// Initial sync, duplicate report, or a power-off. Only the
		// off-to-on edge carries mode information.
		t.mu.Unlock()
		return
	}

	switch {
	case t.op != OpNone && t.phase == phaseReset:
		// The reset signal is not a counted pulse sequence.
		t.mu.Unlock()

	case t.op != OpNone:
		t.handleConfirmationLocked(now)

	default:
		t.handleExternalCycleLocked(now)
	}
}

// handleConfirmationLocked credits an off-to-on observation to the running
// operation, or desyncs when nothing was outstanding. Unlocks t.mu.
func (t *Tracker) handleConfirmationLocked(now time.Time) {
	if t.confirms >= t.onsIssued {
		t.desyncLocked(fmt.Errorf("unplanned power cycle during %s", t.op))
		return
	}

	t.confirms++
	t.stopConfirmTimerLocked()

	if t.phase == phaseSave {
		t.finalizeLocked(now)
		return
	}

	t.pulsesConfirmed++
	switch {
	case t.pulsesConfirmed < t.plannedPulses:
		t.stepTimer = t.clock.AfterFunc(t.cfg.PulseOnHold, t.startNextPulse)
		t.mu.Unlock()
	case t.cfg.SaveMode:
		t.phase = phaseSave
		t.stepTimer = t.clock.AfterFunc(t.cfg.PulseOnHold, t.startSave)
		t.mu.Unlock()
	default:
		t.finalizeLocked(now)
	}
}

// handleExternalCycleLocked processes an off-to-on seen with no operation
// running. Within the debounce window of our own last command it is treated
// as a late echo; otherwise somebody cycled the light by hand and the
// believed mode advances by one. Unlocks t.mu.
func (t *Tracker) handleExternalCycleLocked(now time.Time) {
	if !t.lastCommandAt.IsZero() && now.Sub(t.lastCommandAt) < t.cfg.Debounce {
		t.mu.Unlock()
		return
	}

	from := "unknown"
	to := "unknown"
	if t.believed != nil {
		from = t.believed.Key
		next := catalog.Successor(*t.believed)
		t.believed = &next
		t.lastTransitionAt = now
		to = next.Key
	}
	t.counters.ExternalAdvances++
	t.window.Extend(now, t.cfg.Stabilization)
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Info("external power cycle observed",
		zap.String("from", from),
		zap.String("to", to))
	deliver(handler, Event{Type: EventExternalAdvance, Status: status})
}

// beginOperationLocked claims the operation slot. Caller holds t.mu.
func (t *Tracker) beginOperationLocked(op Operation, target *catalog.Mode, route planner.Route) {
	t.op = op
	t.opID = uuid.NewString()
	t.target = target
	t.state = StateAwaitingConfirmation
	t.plannedPulses = route.Pulses
	t.pulsesIssued = 0
	t.pulsesConfirmed = 0
	t.onsIssued = 0
	t.confirms = 0
	t.lastError = nil
	if op == OpResetting || route.ResetFirst {
		t.phase = phaseReset
	} else {
		t.phase = phasePulse
	}
}

// startResetSequence arms the recalibration window and fires the device's
// reset signal. The operation finishes when the window expires; observations
// during the window are recorded but never counted.
func (t *Tracker) startResetSequence(opID string) {
	t.mu.Lock()
	if t.stopped || t.opID != opID {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	t.window.Extend(now, t.cfg.ResetWindow)
	t.lastCommandAt = now
	t.stepTimer = t.clock.AfterFunc(t.cfg.ResetWindow, func() { t.finishResetWindow(opID) })
	t.mu.Unlock()

	if err := t.device.TriggerReset(); err != nil {
		t.logger.Error("reset signal failed", zap.String("op_id", opID), zap.Error(err))
		t.mu.Lock()
		if t.opID == opID {
			t.desyncLocked(fmt.Errorf("reset signal failed: %w", err))
			return
		}
		t.mu.Unlock()
	}
}

// finishResetWindow runs when the recalibration window expires. A plain
// reset completes here; a reset-first mode change recalibrates its believed
// position and moves on to the pulse phase.
func (t *Tracker) finishResetWindow(opID string) {
	t.mu.Lock()
	if t.stopped || t.opID != opID || t.phase != phaseReset {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()

	reset := catalog.ResetMode()
	t.believed = &reset
	t.lastTransitionAt = now
	t.counters.Resets++

	if t.op == OpResetting {
		t.finalizeLocked(now)
		return
	}

	// Reset-first route: now counting up from the first position.
	t.phase = phasePulse
	pulses := t.plannedPulses
	t.mu.Unlock()

	t.logger.Info("recalibrated, continuing mode change",
		zap.String("op_id", opID),
		zap.Int("pulses", pulses))
	t.startNextPulse()
}

// startNextPulse begins one power cycle, waiting out the protection window
// first. A plan of zero remaining pulses falls through to the save cycle or
// completion.
func (t *Tracker) startNextPulse() {
	t.mu.Lock()
	if t.stopped || t.op == OpNone || t.phase != phasePulse {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()

	if t.pulsesConfirmed >= t.plannedPulses {
		// Nothing left to pulse; reached the target already.
		if t.cfg.SaveMode {
			t.phase = phaseSave
			t.stepTimer = t.clock.AfterFunc(t.cfg.PulseOnHold, t.startSave)
			t.mu.Unlock()
			return
		}
		t.finalizeLocked(now)
		return
	}

	if t.window.IsProtected(now) {
		wait := t.window.Remaining(now)
		t.stepTimer = t.clock.AfterFunc(wait, t.startNextPulse)
		t.mu.Unlock()
		t.logger.Debug("waiting out protection window", zap.Duration("wait", wait))
		return
	}

	t.pulsesIssued++
	t.counters.PulsesIssued++
	t.lastCommandAt = now
	opID := t.opID
	t.mu.Unlock()

	if err := t.device.SetPower(false); err != nil {
		t.commandFailed(opID, err)
		return
	}

	t.mu.Lock()
	if t.opID == opID && t.phase == phasePulse {
		t.stepTimer = t.clock.AfterFunc(t.cfg.PulseOffHold, t.pulseOn)
	}
	t.mu.Unlock()
}

// pulseOn completes a pulse by turning the relay back on. The confirmation
// timer is armed before the command so a synchronous observation can clear it.
func (t *Tracker) pulseOn() {
	t.mu.Lock()
	if t.stopped || t.op == OpNone || t.phase != phasePulse {
		t.mu.Unlock()
		return
	}
	t.onsIssued++
	t.lastCommandAt = t.clock.Now()
	opID := t.opID
	t.armConfirmTimerLocked()
	t.mu.Unlock()

	if err := t.device.SetPower(true); err != nil {
		t.commandFailed(opID, err)
	}
}

// startSave runs the memory-save cycle: a distinct off dwell followed by
// power-on locks the current mode into the device so a later outage does not
// lose it. Its off-to-on counts toward the operation's observation budget.
func (t *Tracker) startSave() {
	t.mu.Lock()
	if t.stopped || t.op == OpNone || t.phase != phaseSave {
		t.mu.Unlock()
		return
	}
	t.lastCommandAt = t.clock.Now()
	opID := t.opID
	t.mu.Unlock()

	if err := t.device.SetPower(false); err != nil {
		t.commandFailed(opID, err)
		return
	}

	t.mu.Lock()
	if t.opID == opID && t.phase == phaseSave {
		t.stepTimer = t.clock.AfterFunc(t.cfg.SaveHold, t.saveOn)
	}
	t.mu.Unlock()
}

func (t *Tracker) saveOn() {
	t.mu.Lock()
	if t.stopped || t.op == OpNone || t.phase != phaseSave {
		t.mu.Unlock()
		return
	}
	t.onsIssued++
	t.lastCommandAt = t.clock.Now()
	opID := t.opID
	t.armConfirmTimerLocked()
	t.mu.Unlock()

	if err := t.device.SetPower(true); err != nil {
		t.commandFailed(opID, err)
	}
}

// armConfirmTimerLocked schedules the confirmation timeout for the on
// command about to be issued. The generation guard keeps a stale timer from
// firing against a later pulse. Caller holds t.mu.
func (t *Tracker) armConfirmTimerLocked() {
	t.stopConfirmTimerLocked()
	t.confirmGen++
	gen := t.confirmGen
	t.confirmTimer = t.clock.AfterFunc(t.cfg.ConfirmTimeout, func() { t.confirmTimedOut(gen) })
}

func (t *Tracker) stopConfirmTimerLocked() {
	if t.confirmTimer != nil {
		t.confirmTimer.Stop()
		t.confirmTimer = nil
	}
}

// confirmTimedOut fires when a pulse was never confirmed by an observation.
func (t *Tracker) confirmTimedOut(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.confirmGen || t.op == OpNone || t.confirms >= t.onsIssued {
		t.mu.Unlock()
		return
	}
	t.counters.ConfirmTimeouts++
	t.desyncLocked(ErrConfirmationTimeout)
}

// commandFailed handles a relay command error mid-operation. The light may
// or may not have moved, so the only safe belief is none.
func (t *Tracker) commandFailed(opID string, err error) {
	t.logger.Error("relay command failed", zap.String("op_id", opID), zap.Error(err))
	t.mu.Lock()
	if t.opID != opID {
		t.mu.Unlock()
		return
	}
	t.desyncLocked(err)
}

// desyncLocked abandons the current belief and any running operation.
// Unlocks t.mu.
func (t *Tracker) desyncLocked(cause error) {
	op := t.op
	opID := t.opID
	t.believed = nil
	t.state = StateDesynced
	t.op = OpNone
	t.opID = ""
	t.phase = phaseIdle
	t.target = nil
	t.lastError = cause
	t.counters.Desyncs++
	t.cancelTimersLocked()
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Warn("mode tracking lost, reset required",
		zap.String("op_id", opID),
		zap.String("operation", string(op)),
		zap.Error(cause))
	deliver(handler, Event{Type: EventDesynced, Op: op, Status: status})
}

// finalizeLocked completes the running operation successfully. Unlocks t.mu.
func (t *Tracker) finalizeLocked(now time.Time) {
	op := t.op
	opID := t.opID
	switch op {
	case OpResetting:
		// believed was set when the reset window expired.
	default:
		t.believed = t.target
		t.counters.ModeChanges++
	}
	t.state = StateIdle
	t.op = OpNone
	t.opID = ""
	t.phase = phaseIdle
	t.target = nil
	t.lastTransitionAt = now
	t.window.Extend(now, t.cfg.Stabilization)
	t.cancelTimersLocked()
	mode := "unknown"
	if t.believed != nil {
		mode = t.believed.Key
	}
	handler, status := t.onEvent, t.statusLocked()
	t.mu.Unlock()

	t.logger.Info("operation complete",
		zap.String("op_id", opID),
		zap.String("operation", string(op)),
		zap.String("mode", mode))
	deliver(handler, Event{Type: EventOperationCompleted, Op: op, Status: status})
}

func (t *Tracker) cancelTimersLocked() {
	if t.stepTimer != nil {
		t.stepTimer.Stop()
		t.stepTimer = nil
	}
	t.stopConfirmTimerLocked()
}

func (t *Tracker) statusLocked() Status {
	s := Status{
		Light:          t.cfg.Name,
		Power:          t.power,
		PowerKnown:     t.powerKnown,
		State:          t.state,
		Operation:      t.op,
		OperationID:    t.opID,
		PlannedPulses:  t.plannedPulses,
		ProtectedUntil: t.window.Until(),
		LastTransition: t.lastTransitionAt,
		Counters:       t.counters,
	}
	if t.op != OpNone {
		s.PendingPulses = t.plannedPulses - t.pulsesConfirmed
	}
	if t.believed != nil {
		m := *t.believed
		s.Believed = &m
	}
	if t.target != nil {
		m := *t.target
		s.Target = &m
	}
	if t.lastError != nil {
		s.LastError = t.lastError.Error()
	}
	return s
}

func deliver(handler func(Event), ev Event) {
	if handler != nil {
		handler(ev)
	}
}
