package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"colorlogic/internal/catalog"
	"colorlogic/internal/clock"
	"colorlogic/internal/planner"
	"colorlogic/internal/protection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoDevice simulates the relay and its event stream: every power command
// is recorded and, when echo is enabled, immediately reported back to the
// tracker the way a state_changed event would be.
type echoDevice struct {
	mu       sync.Mutex
	tracker  *Tracker
	commands []string
	echo     bool
	powerErr error
	resetErr error
}

func (d *echoDevice) SetPower(on bool) error {
	d.mu.Lock()
	if d.powerErr != nil {
		err := d.powerErr
		d.mu.Unlock()
		return err
	}
	cmd := "off"
	if on {
		cmd = "on"
	}
	d.commands = append(d.commands, cmd)
	echo := d.echo
	tr := d.tracker
	d.mu.Unlock()

	if echo && tr != nil {
		tr.ObservePower(on)
	}
	return nil
}

func (d *echoDevice) TriggerReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetErr != nil {
		return d.resetErr
	}
	d.commands = append(d.commands, "reset")
	return nil
}

func (d *echoDevice) count(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *echoDevice) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = nil
}

func (d *echoDevice) setEcho(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.echo = on
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *echoDevice, *clock.MockClock) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mockClock := clock.NewMockClock(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	device := &echoDevice{echo: true}
	tr := New(cfg, device, mockClock, logger)
	device.tracker = tr
	return tr, device, mockClock
}

func findMode(t *testing.T, key string) catalog.Mode {
	t.Helper()
	m, err := catalog.Find(key)
	require.NoError(t, err)
	return m
}

// establish drives the tracker into a known believed mode through the public
// API: reset to the first rotation position, then change to the target.
func establish(t *testing.T, tr *Tracker, clk *clock.MockClock, key string) {
	t.Helper()
	require.NoError(t, tr.Reset())
	clk.Advance(protection.DefaultReset)

	target := findMode(t, key)
	if target.Index != catalog.ResetMode().Index {
		require.NoError(t, tr.SetMode(target))
		clk.Advance(10 * time.Minute)
	} else {
		clk.Advance(10 * time.Minute)
	}

	status := tr.Status()
	require.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Believed)
	require.Equal(t, target.Key, status.Believed.Key)
}

func TestSetModeRunsPlannedPulses(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "royal_blue")
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "flamingo")))
	clk.Advance(10 * time.Minute)

	status := tr.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, OpNone, status.Operation)
	require.NotNil(t, status.Believed)
	assert.Equal(t, "flamingo", status.Believed.Key)

	// Six pulses plus the save cycle: seven offs, seven ons, no reset.
	assert.Equal(t, 7, device.count("off"))
	assert.Equal(t, 7, device.count("on"))
	assert.Zero(t, device.count("reset"))
}

func TestSetModeToCurrentModeIsNoOp(t *testing.T) {
	// Requesting the mode already believed current succeeds immediately.
	// This behavior is an explicit design decision, not device-mandated.
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "emerald")
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "emerald")))

	status := tr.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, OpNone, status.Operation)
	assert.Empty(t, device.commands)
}

func TestSetModeRejectedWhileOperationInProgress(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "voodoo_lounge")

	require.NoError(t, tr.SetMode(findMode(t, "emerald")))

	err := tr.SetMode(findMode(t, "warm_red"))
	assert.ErrorIs(t, err, ErrOperationInProgress)

	_, err = tr.NextMode()
	assert.ErrorIs(t, err, ErrOperationInProgress)

	err = tr.Reset()
	assert.ErrorIs(t, err, ErrOperationInProgress)
}

func TestSetModeRequiresKnownMode(t *testing.T) {
	tr, device, _ := newTestTracker(t, DefaultConfig("pool"))

	err := tr.SetMode(findMode(t, "emerald"))
	assert.ErrorIs(t, err, planner.ErrIndeterminateState)
	assert.Empty(t, device.commands)
}

func TestResetRecalibrates(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))

	require.NoError(t, tr.Reset())
	assert.Equal(t, 1, device.count("reset"))

	status := tr.Status()
	assert.Equal(t, StateAwaitingConfirmation, status.State)
	assert.Equal(t, OpResetting, status.Operation)

	clk.Advance(protection.DefaultReset)

	status = tr.Status()
	assert.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Believed)
	assert.Equal(t, "voodoo_lounge", status.Believed.Key)
	assert.Equal(t, uint64(1), status.Counters.Resets)
}

func TestResetShortcutRoute(t *testing.T) {
	// Flamingo to royal blue is 11 forward pulses. With the shortcut the
	// tracker resets and counts up 2 from the first position instead.
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "flamingo")
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "royal_blue")))
	clk.Advance(10 * time.Minute)

	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "royal_blue", status.Believed.Key)
	assert.Equal(t, 1, device.count("reset"))
	// Two pulses plus the save cycle.
	assert.Equal(t, 3, device.count("off"))
	assert.Equal(t, 3, device.count("on"))
}

func TestDirectRouteWhenShortcutDisabled(t *testing.T) {
	cfg := DefaultConfig("pool")
	cfg.ResetShortcutThreshold = 0
	tr, device, clk := newTestTracker(t, cfg)
	establish(t, tr, clk, "flamingo")
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "royal_blue")))
	clk.Advance(10 * time.Minute)

	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "royal_blue", status.Believed.Key)
	assert.Zero(t, device.count("reset"))
	// Eleven pulses plus the save cycle.
	assert.Equal(t, 12, device.count("off"))
}

func TestUnplannedCycleDuringOperationDesyncs(t *testing.T) {
	cfg := DefaultConfig("pool")
	cfg.SaveMode = false
	tr, device, clk := newTestTracker(t, cfg)
	establish(t, tr, clk, "royal_blue")
	device.clear()

	// Six pulses planned to flamingo; let three complete.
	require.NoError(t, tr.SetMode(findMode(t, "flamingo")))
	clk.Advance(5 * time.Second)
	require.Equal(t, 3, device.count("on"))

	// A power cycle nobody planned lands between pulses.
	tr.ObservePower(false)
	tr.ObservePower(true)

	status := tr.Status()
	assert.Equal(t, StateDesynced, status.State)
	assert.Equal(t, OpNone, status.Operation)
	assert.Nil(t, status.Believed)
	assert.Contains(t, status.LastError, "unplanned power cycle")
	assert.Equal(t, uint64(1), status.Counters.Desyncs)

	// The abandoned operation must not keep pulsing.
	offs := device.count("off")
	clk.Advance(10 * time.Minute)
	assert.Equal(t, offs, device.count("off"))

	// Only a reset recovers.
	err := tr.SetMode(findMode(t, "emerald"))
	assert.ErrorIs(t, err, planner.ErrIndeterminateState)
}

func TestConfirmationTimeoutDesyncs(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "voodoo_lounge")
	device.setEcho(false)
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "deep_blue_sea")))
	clk.Advance(3 * time.Minute)

	status := tr.Status()
	assert.Equal(t, StateDesynced, status.State)
	assert.Nil(t, status.Believed)
	assert.Equal(t, ErrConfirmationTimeout.Error(), status.LastError)
	assert.Equal(t, uint64(1), status.Counters.ConfirmTimeouts)

	// Mode changes stay rejected until a reset recalibrates.
	err := tr.SetMode(findMode(t, "emerald"))
	assert.ErrorIs(t, err, planner.ErrIndeterminateState)

	require.NoError(t, tr.Reset())
	clk.Advance(protection.DefaultReset)

	status = tr.Status()
	assert.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Believed)
	assert.Equal(t, "voodoo_lounge", status.Believed.Key)
}

func TestExternalCycleAdvancesBelievedMode(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "aqua_green")

	tr.ObservePower(false)
	tr.ObservePower(true)

	status := tr.Status()
	assert.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Believed)
	assert.Equal(t, "emerald", status.Believed.Key, "an external power cycle moves the light one mode forward")
	assert.Equal(t, uint64(1), status.Counters.ExternalAdvances)
	assert.True(t, status.ProtectedUntil.After(clk.Now()), "an external power-on re-arms the settle window")
}

func TestLateEchoWithinDebounceIgnored(t *testing.T) {
	cfg := DefaultConfig("pool")
	cfg.SaveMode = false
	tr, _, clk := newTestTracker(t, cfg)

	require.NoError(t, tr.Reset())
	clk.Advance(protection.DefaultReset)
	clk.Advance(2 * time.Minute) // clear the settle window

	// One pulse completes; its last command is moments old.
	_, err := tr.NextMode()
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	require.Equal(t, StateIdle, tr.Status().State)

	before := tr.Status().Believed.Key
	tr.ObservePower(false)
	tr.ObservePower(true)

	status := tr.Status()
	assert.Equal(t, before, status.Believed.Key, "a transition right after our own command is a late echo, not a human")
	assert.Zero(t, status.Counters.ExternalAdvances)
}

func TestObservationsDuringResetIgnored(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))

	require.NoError(t, tr.Reset())
	clk.Advance(30 * time.Second)

	// The reset choreography cycles power several times; none of it counts.
	for i := 0; i < 3; i++ {
		tr.ObservePower(false)
		tr.ObservePower(true)
	}

	clk.Advance(protection.DefaultReset)

	status := tr.Status()
	assert.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Believed)
	assert.Equal(t, "voodoo_lounge", status.Believed.Key)
	assert.Zero(t, status.Counters.ExternalAdvances)
	assert.Zero(t, status.Counters.Desyncs)
}

func TestNoPulsesWhileProtected(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "aqua_green")

	// Complete a quick operation so the settle window is freshly armed.
	_, err := tr.NextMode()
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	require.Equal(t, StateIdle, tr.Status().State)
	require.True(t, tr.Status().ProtectedUntil.After(clk.Now()))
	device.clear()

	// The next change is accepted but holds its pulses until the window closes.
	require.NoError(t, tr.SetMode(findMode(t, "flamingo")))
	assert.Empty(t, device.commands, "no pulse may start inside the protection window")

	clk.Advance(30 * time.Second)
	assert.Empty(t, device.commands)

	clk.Advance(10 * time.Minute)
	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "flamingo", status.Believed.Key)
	assert.Greater(t, device.count("off"), 0)
}

func TestNextModeAdvancesOne(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "aqua_green")
	device.clear()

	target, err := tr.NextMode()
	require.NoError(t, err)
	assert.Equal(t, "emerald", target.Key)

	clk.Advance(time.Minute)

	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "emerald", status.Believed.Key)
	// One pulse plus the save cycle.
	assert.Equal(t, 2, device.count("off"))
	assert.Zero(t, device.count("reset"), "advancing never routes through a reset")
}

func TestNextModeWrapsAroundRotation(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "cool_cabaret")

	target, err := tr.NextMode()
	require.NoError(t, err)
	assert.Equal(t, "voodoo_lounge", target.Key)

	clk.Advance(time.Minute)
	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "voodoo_lounge", status.Believed.Key)
}

func TestNextModeRequiresKnownMode(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig("pool"))

	_, err := tr.NextMode()
	assert.ErrorIs(t, err, planner.ErrIndeterminateState)
}

func TestEvents(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))

	var events []Event
	tr.SetEventHandler(func(ev Event) { events = append(events, ev) })

	require.NoError(t, tr.Reset())
	clk.Advance(protection.DefaultReset)

	require.Len(t, events, 2)
	assert.Equal(t, EventOperationStarted, events[0].Type)
	assert.Equal(t, OpResetting, events[0].Op)
	assert.Equal(t, EventOperationCompleted, events[1].Type)
	require.NotNil(t, events[1].Status.Believed)
	assert.Equal(t, "voodoo_lounge", events[1].Status.Believed.Key)

	events = nil
	require.NoError(t, tr.SetMode(findMode(t, "royal_blue")))
	clk.Advance(10 * time.Minute)

	require.Len(t, events, 2)
	assert.Equal(t, EventOperationStarted, events[0].Type)
	assert.Equal(t, OpSettingMode, events[0].Op)
	assert.Equal(t, EventOperationCompleted, events[1].Type)
}

func TestDesyncEvent(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "voodoo_lounge")
	device.setEcho(false)

	var events []Event
	tr.SetEventHandler(func(ev Event) { events = append(events, ev) })

	require.NoError(t, tr.SetMode(findMode(t, "royal_blue")))
	clk.Advance(5 * time.Minute)

	require.Len(t, events, 2)
	assert.Equal(t, EventOperationStarted, events[0].Type)
	assert.Equal(t, EventDesynced, events[1].Type)
	assert.Equal(t, OpSettingMode, events[1].Op)
	assert.Equal(t, StateDesynced, events[1].Status.State)
}

func TestStatusDuringOperation(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "royal_blue")

	require.NoError(t, tr.SetMode(findMode(t, "flamingo")))

	status := tr.Status()
	assert.Equal(t, StateAwaitingConfirmation, status.State)
	assert.Equal(t, OpSettingMode, status.Operation)
	assert.NotEmpty(t, status.OperationID)
	require.NotNil(t, status.Target)
	assert.Equal(t, "flamingo", status.Target.Key)
	assert.Equal(t, 6, status.PlannedPulses)
	assert.Equal(t, 6, status.PendingPulses)

	clk.Advance(2 * time.Second)
	status = tr.Status()
	assert.Less(t, status.PendingPulses, 6, "confirmed pulses reduce the pending count")
}

func TestRelayFailureDesyncs(t *testing.T) {
	tr, device, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "royal_blue")

	device.mu.Lock()
	device.powerErr = errors.New("relay unreachable")
	device.mu.Unlock()

	require.NoError(t, tr.SetMode(findMode(t, "flamingo")))
	clk.Advance(time.Minute)

	status := tr.Status()
	assert.Equal(t, StateDesynced, status.State)
	assert.Nil(t, status.Believed)
	assert.Contains(t, status.LastError, "relay unreachable")
}

func TestFirstObservationEstablishesPowerOnly(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig("pool"))

	tr.ObservePower(true)

	status := tr.Status()
	assert.True(t, status.Power)
	assert.True(t, status.PowerKnown)
	assert.Nil(t, status.Believed)
	assert.Zero(t, status.Counters.ExternalAdvances, "the initial sync carries no mode information")
}

func TestSaveModeDisabledSkipsSaveCycle(t *testing.T) {
	cfg := DefaultConfig("pool")
	cfg.SaveMode = false
	tr, device, clk := newTestTracker(t, cfg)
	establish(t, tr, clk, "voodoo_lounge")
	device.clear()

	require.NoError(t, tr.SetMode(findMode(t, "royal_blue")))
	clk.Advance(time.Minute)

	status := tr.Status()
	require.NotNil(t, status.Believed)
	assert.Equal(t, "royal_blue", status.Believed.Key)
	assert.Equal(t, 2, device.count("off"), "exactly the planned pulses, no save cycle")
	assert.Equal(t, 2, device.count("on"))
}

func TestStopRejectsCommands(t *testing.T) {
	tr, _, clk := newTestTracker(t, DefaultConfig("pool"))
	establish(t, tr, clk, "voodoo_lounge")

	tr.Stop()

	assert.ErrorIs(t, tr.SetMode(findMode(t, "emerald")), ErrStopped)
	_, err := tr.NextMode()
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, tr.Reset(), ErrStopped)
}
