package lights

import (
	"fmt"
	"sync"
	"time"

	"colorlogic/internal/clock"
	"colorlogic/internal/ha"

	"go.uber.org/zap"
)

// The recalibration signal the light firmware listens for: three cycles of a
// long off followed by a short on. Once the light has seen the full pattern
// its mode rotation restarts from the first position.
const (
	resetSignalCycles  = 3
	resetSignalOffHold = 13 * time.Second
	resetSignalOnHold  = 2 * time.Second
)

// relayDevice drives one light's relay switch through Home Assistant. In
// read-only mode it logs the command instead of calling HA and feeds the
// transition back through the observe callback, so the tracking pipeline
// still sees the power cycles it asked for.
type relayDevice struct {
	lightName string
	entityID  string
	haClient  ha.HAClient
	clk       clock.Clock
	logger    *zap.Logger
	readOnly  bool
	observe   func(on bool)

	mu         sync.Mutex
	stopped    bool
	resetTimer clock.Timer
}

func newRelayDevice(lightName, entityID string, haClient ha.HAClient, clk clock.Clock, logger *zap.Logger, readOnly bool, observe func(on bool)) *relayDevice {
	return &relayDevice{
		lightName: lightName,
		entityID:  entityID,
		haClient:  haClient,
		clk:       clk,
		logger:    logger.Named("relay").With(zap.String("light", lightName)),
		readOnly:  readOnly,
		observe:   observe,
	}
}

// SetPower switches the relay on or off.
func (d *relayDevice) SetPower(on bool) error {
	if d.readOnly {
		d.logger.Info("READ-ONLY: Would set relay",
			zap.String("entity_id", d.entityID),
			zap.Bool("on", on))
		if d.observe != nil {
			d.observe(on)
		}
		return nil
	}
	return d.haClient.SetSwitch(d.entityID, on)
}

// PowerState reads the relay's current state from Home Assistant.
func (d *relayDevice) PowerState() (bool, error) {
	s, err := d.haClient.GetState(d.entityID)
	if err != nil {
		return false, err
	}
	return s.State == "on", nil
}

// TriggerReset schedules the recalibration choreography and returns once the
// first step is armed. The steps run on clock timers so the caller is never
// blocked for the ~45 seconds the pattern takes.
func (d *relayDevice) TriggerReset() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("relay device for %s is stopped", d.lightName)
	}
	if d.resetTimer != nil {
		d.resetTimer.Stop()
	}
	d.resetTimer = d.clk.AfterFunc(0, func() { d.resetStep(0) })
	d.mu.Unlock()

	d.logger.Info("sending reset signal",
		zap.String("entity_id", d.entityID),
		zap.Int("cycles", resetSignalCycles),
		zap.Duration("off_hold", resetSignalOffHold),
		zap.Duration("on_hold", resetSignalOnHold))
	return nil
}

// resetStep runs one leg of the choreography. Even steps switch the relay
// off, odd steps switch it back on; the final on ends the sequence. A relay
// failure mid-pattern is logged and abandons the remaining steps - the light
// may not have recalibrated, and the operator resolves that with another
// resync.
func (d *relayDevice) resetStep(step int) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	on := step%2 == 1
	if err := d.SetPower(on); err != nil {
		d.logger.Error("reset signal step failed",
			zap.Int("step", step),
			zap.Bool("on", on),
			zap.Error(err))
		return
	}

	next := step + 1
	if next >= resetSignalCycles*2 {
		d.logger.Info("reset signal delivered", zap.String("entity_id", d.entityID))
		return
	}

	hold := resetSignalOffHold
	if on {
		hold = resetSignalOnHold
	}

	d.mu.Lock()
	if !d.stopped {
		d.resetTimer = d.clk.AfterFunc(hold, func() { d.resetStep(next) })
	}
	d.mu.Unlock()
}

// stop cancels any in-flight choreography. Further commands fail.
func (d *relayDevice) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
	d.mu.Unlock()
}
