// Package planner computes how to move a ColorLogic light between rotation
// positions. The device only steps forward, so every change is a count of
// power cycles; the planner also decides when resetting to the first position
// and counting up from there beats pulsing the long way around.
package planner

import (
	"errors"

	"colorlogic/internal/catalog"
)

// ErrIndeterminateState indicates the current mode is not known, so no pulse
// count can be computed. A reset is the way out.
var ErrIndeterminateState = errors.New("current mode unknown, reset required to recalibrate")

// Pulses returns the number of forward power cycles that move the light from
// current to target. Zero when the modes are equal; never negative.
func Pulses(current, target catalog.Mode) int {
	return ((target.Index-current.Index)%catalog.Count + catalog.Count) % catalog.Count
}

// Plan returns the pulse count from a possibly-unknown current mode. A nil
// current reports ErrIndeterminateState.
func Plan(current *catalog.Mode, target catalog.Mode) (int, error) {
	if current == nil {
		return 0, ErrIndeterminateState
	}
	return Pulses(*current, target), nil
}

// Route is an executable plan for one mode change: optionally reset to the
// first rotation position, then advance by Pulses power cycles.
type Route struct {
	ResetFirst bool
	Pulses     int
}

// Choose picks the route for a mode change. When the direct forward distance
// exceeds shortcutThreshold, resetting first is faster in wall time even with
// the recalibration wait, because the pulse count drops to target-1. A
// threshold of zero or less disables the shortcut and always routes direct.
func Choose(current *catalog.Mode, target catalog.Mode, shortcutThreshold int) (Route, error) {
	direct, err := Plan(current, target)
	if err != nil {
		return Route{}, err
	}

	if shortcutThreshold > 0 && direct > shortcutThreshold {
		return Route{ResetFirst: true, Pulses: target.Index - 1}, nil
	}
	return Route{Pulses: direct}, nil
}
