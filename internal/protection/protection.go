// Package protection models the settle window that follows a power-on of a
// ColorLogic light. While the window is open the light must not be power
// cycled: the device is still latching its mode, and an early cycle would be
// counted as another advance. Callers pass explicit times so the window works
// with any clock source.
package protection

import "time"

// Window durations. Stabilization covers a normal power-on settle; reset
// covers the much longer recalibration a reset sequence triggers.
const (
	DefaultStabilization = 60 * time.Second
	DefaultReset         = 3 * time.Minute
)

// Window tracks the instant until which power cycling is unsafe. The zero
// value is an expired window.
type Window struct {
	until time.Time
}

// IsProtected reports whether the window is still open at the given time.
// The boundary instant itself is not protected.
func (w *Window) IsProtected(now time.Time) bool {
	return now.Before(w.until)
}

// Extend opens the window through now+d. A window never shrinks: extending by
// less than the time already remaining leaves it unchanged.
func (w *Window) Extend(now time.Time, d time.Duration) {
	if end := now.Add(d); end.After(w.until) {
		w.until = end
	}
}

// Until returns the instant the window closes. Zero if never opened.
func (w *Window) Until() time.Time {
	return w.until
}

// Remaining returns how long the window stays open from the given time,
// or zero when it is already closed.
func (w *Window) Remaining(now time.Time) time.Duration {
	if !now.Before(w.until) {
		return 0
	}
	return w.until.Sub(now)
}
