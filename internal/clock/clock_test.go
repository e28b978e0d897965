package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	fired := false
	mock.AfterFunc(5*time.Second, func() { fired = true })

	mock.Advance(4 * time.Second)
	assert.False(t, fired, "timer should not fire before its deadline")

	mock.Advance(1 * time.Second)
	assert.True(t, fired, "timer should fire once the deadline is reached")
	assert.Equal(t, start.Add(5*time.Second), mock.Now())
}

func TestMockClockFiresInDeadlineOrder(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	var order []string
	mock.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	mock.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	mock.AfterFunc(2*time.Second, func() { order = append(order, "second") })

	mock.Advance(5 * time.Second)

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMockClockCascadingTimersFireWithinOneAdvance(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	// Each step schedules the next one second out, like a command sequence
	// that paces itself with timers.
	steps := 0
	var step func()
	step = func() {
		steps++
		if steps < 4 {
			mock.AfterFunc(1*time.Second, step)
		}
	}
	mock.AfterFunc(1*time.Second, step)

	mock.Advance(10 * time.Second)

	assert.Equal(t, 4, steps, "follow-up timers scheduled inside the window should fire in the same Advance")
}

func TestMockClockCallbackSeesOwnDeadline(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	var observed time.Time
	mock.AfterFunc(2*time.Second, func() { observed = mock.Now() })

	mock.Advance(10 * time.Second)

	assert.Equal(t, start.Add(2*time.Second), observed)
	assert.Equal(t, start.Add(10*time.Second), mock.Now())
}

func TestMockTimerStop(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	fired := false
	timer := mock.AfterFunc(5*time.Second, func() { fired = true })

	assert.True(t, timer.Stop(), "first Stop should report the timer was active")
	assert.False(t, timer.Stop(), "second Stop should report it was already stopped")

	mock.Advance(10 * time.Second)
	assert.False(t, fired)
}

func TestMockTimerReset(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	fired := 0
	timer := mock.AfterFunc(5*time.Second, func() { fired++ })

	assert.True(t, timer.Reset(10*time.Second))

	mock.Advance(6 * time.Second)
	assert.Equal(t, 0, fired, "reset should push the deadline out")

	mock.Advance(4 * time.Second)
	assert.Equal(t, 1, fired)

	// Resetting an expired timer re-arms it.
	assert.False(t, timer.Reset(3*time.Second))
	mock.Advance(3 * time.Second)
	assert.Equal(t, 2, fired)
}

func TestMockClockAfter(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	ch := mock.After(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("channel should not be ready before the deadline")
	default:
	}

	mock.Advance(2 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("channel should be ready after the deadline")
	}
}

func TestMockClockSetAndSince(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	fired := false
	mock.AfterFunc(time.Hour, func() { fired = true })

	later := start.Add(2 * time.Hour)
	mock.Set(later)
	assert.True(t, fired, "forward Set should fire due timers")
	assert.Equal(t, 2*time.Hour, mock.Since(start))

	mock.Set(start)
	assert.Equal(t, start, mock.Now(), "backward Set should rewind without firing")
}
