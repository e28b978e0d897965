package protection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestZeroWindowIsExpired(t *testing.T) {
	var w Window
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, w.IsProtected(now))
	assert.Zero(t, w.Remaining(now))
	assert.True(t, w.Until().IsZero())
}

func TestExtendOpensWindow(t *testing.T) {
	var w Window
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	w.Extend(now, DefaultStabilization)

	assert.True(t, w.IsProtected(now))
	assert.True(t, w.IsProtected(now.Add(59*time.Second)))
	assert.False(t, w.IsProtected(now.Add(60*time.Second)), "the boundary instant is not protected")
	assert.Equal(t, now.Add(60*time.Second), w.Until())
	assert.Equal(t, 45*time.Second, w.Remaining(now.Add(15*time.Second)))
}

func TestExtendNeverShrinks(t *testing.T) {
	var w Window
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	w.Extend(now, DefaultReset)
	w.Extend(now.Add(time.Second), DefaultStabilization)

	assert.Equal(t, now.Add(DefaultReset), w.Until(), "a shorter extension must not pull the window in")
}

func TestExtendPushesOut(t *testing.T) {
	var w Window
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	w.Extend(now, DefaultStabilization)
	later := now.Add(30 * time.Second)
	w.Extend(later, DefaultStabilization)

	assert.Equal(t, later.Add(DefaultStabilization), w.Until())
}
