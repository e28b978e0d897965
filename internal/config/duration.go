package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "2500ms" or "3m" instead of integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TimeOfDay is a wall-clock time parsed from "HH:MM" or "HH:MM:SS".
// The zero value means "not set".
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
	Set    bool
}

func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.Parse("15:04:05", value.Value)
	if err != nil {
		parsed, err = time.Parse("15:04", value.Value)
	}
	if err != nil {
		return fmt.Errorf("invalid time of day %q: %w", value.Value, err)
	}
	*t = TimeOfDay{
		Hour:   parsed.Hour(),
		Minute: parsed.Minute(),
		Second: parsed.Second(),
		Set:    true,
	}
	return nil
}

func (t TimeOfDay) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second), nil
}

// At anchors the time of day to the date of ref, in ref's location.
func (t TimeOfDay) At(ref time.Time) time.Time {
	year, month, day := ref.Date()
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, 0, ref.Location())
}
