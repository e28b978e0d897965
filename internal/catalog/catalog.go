// Package catalog defines the fixed mode table of Hayward ColorLogic pool
// lights. The table mirrors the device firmware's rotation: 17 modes in a
// fixed order, reached only by cycling power in sequence. Indexes are 1-based
// to match the order the hardware steps through; the catalog never changes at
// runtime and is safe for concurrent reads.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Count is the number of modes in the device rotation.
const Count = 17

var (
	// ErrUnknownMode indicates an identifier that names no catalog mode.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrOutOfRange indicates an index outside the 1..17 rotation.
	ErrOutOfRange = errors.New("mode index out of range")
)

// Mode is one entry in the device rotation. Fixed-color modes carry their
// RGB value; shows animate through multiple colors and have no single RGB.
type Mode struct {
	Index int    // 1-based position in the rotation
	Key   string // stable identifier, snake_case
	Name  string // human-readable label
	Show  bool   // animated show rather than a fixed color
	R     uint8  // fixed-color modes only
	G     uint8
	B     uint8
}

// String returns the mode's stable identifier.
func (m Mode) String() string {
	return m.Key
}

// The rotation order comes from the device firmware and must not be reordered.
var modes = [Count]Mode{
	{Index: 1, Key: "voodoo_lounge", Name: "Voodoo Lounge", Show: true},
	{Index: 2, Key: "deep_blue_sea", Name: "Deep Blue Sea", R: 0, G: 0, B: 255},
	{Index: 3, Key: "royal_blue", Name: "Royal Blue", R: 65, G: 105, B: 225},
	{Index: 4, Key: "afternoon_skies", Name: "Afternoon Skies", R: 135, G: 206, B: 235},
	{Index: 5, Key: "aqua_green", Name: "Aqua Green", R: 0, G: 255, B: 212},
	{Index: 6, Key: "emerald", Name: "Emerald", R: 0, G: 201, B: 87},
	{Index: 7, Key: "cloud_white", Name: "Cloud White", R: 255, G: 255, B: 255},
	{Index: 8, Key: "warm_red", Name: "Warm Red", R: 255, G: 0, B: 0},
	{Index: 9, Key: "flamingo", Name: "Flamingo", R: 255, G: 192, B: 203},
	{Index: 10, Key: "vivid_violet", Name: "Vivid Violet", R: 138, G: 43, B: 226},
	{Index: 11, Key: "sangria", Name: "Sangria", R: 146, G: 0, B: 10},
	{Index: 12, Key: "twilight", Name: "Twilight", Show: true},
	{Index: 13, Key: "tranquility", Name: "Tranquility", Show: true},
	{Index: 14, Key: "gemstone", Name: "Gemstone", Show: true},
	{Index: 15, Key: "usa", Name: "USA", Show: true},
	{Index: 16, Key: "mardi_gras", Name: "Mardi Gras", Show: true},
	{Index: 17, Key: "cool_cabaret", Name: "Cool Cabaret", Show: true},
}

var byKey = make(map[string]Mode, Count)

func init() {
	for _, m := range modes {
		byKey[m.Key] = m
	}
}

// Modes returns the full rotation in device order.
func Modes() []Mode {
	out := make([]Mode, Count)
	copy(out, modes[:])
	return out
}

// Find resolves an identifier to its mode. Identifiers are matched against
// the snake_case key, case-insensitively, with spaces and hyphens treated as
// underscores so "Deep Blue Sea" and "deep-blue-sea" both resolve.
func Find(identifier string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	if m, ok := byKey[key]; ok {
		return m, nil
	}
	return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, identifier)
}

// ByIndex returns the mode at a 1-based rotation position.
func ByIndex(index int) (Mode, error) {
	if index < 1 || index > Count {
		return Mode{}, fmt.Errorf("%w: %d (valid range 1-%d)", ErrOutOfRange, index, Count)
	}
	return modes[index-1], nil
}

// Successor returns the mode one power cycle ahead of m, wrapping from the
// last rotation position back to the first.
func Successor(m Mode) Mode {
	return modes[m.Index%Count]
}

// ResetMode returns the mode the device recalibrates to after a reset
// sequence: the first rotation position.
func ResetMode() Mode {
	return modes[0]
}

// Nearest returns the fixed-color mode closest to the requested RGB value by
// Euclidean distance. Shows are never candidates. Ties resolve to the lowest
// rotation index, so results are deterministic.
func Nearest(r, g, b uint8) Mode {
	best := Mode{}
	bestDist := -1

	for _, m := range modes {
		if m.Show {
			continue
		}
		dist := sq(int(m.R)-int(r)) + sq(int(m.G)-int(g)) + sq(int(m.B)-int(b))
		if bestDist < 0 || dist < bestDist {
			best = m
			bestDist = dist
		}
	}
	return best
}

func sq(v int) int {
	return v * v
}
