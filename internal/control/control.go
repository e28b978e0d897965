// Package control holds the shared registry mapping light names to their
// controllers. The lights plugin registers a controller per configured light;
// the HTTP API, the schedule plugin, and the metrics collector resolve
// lights through it.
package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"colorlogic/internal/catalog"
	"colorlogic/internal/tracker"
)

// ErrUnknownLight is returned when no controller is registered under the
// requested name.
var ErrUnknownLight = errors.New("unknown light")

// Controller is the per-light command surface. SetMode and SetColor accept
// catalog keys and RGB values respectively; both resolve to a tracked mode
// change. Status is safe to call at any time.
type Controller interface {
	SetMode(modeKey string) error
	SetColor(r, g, b uint8) (catalog.Mode, error)
	NextMode() (catalog.Mode, error)
	Reset() error
	SetPower(on bool) error
	Status() tracker.Status
}

// Registry maps light names to controllers.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
}

// NewRegistry creates an empty controller registry.
func NewRegistry() *Registry {
	return &Registry{
		controllers: make(map[string]Controller),
	}
}

// Register adds a controller under a name. Names must be unique; registering
// a duplicate is an error rather than a silent replace.
func (r *Registry) Register(name string, c Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return fmt.Errorf("light name cannot be empty")
	}
	if c == nil {
		return fmt.Errorf("light %s: controller cannot be nil", name)
	}
	if _, exists := r.controllers[name]; exists {
		return fmt.Errorf("light %s: already registered", name)
	}

	r.controllers[name] = c
	return nil
}

// Unregister removes a controller by name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, name)
}

// Get resolves a controller by light name.
func (r *Registry) Get(name string) (Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLight, name)
	}
	return c, nil
}

// Names returns all registered light names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all registered controllers. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers = make(map[string]Controller)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Default returns the process-wide registry that plugins register into.
func Default() *Registry {
	return globalRegistry
}

// Register adds a controller to the global registry.
func Register(name string, c Controller) error {
	return globalRegistry.Register(name, c)
}

// Unregister removes a controller from the global registry.
func Unregister(name string) {
	globalRegistry.Unregister(name)
}

// Get resolves a controller from the global registry.
func Get(name string) (Controller, error) {
	return globalRegistry.Get(name)
}

// Names returns all light names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
