// Package state keeps an in-memory cache of the controller's state variables
// synchronized with their Home Assistant input helpers. Variables are
// declared in variables.go; plugins read, write, and subscribe through the
// Manager rather than talking to entity IDs directly.
package state

import (
	"fmt"
	"sync"

	"colorlogic/internal/ha"

	"go.uber.org/zap"
)

// StateChangeHandler is called when a state variable changes
type StateChangeHandler func(key string, oldValue, newValue interface{})

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	key     string
	subID   int
	manager *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.key, s.subID)
}

type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Manager manages state synchronization with Home Assistant
type Manager struct {
	client      ha.HAClient
	logger      *zap.Logger
	readOnly    bool
	cache       map[string]interface{}
	cacheMu     sync.RWMutex
	variables   map[string]StateVariable
	entityToKey map[string]string
	subscribers map[string][]subscriberEntry
	nextSubID   int
	subsMu      sync.RWMutex
	haSubs      map[string]ha.Subscription
}

// NewManager creates a new state manager. In read-only mode writes update
// the local cache and log what would have been sent, but never reach HA.
func NewManager(client ha.HAClient, logger *zap.Logger, readOnly bool) *Manager {
	variables := VariablesByKey()
	entityToKey := make(map[string]string)

	for key, v := range variables {
		if v.EntityID != "" {
			entityToKey[v.EntityID] = key
		}
	}

	return &Manager{
		client:      client,
		logger:      logger,
		readOnly:    readOnly,
		cache:       make(map[string]interface{}),
		variables:   variables,
		entityToKey: entityToKey,
		subscribers: make(map[string][]subscriberEntry),
		haSubs:      make(map[string]ha.Subscription),
	}
}

// SyncFromHA reads all state variables from Home Assistant
func (m *Manager) SyncFromHA() error {
	m.logger.Info("Syncing state from Home Assistant...")

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}

	stateMap := make(map[string]*ha.State)
	for _, state := range states {
		stateMap[state.EntityID] = state
	}

	syncCount := 0
	localCount := 0
	for _, variable := range AllVariables {
		if variable.LocalOnly {
			m.cacheMu.Lock()
			m.cache[variable.Key] = variable.Default
			m.cacheMu.Unlock()
			localCount++
			m.logger.Debug("Initialized local-only variable",
				zap.String("key", variable.Key))
			continue
		}

		state, ok := stateMap[variable.EntityID]
		if !ok {
			m.logger.Warn("Entity not found in HA, using default",
				zap.String("entity_id", variable.EntityID),
				zap.String("key", variable.Key))
			m.cacheMu.Lock()
			m.cache[variable.Key] = variable.Default
			m.cacheMu.Unlock()
		} else {
			value, err := m.parseStateValue(state.State, variable.Type)
			if err != nil {
				m.logger.Error("Failed to parse state value",
					zap.String("entity_id", variable.EntityID),
					zap.String("key", variable.Key),
					zap.Error(err))
				m.cacheMu.Lock()
				m.cache[variable.Key] = variable.Default
				m.cacheMu.Unlock()
			} else {
				m.cacheMu.Lock()
				m.cache[variable.Key] = value
				m.cacheMu.Unlock()
				syncCount++
			}
		}

		// Subscribe even when the entity was missing: it may be created
		// in HA after we start.
		if err := m.subscribeToEntity(variable.EntityID, variable.Key); err != nil {
			m.logger.Warn("Failed to subscribe to entity",
				zap.String("entity_id", variable.EntityID),
				zap.Error(err))
		}
	}

	m.logger.Info("State sync complete",
		zap.Int("synced", syncCount),
		zap.Int("local_only", localCount),
		zap.Int("total", len(AllVariables)))

	return nil
}

// parseStateValue parses a state string into the appropriate type
func (m *Manager) parseStateValue(stateStr string, varType StateType) (interface{}, error) {
	switch varType {
	case TypeBool:
		return stateStr == "on", nil
	case TypeString:
		return stateStr, nil
	default:
		return nil, fmt.Errorf("unknown type: %s", varType)
	}
}

// subscribeToEntity subscribes to state changes for an entity
func (m *Manager) subscribeToEntity(entityID, key string) error {
	sub, err := m.client.SubscribeStateChanges(entityID, func(entity string, oldState, newState *ha.State) {
		if newState == nil {
			return
		}

		variable, ok := m.variables[key]
		if !ok {
			return
		}

		newValue, err := m.parseStateValue(newState.State, variable.Type)
		if err != nil {
			m.logger.Error("Failed to parse state change",
				zap.String("entity_id", entityID),
				zap.String("key", key),
				zap.Error(err))
			return
		}

		m.cacheMu.Lock()
		oldValue := m.cache[key]
		m.cache[key] = newValue
		m.cacheMu.Unlock()

		m.logger.Debug("State changed",
			zap.String("key", key),
			zap.Any("old", oldValue),
			zap.Any("new", newValue))

		m.notifySubscribers(key, oldValue, newValue)
	})

	if err != nil {
		return err
	}

	m.haSubs[entityID] = sub
	return nil
}

// notifySubscribers notifies all subscribers of a state change
func (m *Manager) notifySubscribers(key string, oldValue, newValue interface{}) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[key]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		go entry.handler(key, oldValue, newValue)
	}
}

// GetBool retrieves a boolean state variable
func (m *Manager) GetBool(key string) (bool, error) {
	variable, ok := m.variables[key]
	if !ok {
		return false, fmt.Errorf("variable %s not found", key)
	}

	if variable.Type != TypeBool {
		return false, fmt.Errorf("variable %s is not a boolean", key)
	}

	m.cacheMu.RLock()
	value, ok := m.cache[key]
	m.cacheMu.RUnlock()

	if !ok {
		return variable.Default.(bool), nil
	}

	boolValue, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("cached value for %s is not a boolean", key)
	}

	return boolValue, nil
}

// SetBool sets a boolean state variable
func (m *Manager) SetBool(key string, value bool) error {
	variable, ok := m.variables[key]
	if !ok {
		return fmt.Errorf("variable %s not found", key)
	}

	if variable.Type != TypeBool {
		return fmt.Errorf("variable %s is not a boolean", key)
	}

	m.cacheMu.Lock()
	oldValue := m.cache[key]
	m.cache[key] = value
	m.cacheMu.Unlock()

	if variable.LocalOnly {
		// No HA echo for local variables, so notify directly.
		if prev, ok := oldValue.(bool); !ok || prev != value {
			m.notifySubscribers(key, oldValue, value)
		}
		return nil
	}

	entityName := extractEntityName(variable.EntityID)

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would set input_boolean",
			zap.String("entity", entityName),
			zap.Bool("value", value))
		return nil
	}

	if err := m.client.SetInputBoolean(entityName, value); err != nil {
		// Rollback cache on error
		m.cacheMu.Lock()
		m.cache[key] = oldValue
		m.cacheMu.Unlock()
		return fmt.Errorf("failed to set HA value: %w", err)
	}

	return nil
}

// GetString retrieves a string state variable
func (m *Manager) GetString(key string) (string, error) {
	variable, ok := m.variables[key]
	if !ok {
		return "", fmt.Errorf("variable %s not found", key)
	}

	if variable.Type != TypeString {
		return "", fmt.Errorf("variable %s is not a string", key)
	}

	m.cacheMu.RLock()
	value, ok := m.cache[key]
	m.cacheMu.RUnlock()

	if !ok {
		return variable.Default.(string), nil
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("cached value for %s is not a string", key)
	}

	return strValue, nil
}

// SetString sets a string state variable
func (m *Manager) SetString(key string, value string) error {
	variable, ok := m.variables[key]
	if !ok {
		return fmt.Errorf("variable %s not found", key)
	}

	if variable.Type != TypeString {
		return fmt.Errorf("variable %s is not a string", key)
	}

	m.cacheMu.Lock()
	oldValue := m.cache[key]
	m.cache[key] = value
	m.cacheMu.Unlock()

	if variable.LocalOnly {
		if prev, ok := oldValue.(string); !ok || prev != value {
			m.notifySubscribers(key, oldValue, value)
		}
		return nil
	}

	entityName := extractEntityName(variable.EntityID)

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would set input_text",
			zap.String("entity", entityName),
			zap.String("value", value))
		return nil
	}

	if err := m.client.SetInputText(entityName, value); err != nil {
		// Rollback cache on error
		m.cacheMu.Lock()
		m.cache[key] = oldValue
		m.cacheMu.Unlock()
		return fmt.Errorf("failed to set HA value: %w", err)
	}

	return nil
}

// CompareAndSwapBool atomically compares and swaps a boolean value. The swap
// is atomic against the local cache; the reset coordinator relies on it to
// consume the resync trigger exactly once.
func (m *Manager) CompareAndSwapBool(key string, old, new bool) (bool, error) {
	variable, ok := m.variables[key]
	if !ok {
		return false, fmt.Errorf("variable %s not found", key)
	}

	if variable.Type != TypeBool {
		return false, fmt.Errorf("variable %s is not a boolean", key)
	}

	m.cacheMu.Lock()

	currentValue, ok := m.cache[key]
	if !ok {
		currentValue = variable.Default
	}

	currentBool, ok := currentValue.(bool)
	if !ok {
		m.cacheMu.Unlock()
		return false, fmt.Errorf("cached value for %s is not a boolean", key)
	}

	if currentBool != old {
		m.cacheMu.Unlock()
		return false, nil
	}

	m.cache[key] = new

	// Release lock before calling HA client to avoid deadlock
	m.cacheMu.Unlock()

	if variable.LocalOnly {
		m.notifySubscribers(key, old, new)
		return true, nil
	}

	entityName := extractEntityName(variable.EntityID)

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would set input_boolean",
			zap.String("entity", entityName),
			zap.Bool("value", new))
		return true, nil
	}

	if err := m.client.SetInputBoolean(entityName, new); err != nil {
		// Rollback on error
		m.cacheMu.Lock()
		m.cache[key] = old
		m.cacheMu.Unlock()
		return false, fmt.Errorf("failed to set HA value: %w", err)
	}

	return true, nil
}

// Subscribe subscribes to state changes for a variable
func (m *Manager) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	if _, ok := m.variables[key]; !ok {
		return nil, fmt.Errorf("variable %s not found", key)
	}

	m.subsMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[key] = append(m.subscribers[key], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &subscription{
		key:     key,
		subID:   subID,
		manager: m,
	}, nil
}

// unsubscribe removes one subscription by key and subscription ID
func (m *Manager) unsubscribe(key string, subID int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.subscribers[key]
	for i, entry := range entries {
		if entry.subID == subID {
			m.subscribers[key] = append(entries[:i], entries[i+1:]...)
			if len(m.subscribers[key]) == 0 {
				delete(m.subscribers, key)
			}
			return
		}
	}
}

// GetAllValues returns all cached values
func (m *Manager) GetAllValues() map[string]interface{} {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	values := make(map[string]interface{})
	for k, v := range m.cache {
		values[k] = v
	}
	return values
}

// extractEntityName extracts the entity name from full entity ID
// e.g., "input_boolean.pool_lights_enabled" -> "pool_lights_enabled"
func extractEntityName(entityID string) string {
	for i := len(entityID) - 1; i >= 0; i-- {
		if entityID[i] == '.' {
			return entityID[i+1:]
		}
	}
	return entityID
}
