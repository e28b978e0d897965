package state

import "go.uber.org/zap"

// SetupComputedState initializes computed state variables and sets up
// subscriptions to automatically recompute them when dependencies change.
//
// Computed state variables are derived from other state variables:
// - scheduleActive = poolLightsEnabled && scheduleEnabled
func (m *Manager) SetupComputedState() error {
	if err := m.recomputeScheduleActive(); err != nil {
		return err
	}

	for _, dep := range []string{"poolLightsEnabled", "scheduleEnabled"} {
		_, err := m.Subscribe(dep, func(key string, oldValue, newValue interface{}) {
			if err := m.recomputeScheduleActive(); err != nil {
				m.logger.Error("Failed to recompute scheduleActive",
					zap.String("trigger", key),
					zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	m.logger.Info("Computed state initialized",
		zap.Strings("variables", []string{"scheduleActive"}))

	return nil
}

// recomputeScheduleActive computes scheduleActive from its dependencies.
// Formula: scheduleActive = poolLightsEnabled && scheduleEnabled
func (m *Manager) recomputeScheduleActive() error {
	poolLightsEnabled, err := m.GetBool("poolLightsEnabled")
	if err != nil {
		return err
	}

	scheduleEnabled, err := m.GetBool("scheduleEnabled")
	if err != nil {
		return err
	}

	newValue := poolLightsEnabled && scheduleEnabled

	currentValue, _ := m.GetBool("scheduleActive")
	if currentValue != newValue {
		m.logger.Debug("Recomputing scheduleActive",
			zap.Bool("poolLightsEnabled", poolLightsEnabled),
			zap.Bool("scheduleEnabled", scheduleEnabled),
			zap.Bool("result", newValue))
	}

	return m.SetBool("scheduleActive", newValue)
}
