// Package metrics exposes Prometheus metrics for every registered light.
// The collector reads live tracker snapshots at scrape time, so there is
// no background updater to run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"colorlogic/internal/clock"
	"colorlogic/internal/control"
)

var (
	lightModeIndex = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "mode_index"),
		"Believed mode position in the rotation (1-17), 0 when unknown",
		[]string{"name"},
		nil,
	)
	lightMode = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "mode"),
		"Believed mode. Always 1. See label 'mode'",
		[]string{"name", "mode"},
		nil,
	)
	lightState = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "state"),
		"Tracker state. Always 1. See label 'state'",
		[]string{"name", "state"},
		nil,
	)
	lightPowerOn = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "power_on"),
		"1 if the light relay is on. Absent until the relay state is known",
		[]string{"name"},
		nil,
	)
	lightPendingPulses = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "pending_pulses"),
		"Pulses still owed by the in-flight operation",
		[]string{"name"},
		nil,
	)
	lightProtectionRemaining = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "protection_remaining_seconds"),
		"Seconds until the power protection window closes (0 when unprotected)",
		[]string{"name"},
		nil,
	)
	lightPulsesTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "pulses_total"),
		"Power cycle pulses issued to this light",
		[]string{"name"},
		nil,
	)
	lightModeChangesTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "mode_changes_total"),
		"Completed mode change operations",
		[]string{"name"},
		nil,
	)
	lightExternalAdvancesTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "external_advances_total"),
		"Mode advances inferred from power cycles this controller did not issue",
		[]string{"name"},
		nil,
	)
	lightDesyncsTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "desyncs_total"),
		"Times the believed mode was abandoned as unknown",
		[]string{"name"},
		nil,
	)
	lightResetsTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "resets_total"),
		"Completed reset recalibrations",
		[]string{"name"},
		nil,
	)
	lightConfirmTimeoutsTotal = prometheus.NewDesc(
		prometheus.BuildFQName("colorlogic", "light", "confirmation_timeouts_total"),
		"Operations abandoned because a pulse confirmation never arrived",
		[]string{"name"},
		nil,
	)
)

// Collector implements prometheus.Collector over the light registry.
type Collector struct {
	Controls *control.Registry
	Clock    clock.Clock
	Logger   *zap.Logger
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- lightModeIndex
	ch <- lightMode
	ch <- lightState
	ch <- lightPowerOn
	ch <- lightPendingPulses
	ch <- lightProtectionRemaining
	ch <- lightPulsesTotal
	ch <- lightModeChangesTotal
	ch <- lightExternalAdvancesTotal
	ch <- lightDesyncsTotal
	ch <- lightResetsTotal
	ch <- lightConfirmTimeoutsTotal
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	now := time.Now()
	if c.Clock != nil {
		now = c.Clock.Now()
	}

	for _, name := range c.Controls.Names() {
		ctrl, err := c.Controls.Get(name)
		if err != nil {
			// The light was unregistered between Names and Get.
			c.Logger.Warn("Light vanished during metrics collection", zap.String("light", name))
			continue
		}
		status := ctrl.Status()

		index := 0.0
		if status.Believed != nil {
			index = float64(status.Believed.Index)
			ch <- prometheus.MustNewConstMetric(lightMode, prometheus.GaugeValue, 1, name, status.Believed.Key)
		}
		ch <- prometheus.MustNewConstMetric(lightModeIndex, prometheus.GaugeValue, index, name)
		ch <- prometheus.MustNewConstMetric(lightState, prometheus.GaugeValue, 1, name, string(status.State))

		if status.PowerKnown {
			value := 0.0
			if status.Power {
				value = 1.0
			}
			ch <- prometheus.MustNewConstMetric(lightPowerOn, prometheus.GaugeValue, value, name)
		}

		ch <- prometheus.MustNewConstMetric(lightPendingPulses, prometheus.GaugeValue, float64(status.PendingPulses), name)

		remaining := status.ProtectedUntil.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		ch <- prometheus.MustNewConstMetric(lightProtectionRemaining, prometheus.GaugeValue, remaining.Seconds(), name)

		ch <- prometheus.MustNewConstMetric(lightPulsesTotal, prometheus.CounterValue, float64(status.Counters.PulsesIssued), name)
		ch <- prometheus.MustNewConstMetric(lightModeChangesTotal, prometheus.CounterValue, float64(status.Counters.ModeChanges), name)
		ch <- prometheus.MustNewConstMetric(lightExternalAdvancesTotal, prometheus.CounterValue, float64(status.Counters.ExternalAdvances), name)
		ch <- prometheus.MustNewConstMetric(lightDesyncsTotal, prometheus.CounterValue, float64(status.Counters.Desyncs), name)
		ch <- prometheus.MustNewConstMetric(lightResetsTotal, prometheus.CounterValue, float64(status.Counters.Resets), name)
		ch <- prometheus.MustNewConstMetric(lightConfirmTimeoutsTotal, prometheus.CounterValue, float64(status.Counters.ConfirmTimeouts), name)
	}
}
