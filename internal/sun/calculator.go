// Package sun computes sunrise and dusk times for a fixed site.
package sun

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

// civilTwilight is the gap between sunset and civil dusk. The solar
// library only computes actual sunrise and sunset, so dusk is
// approximated the same way year round.
const civilTwilight = 30 * time.Minute

// maxDuskScanDays bounds NextDusk's forward search so a polar site
// cannot loop forever.
const maxDuskScanDays = 7

// Calculator derives sun times for one latitude/longitude pair.
// It is stateless and safe for concurrent use.
type Calculator struct {
	latitude  float64
	longitude float64
	location  *time.Location
	logger    *zap.Logger
}

// NewCalculator creates a calculator for the given coordinates.
// Returned times are expressed in location; nil means UTC.
func NewCalculator(latitude, longitude float64, location *time.Location, logger *zap.Logger) *Calculator {
	if location == nil {
		location = time.UTC
	}
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		location:  location,
		logger:    logger,
	}
}

// Location returns the timezone the calculator anchors days to.
func (c *Calculator) Location() *time.Location {
	return c.location
}

// SunTimes returns sunrise and sunset for the day ref falls on at the
// configured site. Both are zero when the sun never rises or never
// sets that day.
func (c *Calculator) SunTimes(ref time.Time) (rise, set time.Time) {
	local := ref.In(c.location)
	rise, set = sunrise.SunriseSunset(c.latitude, c.longitude, local.Year(), local.Month(), local.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}
	}
	rise = rise.In(c.location)
	set = set.In(c.location)
	c.logger.Debug("Sun times computed",
		zap.Time("sunrise", rise),
		zap.Time("sunset", set))
	return rise, set
}

// DuskOn returns civil dusk for the day ref falls on, zero when the
// sun never sets that day.
func (c *Calculator) DuskOn(ref time.Time) time.Time {
	_, set := c.SunTimes(ref)
	if set.IsZero() {
		return time.Time{}
	}
	return set.Add(civilTwilight)
}

// NextDusk returns the first dusk strictly after now. During a polar
// day it lands on the first evening the sun sets again, as long as
// that is within the scan horizon.
func (c *Calculator) NextDusk(now time.Time) (time.Time, error) {
	for day := 0; day < maxDuskScanDays; day++ {
		dusk := c.DuskOn(now.AddDate(0, 0, day))
		if !dusk.IsZero() && dusk.After(now) {
			if day > 1 {
				c.logger.Debug("Next dusk is more than a day out",
					zap.Int("daysAhead", day),
					zap.Time("dusk", dusk))
			}
			return dusk, nil
		}
	}
	return time.Time{}, fmt.Errorf("no dusk in the next %d days at %.5f,%.5f", maxDuskScanDays, c.latitude, c.longitude)
}
