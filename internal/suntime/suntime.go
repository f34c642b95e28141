// Package suntime computes upcoming sunrise and sunset times for a fixed
// location.
package suntime

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Event is a sun event.
type Event string

const (
	Sunrise Event = "rise"
	Sunset  Event = "set"
)

// Calculator answers sun questions for one location.
type Calculator struct {
	latitude  float64
	longitude float64
}

func NewCalculator(latitude, longitude float64) *Calculator {
	return &Calculator{latitude: latitude, longitude: longitude}
}

// Times returns the sunrise and sunset for the calendar day of day, in
// day's location. Both are zero when the sun does not rise or set that day.
func (c *Calculator) Times(day time.Time) (rise, set time.Time) {
	rise, set = sunrise.SunriseSunset(c.latitude, c.longitude, day.Year(), day.Month(), day.Day())
	if !rise.IsZero() {
		rise = rise.In(day.Location())
	}
	if !set.IsZero() {
		set = set.In(day.Location())
	}
	return rise, set
}

// Next returns the first occurrence of event strictly after now. ok is
// false when none happens within the next two days (polar day or night).
func (c *Calculator) Next(event Event, now time.Time) (time.Time, bool) {
	for offset := 0; offset <= 2; offset++ {
		rise, set := c.Times(now.AddDate(0, 0, offset))
		t := rise
		if event == Sunset {
			t = set
		}
		if !t.IsZero() && t.After(now) {
			return t, true
		}
	}
	return time.Time{}, false
}
