package suntime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// London, around the summer solstice: sunrise ~03:43Z, sunset ~20:21Z.
var london = NewCalculator(51.5074, -0.1278)

func TestTimes_Ordering(t *testing.T) {
	day := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
	rise, set := london.Times(day)

	require.False(t, rise.IsZero())
	require.False(t, set.IsZero())
	assert.True(t, rise.Before(set))
	assert.Equal(t, 21, rise.Day())
	assert.Equal(t, 21, set.Day())
	assert.InDelta(t, 3.7, float64(rise.Hour())+float64(rise.Minute())/60, 0.5)
	assert.InDelta(t, 20.35, float64(set.Hour())+float64(set.Minute())/60, 0.5)
}

func TestNext_RollsOverToTomorrow(t *testing.T) {
	noon := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)

	set, ok := london.Next(Sunset, noon)
	require.True(t, ok)
	assert.Equal(t, 21, set.Day(), "sunset later today")

	rise, ok := london.Next(Sunrise, noon)
	require.True(t, ok)
	assert.Equal(t, 22, rise.Day(), "today's sunrise already passed")
	assert.True(t, rise.After(noon))
	assert.Less(t, rise.Sub(noon), 24*time.Hour)
}

func TestNext_EarlyMorning(t *testing.T) {
	early := time.Date(2024, 6, 21, 1, 0, 0, 0, time.UTC)

	rise, ok := london.Next(Sunrise, early)
	require.True(t, ok)
	assert.Equal(t, 21, rise.Day())
}

func TestTimes_KeepsCallerLocation(t *testing.T) {
	hk := time.FixedZone("HKT", 8*3600)
	calc := NewCalculator(22.28, 114.16)
	day := time.Date(2024, 6, 21, 12, 0, 0, 0, hk)

	rise, set := calc.Times(day)
	assert.Equal(t, hk, rise.Location())
	assert.Equal(t, 21, rise.Day(), "local sunrise falls on the same local day")
	assert.True(t, rise.Before(day))
	assert.True(t, set.After(day))
}
