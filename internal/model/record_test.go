package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateRange_Days(t *testing.T) {
	r := DateRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 7, r.Days())

	single := DateRange{Start: r.Start, End: r.Start}
	assert.Equal(t, 1, single.Days())
}

func TestDateRange_Contains(t *testing.T) {
	r := DateRange{
		Start: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, r.Contains(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2026, 1, 10, 23, 59, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2026, 1, 4, 23, 59, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)))
}

func TestDateRange_ContainsCrossesTimezone(t *testing.T) {
	r := DateRange{
		Start: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	// 2026-01-05 23:00 EST is 2026-01-06 04:00 UTC, outside the range.
	est := time.FixedZone("EST", -5*3600)
	assert.False(t, r.Contains(time.Date(2026, 1, 5, 23, 0, 0, 0, est)))
	assert.True(t, r.Contains(time.Date(2026, 1, 5, 10, 0, 0, 0, est)))
}

func TestLastNDays(t *testing.T) {
	now := time.Date(2026, 1, 15, 13, 45, 0, 0, time.UTC)
	r := LastNDays(now, 7)

	assert.Equal(t, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), r.End)
	assert.Equal(t, 7, r.Days())
}

func TestDayOf(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	d := DayOf(time.Date(2026, 1, 5, 22, 30, 0, 0, est))
	assert.Equal(t, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), d)
}

func TestAllSources(t *testing.T) {
	ids := AllSources()
	assert.Equal(t, []SourceID{SourceNotices, SourceCapacity, SourceSpot, SourceStorage, SourceWeather}, ids)
}

func TestCapacityPayload_Utilization(t *testing.T) {
	tests := []struct {
		name string
		p    CapacityPayload
		want float64
	}{
		{"normal", CapacityPayload{OperatingCap: 100, ScheduledQty: 80}, 0.8},
		{"over capacity", CapacityPayload{OperatingCap: 100, ScheduledQty: 110}, 1.1},
		{"zero operating", CapacityPayload{OperatingCap: 0, ScheduledQty: 50}, 0},
		{"negative scheduled clamped", CapacityPayload{OperatingCap: 100, ScheduledQty: -5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.p.Utilization(), 1e-9)
		})
	}
}
