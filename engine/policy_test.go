package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
)

var allChannels = engine.Channels{InApp: true, Browser: true, Push: true}

func every(i engine.Interval) engine.RecurrenceDefinition {
	return engine.RecurrenceDefinition{Enabled: true, Interval: i, Ends: never}
}

// =============================================================================
// DAILY CAP
// =============================================================================

func TestEvaluate_HourlyOnAllChannels_ExceedsCap(t *testing.T) {
	// GIVEN: One reminder on all three channels, repeating hourly
	reminders := []engine.Reminder{{MinutesBefore: 5, Channels: allChannels}}

	// WHEN: Evaluated against the default policy
	warnings := engine.DefaultPolicy().Evaluate(reminders, every(engine.Interval1h))

	// THEN: 24 x 3 = 72 > 50 yields exactly one warning carrying the number
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "72")
	assert.Contains(t, warnings[0], "50")
}

func TestEvaluate_DailyUnderCap_NoWarnings(t *testing.T) {
	reminders := []engine.Reminder{
		{MinutesBefore: 0, Channels: allChannels},
		{MinutesBefore: 15, Channels: allChannels},
		{MinutesBefore: 60, Channels: allChannels},
	}

	assert.Empty(t, engine.DefaultPolicy().Evaluate(reminders, every(engine.Interval1D)))
}

func TestEvaluate_NonRecurringCountsOnce(t *testing.T) {
	reminders := []engine.Reminder{{MinutesBefore: 0, Channels: allChannels}}

	est := engine.EstimateDailyTriggers(reminders, engine.RecurrenceDefinition{})

	assert.True(t, est.Equal(decimal.NewFromInt(3)))
}

func TestOccurrencesPerDay_Table(t *testing.T) {
	tests := []struct {
		interval engine.Interval
		want     decimal.Decimal
	}{
		{engine.Interval5m, decimal.NewFromInt(288)},
		{engine.Interval15m, decimal.NewFromInt(96)},
		{engine.Interval30m, decimal.NewFromInt(48)},
		{engine.Interval1h, decimal.NewFromInt(24)},
		{engine.Interval4h, decimal.NewFromInt(6)},
		{engine.Interval1D, decimal.NewFromInt(1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			assert.True(t, engine.OccurrencesPerDay(every(tt.interval)).Equal(tt.want))
		})
	}

	// Approximate long intervals multiply back to one.
	one := decimal.NewFromInt(1)
	assert.True(t, engine.OccurrencesPerDay(every(engine.Interval1W)).Mul(decimal.NewFromInt(7)).Round(6).Equal(one))
	assert.True(t, engine.OccurrencesPerDay(every(engine.Interval1M)).Mul(decimal.NewFromInt(30)).Round(6).Equal(one))
	assert.True(t, engine.OccurrencesPerDay(every(engine.Interval1Q)).Mul(decimal.NewFromInt(90)).Round(6).Equal(one))
	assert.True(t, engine.OccurrencesPerDay(every(engine.Interval1Y)).Mul(decimal.NewFromInt(365)).Round(6).Equal(one))
}

// =============================================================================
// HIGH FREQUENCY AND COUNT
// =============================================================================

func TestEvaluate_HighFrequencyFlaggedUnderCap(t *testing.T) {
	// GIVEN: 30m on one channel = 48/day, under the cap
	reminders := []engine.Reminder{{MinutesBefore: 0, Channels: inApp}}

	warnings := engine.DefaultPolicy().Evaluate(reminders, every(engine.Interval30m))

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "every 30 minutes")
}

func TestEvaluate_FiveMinutes_CapThenFrequency(t *testing.T) {
	reminders := []engine.Reminder{{MinutesBefore: 0, Channels: inApp}}

	warnings := engine.DefaultPolicy().Evaluate(reminders, every(engine.Interval5m))

	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "288")
	assert.Contains(t, warnings[1], "high frequency")
}

func TestEvaluate_TooManyReminders(t *testing.T) {
	reminders := []engine.Reminder{
		{MinutesBefore: 0, Channels: inApp},
		{MinutesBefore: 5, Channels: inApp},
		{MinutesBefore: 10, Channels: inApp},
		{MinutesBefore: 15, Channels: inApp},
		{MinutesBefore: 20, Channels: inApp},
	}

	warnings := engine.DefaultPolicy().Evaluate(reminders, engine.RecurrenceDefinition{})

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "2 extra")
}

// =============================================================================
// QUIET HOURS
// =============================================================================

func TestIsWithinQuietHours_Wraparound(t *testing.T) {
	q := engine.QuietHours{Start: 21, End: 6}
	at := func(hour int) int64 {
		return time.Date(2025, time.January, 10, hour, 15, 0, 0, time.UTC).UnixMilli()
	}

	assert.True(t, engine.IsWithinQuietHours(at(23), "UTC", q))
	assert.True(t, engine.IsWithinQuietHours(at(3), "UTC", q))
	assert.True(t, engine.IsWithinQuietHours(at(21), "UTC", q))
	assert.False(t, engine.IsWithinQuietHours(at(12), "UTC", q))
	assert.False(t, engine.IsWithinQuietHours(at(6), "UTC", q))
}

func TestIsWithinQuietHours_UsesLocalHour(t *testing.T) {
	// 04:00 UTC is 23:00 the previous evening in New York
	instant := time.Date(2025, time.January, 10, 4, 0, 0, 0, time.UTC).UnixMilli()
	q := engine.QuietHours{Start: 21, End: 6}

	assert.True(t, engine.IsWithinQuietHours(instant, "America/New_York", q))
	assert.False(t, engine.IsWithinQuietHours(instant, "Asia/Tokyo", q), "13:00 in Tokyo")
}

func TestIsWithinQuietHours_EdgeCases(t *testing.T) {
	noon := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC).UnixMilli()

	assert.False(t, engine.IsWithinQuietHours(noon, "UTC", engine.QuietHours{Start: 8, End: 8}), "empty window")
	assert.True(t, engine.IsWithinQuietHours(noon, "UTC", engine.QuietHours{Start: 9, End: 17}))
	assert.True(t, engine.IsWithinQuietHours(noon, "Not/AZone", engine.QuietHours{Start: 9, End: 17}), "unknown zone is UTC")
	assert.False(t, engine.IsWithinQuietHours(noon, "UTC", engine.QuietHours{Start: 9, End: 30}), "invalid window")
}

// =============================================================================
// THROTTLE
// =============================================================================

func TestPolicy_Throttled(t *testing.T) {
	p := engine.DefaultPolicy()
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC).UnixMilli()

	assert.False(t, p.Throttled(0, now), "never fired")
	assert.True(t, p.Throttled(now-30_000, now))
	assert.False(t, p.Throttled(now-60_000, now))

	p.ThrottleWindow = 0
	assert.False(t, p.Throttled(now-1, now))
}
