/*
policy.go - Advisory cost-control rules for reminder configurations

PURPOSE:
  Evaluates a candidate reminder configuration before it is saved and
  produces human-readable warnings. Policy never blocks a save; it only
  informs. The delivery side uses the same rules (quiet hours, throttle
  window, daily cap) when deciding whether to send a trigger.

RULES:
  Daily cap:      occurrences per day x active channels summed over the
                  reminders must not exceed DailyReminderCap.
  High frequency: 5m, 15m and 30m intervals are flagged even under the cap
                  because downstream delivery services throttle them.
  Reminder count: more than MaxRemindersPerEvent entries are flagged, the
                  extras are dropped by the normalizer.
  Quiet hours:    pure predicate over the local hour of an instant.
  Throttle:       minimum gap between two firings of the same trigger.

EXAMPLE:
  policy := DefaultPolicy()
  warnings := policy.Evaluate(reminders, RecurrenceDefinition{
      Enabled:  true,
      Interval: Interval1h,
  })
  // one reminder on 3 channels -> 24 x 3 = 72 > 50 -> one cap warning

SEE ALSO:
  - interval.go: Occurrences per day for every interval
  - notify/dispatcher.go: Applies quiet hours, throttle and cap at send time
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultDailyReminderCap is the estimated daily trigger budget.
	DefaultDailyReminderCap = 50
	// DefaultThrottleWindow is the minimum gap between repeats of one trigger.
	DefaultThrottleWindow = 60 * time.Second
)

// Policy holds the cost-control limits.
type Policy struct {
	DailyReminderCap     int
	MaxRemindersPerEvent int
	ThrottleWindow       time.Duration
}

// DefaultPolicy returns the standard limits.
func DefaultPolicy() Policy {
	return Policy{
		DailyReminderCap:     DefaultDailyReminderCap,
		MaxRemindersPerEvent: MaxRemindersPerEvent,
		ThrottleWindow:       DefaultThrottleWindow,
	}
}

// =============================================================================
// DAILY ESTIMATE
// =============================================================================

// OccurrencesPerDay returns the approximate occurrence density of a
// recurrence. A non-recurring definition counts as one.
func OccurrencesPerDay(recur RecurrenceDefinition) decimal.Decimal {
	c := recur.Canonical()
	spec, ok := LookupInterval(c.Interval)
	if !ok || !c.Enabled {
		return decimal.NewFromInt(1)
	}
	return spec.PerDay
}

// EstimateDailyTriggers multiplies the occurrence density by the number of
// active channels across all reminders.
func EstimateDailyTriggers(reminders []Reminder, recur RecurrenceDefinition) decimal.Decimal {
	channels := 0
	for _, r := range reminders {
		channels += r.Channels.Count()
	}
	return OccurrencesPerDay(recur).Mul(decimal.NewFromInt(int64(channels)))
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate returns the warnings for a configuration, in a fixed order: cap,
// high frequency, reminder count.
func (p Policy) Evaluate(reminders []Reminder, recur RecurrenceDefinition) []string {
	var warnings []string

	estimate := EstimateDailyTriggers(reminders, recur)
	if p.DailyReminderCap > 0 && estimate.GreaterThan(decimal.NewFromInt(int64(p.DailyReminderCap))) {
		warnings = append(warnings, fmt.Sprintf(
			"This setup could send about %s reminders per day, above the daily cap of %d. Reduce channels or choose a longer interval.",
			estimate.Round(2).String(), p.DailyReminderCap))
	}

	c := recur.Canonical()
	if spec, ok := LookupInterval(c.Interval); ok && c.Enabled && spec.HighFrequency {
		warnings = append(warnings, fmt.Sprintf(
			"Repeating %s is high frequency and may be throttled by notification services.",
			lowerFirst(spec.Label)))
	}

	limit := p.MaxRemindersPerEvent
	if limit <= 0 {
		limit = MaxRemindersPerEvent
	}
	if len(reminders) > limit {
		warnings = append(warnings, fmt.Sprintf(
			"Only %d reminders per event are kept. %d extra will be dropped.",
			limit, len(reminders)-limit))
	}

	return warnings
}

// Throttled reports whether a trigger that last fired at lastFiredMs must be
// held back at nowMs. A zero lastFiredMs means it never fired.
func (p Policy) Throttled(lastFiredMs, nowMs int64) bool {
	if p.ThrottleWindow <= 0 || lastFiredMs == 0 || nowMs < lastFiredMs {
		return false
	}
	return nowMs-lastFiredMs < p.ThrottleWindow.Milliseconds()
}

// =============================================================================
// QUIET HOURS
// =============================================================================

// QuietHours is a local hour-of-day window [Start, End). Start > End wraps
// past midnight; Start == End is an empty window.
type QuietHours struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Valid reports whether both bounds are hours of the day.
func (q QuietHours) Valid() bool {
	return q.Start >= 0 && q.Start <= 23 && q.End >= 0 && q.End <= 23
}

// Contains reports whether a local hour falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	if !q.Valid() || q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	return hour >= q.Start || hour < q.End
}

// IsWithinQuietHours reports whether the local hour of epochMs in timezone
// falls in the quiet window. An unknown zone is treated as UTC.
func IsWithinQuietHours(epochMs int64, timezone string, q QuietHours) bool {
	hour := time.UnixMilli(epochMs).In(LocationOrUTC(timezone)).Hour()
	return q.Contains(hour)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
