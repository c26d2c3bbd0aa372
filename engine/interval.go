package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Interval is a recurrence step token as stored on records.
type Interval string

const (
	IntervalNone Interval = "none"
	Interval5m   Interval = "5m"
	Interval15m  Interval = "15m"
	Interval30m  Interval = "30m"
	Interval1h   Interval = "1h"
	Interval4h   Interval = "4h"
	Interval1D   Interval = "1D"
	Interval1W   Interval = "1W"
	Interval1M   Interval = "1M"
	Interval1Q   Interval = "1Q"
	Interval1Y   Interval = "1Y"
)

// StepUnit is the arithmetic used to advance an interval.
type StepUnit int

const (
	// StepNone never advances.
	StepNone StepUnit = iota
	// StepFixed advances by a fixed number of milliseconds.
	StepFixed
	// StepDay advances by local calendar days, keeping wall-clock time.
	StepDay
	// StepMonth advances by calendar months, clamping to the last valid day.
	StepMonth
)

// IntervalSpec is one row of the interval table.
type IntervalSpec struct {
	Interval      Interval
	Label         string
	Unit          StepUnit
	StepMs        int64 // StepFixed only
	Step          int   // days for StepDay, months for StepMonth
	PerDay        decimal.Decimal
	HighFrequency bool
}

const minuteMs = int64(60 * 1000)

func fraction(n, d int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(decimal.NewFromInt(d))
}

// intervalTable is the single source of truth for step arithmetic, the
// occurrences-per-day estimate and the high-frequency flag.
var intervalTable = map[Interval]IntervalSpec{
	IntervalNone: {Interval: IntervalNone, Label: "Does not repeat", Unit: StepNone, PerDay: decimal.NewFromInt(1)},
	Interval5m:   {Interval: Interval5m, Label: "Every 5 minutes", Unit: StepFixed, StepMs: 5 * minuteMs, PerDay: decimal.NewFromInt(288), HighFrequency: true},
	Interval15m:  {Interval: Interval15m, Label: "Every 15 minutes", Unit: StepFixed, StepMs: 15 * minuteMs, PerDay: decimal.NewFromInt(96), HighFrequency: true},
	Interval30m:  {Interval: Interval30m, Label: "Every 30 minutes", Unit: StepFixed, StepMs: 30 * minuteMs, PerDay: decimal.NewFromInt(48), HighFrequency: true},
	Interval1h:   {Interval: Interval1h, Label: "Every hour", Unit: StepFixed, StepMs: 60 * minuteMs, PerDay: decimal.NewFromInt(24)},
	Interval4h:   {Interval: Interval4h, Label: "Every 4 hours", Unit: StepFixed, StepMs: 240 * minuteMs, PerDay: decimal.NewFromInt(6)},
	Interval1D:   {Interval: Interval1D, Label: "Every day", Unit: StepDay, Step: 1, PerDay: decimal.NewFromInt(1)},
	Interval1W:   {Interval: Interval1W, Label: "Every week", Unit: StepDay, Step: 7, PerDay: fraction(1, 7)},
	Interval1M:   {Interval: Interval1M, Label: "Every month", Unit: StepMonth, Step: 1, PerDay: fraction(1, 30)},
	Interval1Q:   {Interval: Interval1Q, Label: "Every quarter", Unit: StepMonth, Step: 3, PerDay: fraction(1, 90)},
	Interval1Y:   {Interval: Interval1Y, Label: "Every year", Unit: StepMonth, Step: 12, PerDay: fraction(1, 365)},
}

// intervalOrder is the presentation order used by Intervals.
var intervalOrder = []Interval{
	IntervalNone, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h,
	Interval1D, Interval1W, Interval1M, Interval1Q, Interval1Y,
}

// LookupInterval returns the table row for an interval.
func LookupInterval(i Interval) (IntervalSpec, bool) {
	spec, ok := intervalTable[i]
	return spec, ok
}

// ParseInterval converts a stored token into an Interval. An empty token
// means no recurrence.
func ParseInterval(s string) (Interval, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return IntervalNone, true
	}
	if _, ok := intervalTable[Interval(s)]; ok {
		return Interval(s), true
	}
	return IntervalNone, false
}

// Intervals returns every table row in presentation order.
func Intervals() []IntervalSpec {
	out := make([]IntervalSpec, 0, len(intervalOrder))
	for _, i := range intervalOrder {
		out = append(out, intervalTable[i])
	}
	return out
}
