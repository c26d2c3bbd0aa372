/*
recurrence.go - Occurrence expansion for reminder records

PURPOSE:
  Turns one stored record into the concrete instants that fall inside a
  query window. Nothing per-occurrence is ever persisted; occurrence keys
  are reconstructible from the event key and the instant.

STEPPING BY UNIT:
  Fixed (5m..4h):  anchor + k*step in absolute time. The first k at or after
                   the window start is computed directly.
  Day (1D, 1W):    Local calendar days at the anchor's wall-clock time, so a
                   DST change keeps 09:30 at 09:30. Delegated to rrule-go
                   (DAILY/WEEKLY with the anchor as DTSTART in the record's
                   zone).
  Month (1M..1Y):  Whole months from the anchor's local date, clamping the
                   day to the end of shorter months (Jan 31 -> Feb 28 ->
                   Mar 31). rrule skips invalid dates instead of clamping,
                   so this one is done by hand.

ENDS:
  onDate: nothing strictly after the local end of the until date.
  after:  the logical index from the anchor must be below Count,
          wherever the query window starts.

FAILURE:
  Missing anchor, unknown zone or an unparseable local date all produce an
  empty result. "Cannot schedule" is the same as "nothing scheduled".

SEE ALSO:
  - interval.go: Step sizes for each interval
  - policy.go: Daily trigger estimates from the same table
*/
package engine

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences bounds a single expansion call.
const DefaultMaxOccurrences = 5000

// Expand returns the occurrences of rec inside [rangeStartMs, rangeEndMs],
// ordered by time. maxOccurrences <= 0 selects DefaultMaxOccurrences.
func Expand(rec ReminderRecord, rangeStartMs, rangeEndMs int64, maxOccurrences int) []Occurrence {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	if rec.EventEpochMs == nil || rangeEndMs < rangeStartMs {
		return nil
	}
	anchorMs := *rec.EventEpochMs

	recur := rec.Metadata.Recurrence.Canonical()
	if !recur.Enabled {
		if anchorMs >= rangeStartMs && anchorMs <= rangeEndMs {
			return []Occurrence{{EpochMs: anchorMs, Key: rec.EventKey}}
		}
		return nil
	}

	spec, ok := LookupInterval(recur.Interval)
	if !ok {
		return nil
	}
	loc, err := LoadLocation(rec.Timezone)
	if err != nil {
		return nil
	}
	anchor, ok := localAnchor(rec, loc)
	if !ok {
		return nil
	}

	w := window{start: rangeStartMs, end: rangeEndMs, limit: maxOccurrences, count: -1}
	if recur.Ends.Type == EndsAfter {
		w.count = recur.Ends.Count
	}
	if recur.Ends.Type == EndsOnDate {
		until, ok := EndOfLocalDay(recur.Ends.UntilLocalDate, loc)
		if !ok {
			return nil
		}
		w.until = until
		if u := until.UnixMilli(); u < w.end {
			w.end = u
		}
	}
	if w.end < w.start {
		return nil
	}

	var instants []int64
	switch spec.Unit {
	case StepFixed:
		instants = expandFixed(anchorMs, spec.StepMs, w)
	case StepDay:
		instants = expandDays(anchor, spec.Step, w)
	case StepMonth:
		instants = expandMonths(anchor, spec.Step, w)
	}

	out := make([]Occurrence, 0, len(instants))
	for _, ms := range instants {
		out = append(out, Occurrence{EpochMs: ms, Key: OccurrenceKey(rec.EventKey, ms)})
	}
	return out
}

// window is a query range with its termination rules applied.
type window struct {
	start, end int64
	until      time.Time // zero unless ends on a date
	count      int       // logical occurrence limit, -1 for none
	limit      int       // result cap
}

// localAnchor places the record's anchor on the local wall clock. Stored
// local date/time fields win over the epoch so the wall-clock time the user
// picked is what gets repeated. When they agree with the epoch the exact
// instant is kept, so the first occurrence equals EventEpochMs on every
// stepping path.
func localAnchor(rec ReminderRecord, loc *time.Location) (time.Time, bool) {
	exact := time.UnixMilli(*rec.EventEpochMs).In(loc)
	md := rec.Metadata
	if md.LocalDate == "" {
		return exact, true
	}
	date, clock := LocalDateAndClock(*rec.EventEpochMs, loc)
	if md.LocalDate == date && (md.LocalTime == "" || md.LocalTime == clock) {
		return exact, true
	}
	if md.LocalTime != "" {
		clock = md.LocalTime
	}
	return ParseLocalDateTime(md.LocalDate, clock, loc)
}

func expandFixed(anchorMs, stepMs int64, w window) []int64 {
	if stepMs <= 0 {
		return nil
	}
	var k int64
	if w.start > anchorMs {
		k = (w.start - anchorMs + stepMs - 1) / stepMs
	}

	var out []int64
	for ; len(out) < w.limit; k++ {
		if w.count >= 0 && k >= int64(w.count) {
			break
		}
		ms := anchorMs + k*stepMs
		if ms > w.end {
			break
		}
		out = append(out, ms)
	}
	return out
}

func expandDays(anchor time.Time, days int, w window) []int64 {
	// rrule works in whole seconds; the remainder is added back afterwards.
	frac := anchor.Sub(anchor.Truncate(time.Second))
	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: days,
		Dtstart:  anchor.Add(-frac),
	}
	if days%7 == 0 {
		opt.Freq = rrule.WEEKLY
		opt.Interval = days / 7
	}
	if w.count >= 0 {
		opt.Count = w.count
	}
	if !w.until.IsZero() {
		opt.Until = w.until.Add(-frac)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil
	}

	loc := anchor.Location()
	times := r.Between(time.UnixMilli(w.start).Add(-frac).In(loc), time.UnixMilli(w.end).Add(-frac).In(loc), true)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	if len(times) > w.limit {
		times = times[:w.limit]
	}

	out := make([]int64, 0, len(times))
	for _, t := range times {
		out = append(out, t.Add(frac).UnixMilli())
	}
	return out
}

func expandMonths(anchor time.Time, months int, w window) []int64 {
	if months <= 0 {
		return nil
	}

	// Jump close to the window start instead of walking from the anchor.
	k := 0
	startLocal := time.UnixMilli(w.start).In(anchor.Location())
	if startLocal.After(anchor) {
		elapsed := (startLocal.Year()-anchor.Year())*12 + int(startLocal.Month()-anchor.Month())
		k = elapsed/months - 1
		if k < 0 {
			k = 0
		}
	}

	var out []int64
	for ; len(out) < w.limit; k++ {
		if w.count >= 0 && k >= w.count {
			break
		}
		ms := addMonthsClamped(anchor, k*months).UnixMilli()
		if ms > w.end {
			break
		}
		if ms >= w.start {
			out = append(out, ms)
		}
	}
	return out
}

// Triggers pairs every occurrence with every reminder that has a channel,
// ordered by fire time.
func Triggers(rec ReminderRecord, occurrences []Occurrence) []Trigger {
	var out []Trigger
	for _, occ := range occurrences {
		for _, r := range rec.Reminders {
			if !r.Channels.Any() {
				continue
			}
			out = append(out, Trigger{
				OccurrenceKey:     occ.Key,
				OccurrenceEpochMs: occ.EpochMs,
				FireAtMs:          occ.EpochMs - int64(r.MinutesBefore)*minuteMs,
				MinutesBefore:     r.MinutesBefore,
				Channels:          r.Channels,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAtMs < out[j].FireAtMs })
	return out
}
