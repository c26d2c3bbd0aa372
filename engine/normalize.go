package engine

import (
	"math"
	"sort"
)

// MaxRemindersPerEvent is the hard limit on reminders kept per record.
const MaxRemindersPerEvent = 3

// MaxMinutesBefore is the largest accepted reminder offset. Larger values
// are dropped so offsets always fit an int and trigger times cannot overflow.
const MaxMinutesBefore = math.MaxInt32

// RawReminder is a reminder as it arrives from a client, before validation.
// A nil MinutesBefore means the client sent no usable number.
type RawReminder struct {
	MinutesBefore *float64
	Channels      Channels
}

// CleanReminders drops entries without a finite minute count in
// [0, MaxMinutesBefore], floors fractional minutes and sorts ascending by
// minutes (stable, so equal minute counts keep their input order). Nothing
// is truncated.
func CleanReminders(raw []RawReminder) []Reminder {
	out := make([]Reminder, 0, len(raw))
	for _, r := range raw {
		if r.MinutesBefore == nil {
			continue
		}
		m := *r.MinutesBefore
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 || m > MaxMinutesBefore {
			continue
		}
		out = append(out, Reminder{
			MinutesBefore: int(math.Floor(m)),
			Channels:      r.Channels,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinutesBefore < out[j].MinutesBefore
	})
	return out
}

// NormalizeReminders cleans raw reminders and keeps at most
// MaxRemindersPerEvent of them.
func NormalizeReminders(raw []RawReminder) []Reminder {
	out := CleanReminders(raw)
	if len(out) > MaxRemindersPerEvent {
		out = out[:MaxRemindersPerEvent]
	}
	return out
}

// Renormalize applies the same rules to already-typed reminders, used when
// a stored record is edited.
func Renormalize(reminders []Reminder) []Reminder {
	raw := make([]RawReminder, 0, len(reminders))
	for _, r := range reminders {
		m := float64(r.MinutesBefore)
		raw = append(raw, RawReminder{MinutesBefore: &m, Channels: r.Channels})
	}
	return NormalizeReminders(raw)
}

// Normalized returns a copy of the record with reminders re-normalized, the
// channel union recomputed and the recurrence canonicalized.
func (r ReminderRecord) Normalized() ReminderRecord {
	out := r
	out.Reminders = Renormalize(r.Reminders)
	out.Channels = UnionChannels(out.Reminders)
	out.Metadata.Recurrence = r.Metadata.Recurrence.Canonical()
	return out
}
