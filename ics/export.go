/*
export.go - iCalendar feed of upcoming reminders

PURPOSE:
  Renders a user's enabled reminder records as an iCalendar document so the
  schedule can be subscribed to from any calendar client.

DESIGN:
  - Recurring records are expanded with engine.Expand over [from, to]; the
    feed carries concrete occurrences, never RRULEs, so clients see exactly
    what the dispatcher will fire
  - One VEVENT per occurrence, UID derived from the occurrence key
  - One VALARM (DISPLAY) per reminder offset, TRIGGER -PT{n}M
  - Output is ordered by occurrence time, then document key

SEE ALSO:
  - engine/recurrence.go: Expand
  - api/handlers.go: GET /api/users/{uid}/reminders.ics
*/
package ics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/marketclock/reminder-engine/engine"
)

const (
	// DefaultProductID identifies the generator in PRODID.
	DefaultProductID = "-//marketclock//reminder-engine//EN"
	// DefaultMaxPerRecord bounds the occurrences exported per record.
	DefaultMaxPerRecord = 500
	// uidDomain is appended to occurrence keys to form globally unique UIDs.
	uidDomain = "reminders.marketclock"
)

// Options tunes a feed. Zero values take the defaults.
type Options struct {
	Name         string
	ProductID    string
	Timezone     string
	MaxPerRecord int
	// Duration is the length of each VEVENT. Zero emits instant events.
	Duration time.Duration
}

// entry is one occurrence of one record, ready to render.
type entry struct {
	rec engine.ReminderRecord
	occ engine.Occurrence
}

// Build expands records over [from, to] and returns the calendar.
func Build(records []engine.ReminderRecord, from, to time.Time, opts Options) *ical.Calendar {
	if opts.ProductID == "" {
		opts.ProductID = DefaultProductID
	}
	if opts.MaxPerRecord <= 0 {
		opts.MaxPerRecord = DefaultMaxPerRecord
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}

	var entries []entry
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		for _, occ := range engine.Expand(rec, from.UnixMilli(), to.UnixMilli(), opts.MaxPerRecord) {
			entries = append(entries, entry{rec: rec, occ: occ})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].occ.EpochMs != entries[j].occ.EpochMs {
			return entries[i].occ.EpochMs < entries[j].occ.EpochMs
		}
		return entries[i].rec.DocumentKey() < entries[j].rec.DocumentKey()
	})

	for _, e := range entries {
		addEvent(cal, e, from, opts)
	}
	return cal
}

// Write renders the feed to w.
func Write(w io.Writer, records []engine.ReminderRecord, from, to time.Time, opts Options) error {
	if err := Build(records, from, to, opts).SerializeTo(w); err != nil {
		return fmt.Errorf("failed to serialize calendar: %w", err)
	}
	return nil
}

// UID returns the VEVENT UID for an occurrence key.
func UID(occurrenceKey string) string {
	return occurrenceKey + "@" + uidDomain
}

func addEvent(cal *ical.Calendar, e entry, stamp time.Time, opts Options) {
	start := e.occ.Time().UTC()
	title := summary(e.rec)

	ev := cal.AddEvent(UID(e.occ.Key))
	if !e.rec.UpdatedAt.IsZero() {
		stamp = e.rec.UpdatedAt
	}
	ev.SetDtStampTime(stamp.UTC())
	ev.SetStartAt(start)
	if opts.Duration > 0 {
		ev.SetEndAt(start.Add(opts.Duration))
	}
	ev.SetSummary(title)
	if d := e.rec.Metadata.Description; d != "" {
		ev.SetDescription(d)
	}
	for _, c := range categories(e.rec.Metadata) {
		ev.AddCategory(c)
	}

	for _, r := range e.rec.Reminders {
		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", r.MinutesBefore))
		alarm.SetProperty(ical.ComponentPropertyDescription, alarmText(title, r.MinutesBefore))
	}
}

func summary(rec engine.ReminderRecord) string {
	if t := strings.TrimSpace(rec.Metadata.Title); t != "" {
		return t
	}
	return rec.EventKey
}

func categories(m engine.Metadata) []string {
	var out []string
	for _, c := range []string{m.Source, m.Impact, m.Category, m.Currency} {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func alarmText(title string, minutes int) string {
	if minutes == 0 {
		return title + " now"
	}
	return fmt.Sprintf("%s in %d min", title, minutes)
}
