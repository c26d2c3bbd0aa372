/*
types.go - Core types for the reminder engine

PURPOSE:
  Defines the vocabulary shared by every other package: reminders, channel
  selections, recurrence definitions, persisted reminder records, expanded
  occurrences and fire-time triggers.

KEY CONCEPTS:
  ReminderRecord:  One persisted reminder configuration for one user and
                   one event (or one series of events)
  Reminder:        "N minutes before, on these channels"
  Recurrence:      Optional repeat rule anchored at the event's local time
  Occurrence:      One concrete instant produced by the expander
  Trigger:         One reminder firing for one occurrence

DOCUMENT KEY:
  Records are keyed per user by scope: series records use the series key,
  event records use the event key. Writing the same document key again
  merges into the existing record (CreatedAt is preserved).

SEE ALSO:
  - interval.go: Recurrence interval table
  - recurrence.go: Occurrence expansion
  - policy.go: Advisory caps and quiet hours
*/
package engine

import (
	"strconv"
	"time"
)

// UserID identifies the owner of reminder records and preferences.
type UserID string

// =============================================================================
// CHANNELS
// =============================================================================

// Channel is a delivery mechanism for a reminder.
type Channel string

const (
	ChannelInApp   Channel = "inApp"
	ChannelBrowser Channel = "browser"
	ChannelPush    Channel = "push"
)

// Channels is the set of delivery channels selected for a reminder.
type Channels struct {
	InApp   bool `json:"inApp"`
	Browser bool `json:"browser"`
	Push    bool `json:"push"`
}

// Count returns the number of active channels.
func (c Channels) Count() int {
	n := 0
	for _, on := range []bool{c.InApp, c.Browser, c.Push} {
		if on {
			n++
		}
	}
	return n
}

// Any reports whether at least one channel is active.
func (c Channels) Any() bool {
	return c.InApp || c.Browser || c.Push
}

// Union merges two channel selections.
func (c Channels) Union(o Channels) Channels {
	return Channels{
		InApp:   c.InApp || o.InApp,
		Browser: c.Browser || o.Browser,
		Push:    c.Push || o.Push,
	}
}

// List returns the active channels in a stable order.
func (c Channels) List() []Channel {
	var out []Channel
	if c.InApp {
		out = append(out, ChannelInApp)
	}
	if c.Browser {
		out = append(out, ChannelBrowser)
	}
	if c.Push {
		out = append(out, ChannelPush)
	}
	return out
}

// Reminder is a single "N minutes before" notification with its channels.
type Reminder struct {
	MinutesBefore int      `json:"minutesBefore"`
	Channels      Channels `json:"channels"`
}

// UnionChannels returns the union of channels across reminders.
func UnionChannels(reminders []Reminder) Channels {
	var out Channels
	for _, r := range reminders {
		out = out.Union(r.Channels)
	}
	return out
}

// =============================================================================
// RECURRENCE
// =============================================================================

// Scope selects whether a record covers one event or a whole series.
type Scope string

const (
	ScopeEvent  Scope = "event"
	ScopeSeries Scope = "series"
)

// EndsType describes how a recurrence terminates.
type EndsType string

const (
	EndsNever  EndsType = "never"
	EndsOnDate EndsType = "onDate"
	EndsAfter  EndsType = "after"
)

// Ends is the termination rule of a recurrence.
type Ends struct {
	Type           EndsType `json:"type"`
	UntilLocalDate string   `json:"untilLocalDate,omitempty"` // YYYY-MM-DD in the record's timezone
	Count          int      `json:"count,omitempty"`
}

// RecurrenceDefinition is the repeat rule attached to a record.
type RecurrenceDefinition struct {
	Enabled  bool     `json:"enabled"`
	Interval Interval `json:"interval"`
	Ends     Ends     `json:"ends"`
}

// Canonical returns the definition with unknown or inconsistent values
// folded to their safe equivalents: an unknown or "none" interval disables
// recurrence, and a malformed termination rule becomes "never".
func (r RecurrenceDefinition) Canonical() RecurrenceDefinition {
	out := r
	if _, ok := LookupInterval(out.Interval); !ok || out.Interval == IntervalNone {
		out.Interval = IntervalNone
	}
	if out.Interval == IntervalNone {
		out.Enabled = false
	}
	if !out.Enabled {
		return RecurrenceDefinition{Interval: IntervalNone, Ends: Ends{Type: EndsNever}}
	}

	switch out.Ends.Type {
	case EndsAfter:
		if out.Ends.Count <= 0 {
			out.Ends = Ends{Type: EndsNever}
		} else {
			out.Ends = Ends{Type: EndsAfter, Count: out.Ends.Count}
		}
	case EndsOnDate:
		if _, err := time.Parse(DateLayout, out.Ends.UntilLocalDate); err != nil {
			out.Ends = Ends{Type: EndsNever}
		} else {
			out.Ends = Ends{Type: EndsOnDate, UntilLocalDate: out.Ends.UntilLocalDate}
		}
	default:
		out.Ends = Ends{Type: EndsNever}
	}
	return out
}

// IsRecurring reports whether the definition produces more than the anchor.
func (r RecurrenceDefinition) IsRecurring() bool {
	return r.Canonical().Enabled
}

// =============================================================================
// RECORDS
// =============================================================================

const (
	// DateLayout is the wire format for local calendar dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the wire format for local wall-clock times.
	ClockLayout = "15:04"
)

// Metadata carries display fields and the recurrence rule of a record.
type Metadata struct {
	Title         string               `json:"title,omitempty"`
	Description   string               `json:"description,omitempty"`
	Color         string               `json:"color,omitempty"`
	Icon          string               `json:"icon,omitempty"`
	Source        string               `json:"source,omitempty"`
	Currency      string               `json:"currency,omitempty"`
	Impact        string               `json:"impact,omitempty"`
	Category      string               `json:"category,omitempty"`
	IsCustom      bool                 `json:"isCustom,omitempty"`
	CustomEventID string               `json:"customEventId,omitempty"`
	LocalDate     string               `json:"localDate,omitempty"`
	LocalTime     string               `json:"localTime,omitempty"`
	Recurrence    RecurrenceDefinition `json:"recurrence"`
}

// ReminderRecord is one persisted reminder configuration.
type ReminderRecord struct {
	UserID       UserID     `json:"userId"`
	EventKey     string     `json:"eventKey"`
	SeriesKey    string     `json:"seriesKey"`
	Scope        Scope      `json:"scope"`
	EventEpochMs *int64     `json:"eventEpochMs,omitempty"`
	Timezone     string     `json:"timezone"`
	Reminders    []Reminder `json:"reminders"`
	Channels     Channels   `json:"channels"`
	Enabled      bool       `json:"enabled"`
	Metadata     Metadata   `json:"metadata"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// DocumentKey is the per-user storage key for the record.
func (r ReminderRecord) DocumentKey() string {
	if r.Scope == ScopeSeries && r.SeriesKey != "" {
		return r.SeriesKey
	}
	return r.EventKey
}

// Validate checks the fields every store relies on.
func (r ReminderRecord) Validate() error {
	if r.UserID == "" {
		return &InvalidFieldError{Field: "userId", Reason: "required"}
	}
	if r.EventKey == "" {
		return &InvalidFieldError{Field: "eventKey", Reason: "required"}
	}
	if r.Scope != ScopeEvent && r.Scope != ScopeSeries {
		return &InvalidFieldError{Field: "scope", Reason: "must be event or series"}
	}
	if r.Scope == ScopeSeries && r.SeriesKey == "" {
		return &InvalidFieldError{Field: "seriesKey", Reason: "required for series scope"}
	}
	return nil
}

// =============================================================================
// EXPANSION OUTPUT
// =============================================================================

// Occurrence is one concrete instant of a record.
type Occurrence struct {
	EpochMs int64  `json:"epochMs"`
	Key     string `json:"key"`
}

// Time returns the occurrence as a UTC time.
func (o Occurrence) Time() time.Time {
	return time.UnixMilli(o.EpochMs).UTC()
}

// Trigger is one reminder firing for one occurrence.
type Trigger struct {
	OccurrenceKey     string   `json:"occurrenceKey"`
	OccurrenceEpochMs int64    `json:"occurrenceEpochMs"`
	FireAtMs          int64    `json:"fireAtMs"`
	MinutesBefore     int      `json:"minutesBefore"`
	Channels          Channels `json:"channels"`
}

// Key uniquely identifies the trigger within a record.
func (t Trigger) Key() string {
	return t.OccurrenceKey + "#" + strconv.Itoa(t.MinutesBefore)
}
