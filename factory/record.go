/*
Package factory converts reminder dialog payloads into reminder records.

PURPOSE:
  The reminder dialog posts a loosely typed JSON document: minute counts
  may arrive as numbers or strings, the event may come from any calendar
  source, and custom events are described in local wall-clock terms. The
  factory turns that document into a normalized engine.ReminderRecord plus
  the advisory policy warnings to show next to the save button.

JSON SCHEMA:
  {
    "scope": "event",                     // or "series"
    "timezone": "America/New_York",
    "enabled": true,
    "source": "calendar",
    "event": {                            // any calendar event shape
      "eventId": "nfp-2025-01",
      "name": "Non-Farm Payrolls",
      "currency": "USD",
      "time": "2025-01-10T13:30:00Z",
      "impact": "high",
      "category": "employment"
    },
    "custom": {                           // instead of "event"
      "id": "3f6c...", "title": "Desk review",
      "localDate": "2025-01-10", "localTime": "08:00"
    },
    "reminders": [
      {"minutesBefore": 15, "channels": {"inApp": true, "push": true}},
      {"minutesBefore": "60", "channels": {"browser": true}}
    ],
    "recurrence": {"enabled": true, "interval": "1W",
                   "ends": {"type": "after", "count": 10}}
  }

PIPELINE:
  1. Coerce reminders (number or numeric string) and normalize them
  2. Validate the timezone
  3. Resolve the event identity and its nominal instant
  4. Build the event and series keys
  5. Evaluate policy warnings against the untruncated reminder list

USAGE:
  f := factory.NewRecordFactory(engine.DefaultPolicy(), "UTC")
  res, err := f.ParseDialog("user-1", body)
  if err != nil { ... }
  store.Put(ctx, res.Record)

SEE ALSO:
  - engine/normalize.go: Reminder normalization rules
  - engine/keys.go: Key construction
  - calendar/presets.go: Preset dialog payloads
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketclock/reminder-engine/engine"
)

const (
	defaultEventSource  = "calendar"
	defaultCustomSource = "custom"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DialogPayload is the JSON document posted by the reminder dialog.
type DialogPayload struct {
	Scope       string           `json:"scope,omitempty"`
	Timezone    string           `json:"timezone,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"` // Default true
	Source      string           `json:"source,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Color       string           `json:"color,omitempty"`
	Icon        string           `json:"icon,omitempty"`
	Event       map[string]any   `json:"event,omitempty"`
	Custom      *CustomEventJSON `json:"custom,omitempty"`
	Reminders   []ReminderJSON   `json:"reminders"`
	Recurrence  *RecurrenceJSON  `json:"recurrence,omitempty"`
}

// CustomEventJSON describes a user-created event in local terms.
type CustomEventJSON struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Icon        string `json:"icon,omitempty"`
	LocalDate   string `json:"localDate"`
	LocalTime   string `json:"localTime,omitempty"`
}

// ReminderJSON is one reminder row. MinutesBefore may be a number or a
// numeric string.
type ReminderJSON struct {
	MinutesBefore json.RawMessage `json:"minutesBefore"`
	Channels      engine.Channels `json:"channels"`
}

// RecurrenceJSON is the dialog's repeat section.
type RecurrenceJSON struct {
	Enabled  bool     `json:"enabled"`
	Interval string   `json:"interval"`
	Ends     EndsJSON `json:"ends"`
}

// EndsJSON is the termination rule. Count may be a number or a numeric string.
type EndsJSON struct {
	Type           string          `json:"type"`
	UntilLocalDate string          `json:"untilLocalDate,omitempty"`
	Count          json.RawMessage `json:"count,omitempty"`
}

// BuildResult is what the dialog needs after a save.
type BuildResult struct {
	Record   engine.ReminderRecord `json:"record"`
	Identity engine.EventIdentity  `json:"identity"`
	Resolved bool                  `json:"resolved"`
	Warnings []string              `json:"warnings"`
}

// =============================================================================
// RECORD FACTORY
// =============================================================================

// RecordFactory converts dialog payloads into records.
type RecordFactory struct {
	policy          engine.Policy
	defaultTimezone string
}

// NewRecordFactory creates a factory. defaultTimezone applies when the
// payload carries none.
func NewRecordFactory(policy engine.Policy, defaultTimezone string) *RecordFactory {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &RecordFactory{policy: policy, defaultTimezone: defaultTimezone}
}

// Policy returns the policy used for warnings.
func (f *RecordFactory) Policy() engine.Policy {
	return f.policy
}

// ParseDialog decodes a JSON payload and builds the record.
func (f *RecordFactory) ParseDialog(user engine.UserID, data []byte) (*BuildResult, error) {
	var p DialogPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &engine.InvalidFieldError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return f.Build(user, p)
}

// Build converts a decoded payload into a normalized record.
func (f *RecordFactory) Build(user engine.UserID, p DialogPayload) (*BuildResult, error) {
	if user == "" {
		return nil, &engine.InvalidFieldError{Field: "userId", Reason: "required"}
	}

	scope, err := parseScope(p.Scope)
	if err != nil {
		return nil, err
	}

	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = f.defaultTimezone
	}
	loc, err := engine.LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	cleaned := engine.CleanReminders(coerceReminders(p.Reminders))
	reminders := engine.Renormalize(cleaned)
	recurrence := p.Recurrence.definition()

	src, meta, epoch, err := f.describeEvent(p, tz, loc)
	if err != nil {
		return nil, err
	}

	identity, resolved := engine.Resolve(src)
	if !resolved && epoch == nil && strings.TrimSpace(meta.Title) == "" {
		return nil, engine.ErrUnresolvableIdentity
	}

	source := firstNonEmpty(p.Source, stringField(p.Event, "source"))
	if source == "" {
		source = defaultEventSource
		if p.Custom != nil {
			source = defaultCustomSource
		}
	}
	meta.Source = source
	meta.Recurrence = recurrence

	eventKey := engine.BuildEventKey(identity, source, epoch, meta.Title)
	seriesKey := engine.BuildSeriesKey(identity, source, meta.Currency, meta.Impact, meta.Category)

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	rec := engine.ReminderRecord{
		UserID:       user,
		EventKey:     eventKey,
		SeriesKey:    seriesKey,
		Scope:        scope,
		EventEpochMs: epoch,
		Timezone:     tz,
		Reminders:    reminders,
		Enabled:      enabled,
		Metadata:     meta,
	}.Normalized()

	return &BuildResult{
		Record:   rec,
		Identity: identity,
		Resolved: resolved,
		Warnings: f.policy.Evaluate(cleaned, recurrence),
	}, nil
}

// PolicyEvaluation is the dialog's live preview of a configuration.
type PolicyEvaluation struct {
	Reminders              []engine.Reminder           `json:"reminders"`
	Recurrence             engine.RecurrenceDefinition `json:"recurrence"`
	OccurrencesPerDay      decimal.Decimal             `json:"occurrencesPerDay"`
	EstimatedDailyTriggers decimal.Decimal             `json:"estimatedDailyTriggers"`
	Warnings               []string                    `json:"warnings"`
}

// Evaluate previews the policy outcome of reminder rows and a repeat
// section without building a record. Reminders are the rows that would be
// kept; the estimate and warnings use every valid row.
func (f *RecordFactory) Evaluate(rows []ReminderJSON, recurrence *RecurrenceJSON) PolicyEvaluation {
	cleaned := engine.CleanReminders(coerceReminders(rows))
	def := recurrence.definition()
	warnings := f.policy.Evaluate(cleaned, def)
	if warnings == nil {
		warnings = []string{}
	}
	return PolicyEvaluation{
		Reminders:              engine.Renormalize(cleaned),
		Recurrence:             def,
		OccurrencesPerDay:      engine.OccurrencesPerDay(def),
		EstimatedDailyTriggers: engine.EstimateDailyTriggers(cleaned, def),
		Warnings:               warnings,
	}
}

// describeEvent picks the identity source and fills the display metadata
// and anchor for either a calendar event or a custom event.
func (f *RecordFactory) describeEvent(p DialogPayload, tz string, loc *time.Location) (engine.EventSource, engine.Metadata, *int64, error) {
	if c := p.Custom; c != nil {
		if _, err := time.Parse(engine.DateLayout, c.LocalDate); err != nil {
			return nil, engine.Metadata{}, nil, &engine.InvalidFieldError{Field: "custom.localDate", Reason: "must be YYYY-MM-DD"}
		}
		at, ok := engine.ParseLocalDateTime(c.LocalDate, c.LocalTime, loc)
		if !ok {
			return nil, engine.Metadata{}, nil, &engine.InvalidFieldError{Field: "custom.localTime", Reason: "must be HH:MM"}
		}
		ms := at.UnixMilli()
		meta := engine.Metadata{
			Title:         firstNonEmpty(c.Title, p.Title),
			Description:   firstNonEmpty(c.Description, p.Description),
			Color:         firstNonEmpty(c.Color, p.Color),
			Icon:          firstNonEmpty(c.Icon, p.Icon),
			IsCustom:      true,
			CustomEventID: c.ID,
			LocalDate:     c.LocalDate,
			LocalTime:     c.LocalTime,
		}
		src := engine.UserEvent{ID: c.ID, Title: meta.Title, LocalDate: c.LocalDate, LocalTime: c.LocalTime, Timezone: tz}
		return src, meta, &ms, nil
	}

	raw := engine.RawEvent(p.Event)
	meta := engine.Metadata{
		Title:       firstNonEmpty(p.Title, stringField(p.Event, "name"), stringField(p.Event, "title")),
		Description: p.Description,
		Color:       p.Color,
		Icon:        p.Icon,
		Currency:    stringField(p.Event, "currency"),
		Impact:      stringField(p.Event, "impact"),
		Category:    stringField(p.Event, "category"),
	}

	var epoch *int64
	if at, ok := engine.NominalTime(raw); ok {
		ms := at.UnixMilli()
		epoch = &ms
		meta.LocalDate, meta.LocalTime = engine.LocalDateAndClock(ms, loc)
	}
	return raw, meta, epoch, nil
}

func parseScope(s string) (engine.Scope, error) {
	switch engine.Scope(strings.TrimSpace(s)) {
	case "", engine.ScopeEvent:
		return engine.ScopeEvent, nil
	case engine.ScopeSeries:
		return engine.ScopeSeries, nil
	default:
		return "", &engine.InvalidFieldError{Field: "scope", Reason: "must be event or series"}
	}
}

// =============================================================================
// COERCION
// =============================================================================

func coerceReminders(rows []ReminderJSON) []engine.RawReminder {
	out := make([]engine.RawReminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.RawReminder{
			MinutesBefore: coerceNumber(r.MinutesBefore),
			Channels:      r.Channels,
		})
	}
	return out
}

// coerceNumber accepts a JSON number or a numeric string. Anything else,
// including null, yields nil.
func coerceNumber(raw json.RawMessage) *float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return nil
	}
	return &f
}

func (r *RecurrenceJSON) definition() engine.RecurrenceDefinition {
	if r == nil {
		return engine.RecurrenceDefinition{Interval: engine.IntervalNone, Ends: engine.Ends{Type: engine.EndsNever}}
	}
	interval, ok := engine.ParseInterval(r.Interval)
	if !ok {
		interval = engine.IntervalNone
	}
	count := 0
	if n := coerceNumber(r.Ends.Count); n != nil && !math.IsInf(*n, 0) {
		count = int(math.Floor(*n))
	}
	return engine.RecurrenceDefinition{
		Enabled:  r.Enabled,
		Interval: interval,
		Ends: engine.Ends{
			Type:           engine.EndsType(r.Ends.Type),
			UntilLocalDate: strings.TrimSpace(r.Ends.UntilLocalDate),
			Count:          count,
		},
	}.Canonical()
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
