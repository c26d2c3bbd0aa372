/*
identity.go - Event identity resolution

PURPOSE:
  Economic calendar events arrive in several shapes (canonical catalog
  entries, live feed rows, legacy stored rows, user-created events and
  loosely typed JSON). Resolve reduces any of them to one EventIdentity so
  that the same real-world release can be matched across shapes.

KEY CONCEPTS:
  Accessors:     Each attribute (id, name, currency, time) has an ordered
                 list of accessor functions. The first one that yields a
                 populated value wins, so the lookup order is explicit data.
  Original time: When an event was rescheduled, its original time is
                 preferred for the date bucket so a reschedule keeps its
                 identity.
  Fail closed:   SameEvent only matches when both sides resolved a name and
                 a date. Missing data never produces a match.

NORMALIZATION:
  Names and currencies are trimmed, lowercased and inner whitespace is
  collapsed. Absent currency renders as "n/a" so identities with and
  without a currency never collide.

SEE ALSO:
  - keys.go: Builds event and series keys from an EventIdentity
*/
package engine

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// NotApplicable renders an absent key part.
const NotApplicable = "n/a"

// EventIdentity is the normalized identity of a calendar event.
type EventIdentity struct {
	EventID        string   `json:"eventId,omitempty"`
	PrimaryNameKey string   `json:"primaryNameKey,omitempty"`
	NameKeys       []string `json:"nameKeys,omitempty"`
	CurrencyKey    string   `json:"currencyKey"`
	DateKey        string   `json:"dateKey,omitempty"`
}

// Resolved reports whether the identity carries a name to join on.
func (id EventIdentity) Resolved() bool {
	return id.PrimaryNameKey != ""
}

// =============================================================================
// EVENT SHAPES - Closed set of inputs accepted by Resolve
// =============================================================================

// EventSource is one of the event shapes accepted by Resolve.
type EventSource interface {
	eventSource()
}

// CanonicalEvent is an entry from the curated event catalog.
type CanonicalEvent struct {
	ID              string
	CanonicalName   string
	Aliases         []string
	Currency        string
	EpochMs         *int64
	OriginalEpochMs *int64
}

// FeedEvent is a row from the live calendar feed.
type FeedEvent struct {
	ID           string
	Name         string
	Currency     string
	Date         time.Time
	OriginalDate time.Time
}

// LegacyEvent is a stored row from before the catalog existed. Times are
// RFC 3339 timestamps or bare YYYY-MM-DD dates.
type LegacyEvent struct {
	ID           string
	Name         string
	Currency     string
	Time         string
	Date         string
	OriginalTime string
}

// UserEvent is a user-created event expressed in local wall-clock terms.
type UserEvent struct {
	ID        string
	Title     string
	LocalDate string
	LocalTime string
	Timezone  string
}

// RawEvent is a loosely typed JSON object. Keys are tried in a fixed order.
type RawEvent map[string]any

func (CanonicalEvent) eventSource() {}
func (FeedEvent) eventSource()      {}
func (LegacyEvent) eventSource()    {}
func (UserEvent) eventSource()      {}
func (RawEvent) eventSource()       {}

// =============================================================================
// ACCESSOR TABLES
// =============================================================================

type stringAccessor func(EventSource) string
type timeAccessor func(EventSource) (time.Time, bool)

var rawIDKeys = []string{"eventId", "id", "ID", "_id"}
var rawNameKeys = []string{"name", "Name", "canonicalName", "title", "Title"}
var rawCurrencyKeys = []string{"currency", "Currency"}
var rawOriginalTimeKeys = []string{"originalTime", "originalEpochMs", "originalDate"}
var rawTimeKeys = []string{"time", "date", "epochMs", "Date", "eventEpochMs"}

var idAccessors = []stringAccessor{
	func(s EventSource) string { e, _ := s.(CanonicalEvent); return e.ID },
	func(s EventSource) string { e, _ := s.(FeedEvent); return e.ID },
	func(s EventSource) string { e, _ := s.(LegacyEvent); return e.ID },
	func(s EventSource) string { e, _ := s.(UserEvent); return e.ID },
	rawString(rawIDKeys...),
}

var nameAccessors = []stringAccessor{
	func(s EventSource) string { e, _ := s.(CanonicalEvent); return e.CanonicalName },
	func(s EventSource) string { e, _ := s.(FeedEvent); return e.Name },
	func(s EventSource) string { e, _ := s.(LegacyEvent); return e.Name },
	func(s EventSource) string { e, _ := s.(UserEvent); return e.Title },
	rawString(rawNameKeys...),
}

var currencyAccessors = []stringAccessor{
	func(s EventSource) string { e, _ := s.(CanonicalEvent); return e.Currency },
	func(s EventSource) string { e, _ := s.(FeedEvent); return e.Currency },
	func(s EventSource) string { e, _ := s.(LegacyEvent); return e.Currency },
	rawString(rawCurrencyKeys...),
}

var originalTimeAccessors = []timeAccessor{
	func(s EventSource) (time.Time, bool) { e, _ := s.(CanonicalEvent); return epochPtr(e.OriginalEpochMs) },
	func(s EventSource) (time.Time, bool) { e, _ := s.(FeedEvent); return e.OriginalDate, !e.OriginalDate.IsZero() },
	func(s EventSource) (time.Time, bool) { e, _ := s.(LegacyEvent); return parseTimeString(e.OriginalTime) },
	rawTime(rawOriginalTimeKeys...),
}

var nominalTimeAccessors = []timeAccessor{
	func(s EventSource) (time.Time, bool) { e, _ := s.(CanonicalEvent); return epochPtr(e.EpochMs) },
	func(s EventSource) (time.Time, bool) { e, _ := s.(FeedEvent); return e.Date, !e.Date.IsZero() },
	func(s EventSource) (time.Time, bool) {
		e, _ := s.(LegacyEvent)
		if t, ok := parseTimeString(e.Time); ok {
			return t, true
		}
		return parseTimeString(e.Date)
	},
	func(s EventSource) (time.Time, bool) {
		e, ok := s.(UserEvent)
		if !ok {
			return time.Time{}, false
		}
		return ParseLocalDateTime(e.LocalDate, e.LocalTime, LocationOrUTC(e.Timezone))
	},
	rawTime(rawTimeKeys...),
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve derives the identity of an event. The boolean is false when no
// name could be found; the returned identity is then degenerate and must not
// be used as a join key.
func Resolve(src EventSource) (EventIdentity, bool) {
	if src == nil {
		return EventIdentity{CurrencyKey: NotApplicable}, false
	}

	id := EventIdentity{
		EventID:     strings.TrimSpace(firstString(src, idAccessors)),
		CurrencyKey: NotApplicable,
	}

	id.NameKeys = nameKeys(src)
	if len(id.NameKeys) > 0 {
		id.PrimaryNameKey = id.NameKeys[0]
	}

	if c := NormalizeKey(firstString(src, currencyAccessors)); c != "" {
		id.CurrencyKey = c
	}

	if t, ok := firstTime(src, originalTimeAccessors); ok {
		id.DateKey = UTCDateKey(t)
	} else if t, ok := firstTime(src, nominalTimeAccessors); ok {
		id.DateKey = UTCDateKey(t)
	}

	return id, id.Resolved()
}

// NominalTime returns the event's current scheduled time, ignoring any
// original (pre-reschedule) time.
func NominalTime(src EventSource) (time.Time, bool) {
	if src == nil {
		return time.Time{}, false
	}
	return firstTime(src, nominalTimeAccessors)
}

// SameEvent reports whether two sources describe the same real event. It
// fails closed: both sides need a name and a date bucket.
func SameEvent(a, b EventSource) bool {
	ia, okA := Resolve(a)
	ib, okB := Resolve(b)
	if !okA || !okB || ia.DateKey == "" || ib.DateKey == "" {
		return false
	}
	if ia.CurrencyKey != ib.CurrencyKey || ia.DateKey != ib.DateKey {
		return false
	}
	for _, na := range ia.NameKeys {
		for _, nb := range ib.NameKeys {
			if na == nb {
				return true
			}
		}
	}
	return false
}

// NormalizeKey trims, lowercases and collapses inner whitespace.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func nameKeys(src EventSource) []string {
	var names []string
	if primary := firstString(src, nameAccessors); primary != "" {
		names = append(names, primary)
	}
	if c, ok := src.(CanonicalEvent); ok {
		names = append(names, c.Aliases...)
	}

	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		k := NormalizeKey(n)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func firstString(src EventSource, accessors []stringAccessor) string {
	for _, get := range accessors {
		if v := get(src); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstTime(src EventSource, accessors []timeAccessor) (time.Time, bool) {
	for _, get := range accessors {
		if t, ok := get(src); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// RAW PROBING
// =============================================================================

func rawString(keys ...string) stringAccessor {
	return func(s EventSource) string {
		raw, ok := s.(RawEvent)
		if !ok {
			return ""
		}
		for _, k := range keys {
			switch v := raw[k].(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return v
				}
			case float64:
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					return strconv.FormatFloat(v, 'f', -1, 64)
				}
			case int64:
				return strconv.FormatInt(v, 10)
			case int:
				return strconv.Itoa(v)
			}
		}
		return ""
	}
}

func rawTime(keys ...string) timeAccessor {
	return func(s EventSource) (time.Time, bool) {
		raw, ok := s.(RawEvent)
		if !ok {
			return time.Time{}, false
		}
		for _, k := range keys {
			if t, ok := coerceTime(raw[k]); ok {
				return t, true
			}
		}
		return time.Time{}, false
	}
}

// coerceTime accepts epoch milliseconds, time values and timestamp strings.
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		return parseTimeString(t)
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func epochPtr(ms *int64) (time.Time, bool) {
	if ms == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*ms).UTC(), true
}
