/*
store.go - Persistence interfaces for reminder records and user settings

PURPOSE:
  Defines the interface between the engine and the document store. Records
  live in a per-user namespace keyed by document key (series key for series
  scope, event key for event scope). Every backend supports point reads,
  point write/merge, deletes and a live subscription to the namespace.

KEY INTERFACES:
  RecordStore:      Reminder records + change subscription
  PreferenceStore:  Per-user timezone and quiet-hours settings
  CustomEventStore: User-created calendar events
  Store:            All of the above plus Close

MERGE SEMANTICS:
  Put on an existing document key replaces the record contents but keeps
  the original CreatedAt. The change is reported as "modified"; a new key
  is reported as "added".

SUBSCRIPTIONS:
  Subscribe first replays every existing record as "added", then streams
  live changes until the context is cancelled, at which point the channel
  is closed. Slow consumers may miss live changes but never block writers.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for testing and demos
  - store/sqlite/sqlite.go: Single-node SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx
  - store/firestore/firestore.go: Hosted document store
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// CHANGES
// =============================================================================

// ChangeType classifies a change notification.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one notification from a record subscription.
type Change struct {
	Type   ChangeType     `json:"type"`
	Record ReminderRecord `json:"record"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// QuietHoursMode decides what the dispatcher does inside quiet hours.
type QuietHoursMode string

const (
	// QuietHoursSuppress drops triggers that fire inside quiet hours.
	QuietHoursSuppress QuietHoursMode = "suppress"
	// QuietHoursDowngrade delivers only the in-app channel inside quiet hours.
	QuietHoursDowngrade QuietHoursMode = "downgrade"
	// QuietHoursDeliver ignores quiet hours.
	QuietHoursDeliver QuietHoursMode = "deliver"
)

// ParseQuietHoursMode maps a stored value to a mode, defaulting to suppress.
func ParseQuietHoursMode(s string) QuietHoursMode {
	switch QuietHoursMode(s) {
	case QuietHoursDowngrade, QuietHoursDeliver:
		return QuietHoursMode(s)
	default:
		return QuietHoursSuppress
	}
}

// Preferences are the per-user delivery settings.
type Preferences struct {
	UserID            UserID         `json:"userId"`
	Timezone          string         `json:"timezone"`
	QuietHoursEnabled bool           `json:"quietHoursEnabled"`
	QuietHours        QuietHours     `json:"quietHours"`
	QuietHoursMode    QuietHoursMode `json:"quietHoursMode"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Validate checks the zone and the quiet window.
func (p Preferences) Validate() error {
	if p.UserID == "" {
		return &InvalidFieldError{Field: "userId", Reason: "required"}
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		return err
	}
	if !p.QuietHours.Valid() {
		return &InvalidFieldError{Field: "quietHours", Reason: "hours must be between 0 and 23"}
	}
	return nil
}

// CustomEvent is a user-created calendar entry.
type CustomEvent struct {
	ID          string               `json:"id"`
	UserID      UserID               `json:"userId"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Color       string               `json:"color,omitempty"`
	Icon        string               `json:"icon,omitempty"`
	LocalDate   string               `json:"localDate"`
	LocalTime   string               `json:"localTime,omitempty"`
	Timezone    string               `json:"timezone"`
	Recurrence  RecurrenceDefinition `json:"recurrence"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// EpochMs returns the event's instant, if its local fields parse.
func (e CustomEvent) EpochMs() (int64, bool) {
	loc, err := LoadLocation(e.Timezone)
	if err != nil {
		return 0, false
	}
	t, ok := ParseLocalDateTime(e.LocalDate, e.LocalTime, loc)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}

// =============================================================================
// INTERFACES
// =============================================================================

// RecordStore persists reminder records in a per-user namespace.
type RecordStore interface {
	// Get returns ErrRecordNotFound when the key is unknown.
	Get(ctx context.Context, user UserID, docKey string) (*ReminderRecord, error)
	// Put creates or merges a record under its DocumentKey.
	Put(ctx context.Context, rec ReminderRecord) (ChangeType, error)
	// Delete returns ErrRecordNotFound when the key is unknown.
	Delete(ctx context.Context, user UserID, docKey string) error
	// List returns the user's records ordered by document key.
	List(ctx context.Context, user UserID) ([]ReminderRecord, error)
	// ListUsers returns every user that owns at least one record.
	ListUsers(ctx context.Context) ([]UserID, error)
	// Subscribe streams the user's records, then live changes.
	Subscribe(ctx context.Context, user UserID) (<-chan Change, error)
}

// PreferenceStore persists per-user settings.
type PreferenceStore interface {
	// GetPreferences returns ErrPreferencesNotFound for users without settings.
	GetPreferences(ctx context.Context, user UserID) (*Preferences, error)
	PutPreferences(ctx context.Context, prefs Preferences) error
}

// CustomEventStore persists user-created events.
type CustomEventStore interface {
	GetCustomEvent(ctx context.Context, user UserID, id string) (*CustomEvent, error)
	PutCustomEvent(ctx context.Context, ev CustomEvent) error
	DeleteCustomEvent(ctx context.Context, user UserID, id string) error
	ListCustomEvents(ctx context.Context, user UserID) ([]CustomEvent, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	RecordStore
	PreferenceStore
	CustomEventStore
	Close() error
}
