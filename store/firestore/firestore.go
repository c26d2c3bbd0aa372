/*
Package firestore provides a Cloud Firestore-backed engine.Store.

PURPOSE:
  The hosted document store backend. Each user owns a document tree:

    users/{uid}/reminders/{docKey}
    users/{uid}/settings/preferences
    users/{uid}/customEvents/{id}

  Document keys may contain characters Firestore rejects in ids ("/"), so
  the stored id is an escaped form of the key. The original key is kept in
  the docKey field.

MERGE SEMANTICS:
  Put runs in a transaction that reads createdAt before writing, so a
  re-save keeps the original creation time.

CHANGE STREAM:
  Subscribe maps the reminders collection's snapshot listener onto
  engine.Change. The first snapshot reports every existing document as
  added, which is the replay the interface promises.

SEE ALSO:
  - engine/store.go: Interface definitions
  - store/sqlite/sqlite.go: Relational variant
*/
package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	fs "cloud.google.com/go/firestore"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
)

const (
	usersCollection        = "users"
	remindersCollection    = "reminders"
	settingsCollection     = "settings"
	customEventsCollection = "customEvents"
	preferencesDoc         = "preferences"
)

// Store implements engine.Store on a Firestore client.
type Store struct {
	client *fs.Client
}

// New connects to the given project. With FIRESTORE_EMULATOR_HOST set the
// client talks to the emulator.
func New(ctx context.Context, projectID string) (*Store, error) {
	client, err := fs.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) user(user engine.UserID) *fs.DocumentRef {
	return s.client.Collection(usersCollection).Doc(string(user))
}

func (s *Store) reminders(user engine.UserID) *fs.CollectionRef {
	return s.user(user).Collection(remindersCollection)
}

func (s *Store) customEvents(user engine.UserID) *fs.CollectionRef {
	return s.user(user).Collection(customEventsCollection)
}

// notFound reports whether a Get failed only because the document is missing.
func notFound(snap *fs.DocumentSnapshot, err error) bool {
	return err != nil && snap != nil && !snap.Exists()
}

// =============================================================================
// DOCUMENT MODELS
// =============================================================================

// EscapeDocID maps a document key onto a valid Firestore document id.
func EscapeDocID(key string) string {
	r := strings.NewReplacer("%", "%25", "/", "%2F")
	return r.Replace(key)
}

type channelsDoc struct {
	InApp   bool `firestore:"inApp"`
	Browser bool `firestore:"browser"`
	Push    bool `firestore:"push"`
}

type reminderDoc struct {
	MinutesBefore int         `firestore:"minutesBefore"`
	Channels      channelsDoc `firestore:"channels"`
}

type recurrenceDoc struct {
	Enabled        bool   `firestore:"enabled"`
	Interval       string `firestore:"interval"`
	EndsType       string `firestore:"endsType"`
	UntilLocalDate string `firestore:"untilLocalDate,omitempty"`
	Count          int    `firestore:"count,omitempty"`
}

type metadataDoc struct {
	Title         string        `firestore:"title,omitempty"`
	Description   string        `firestore:"description,omitempty"`
	Color         string        `firestore:"color,omitempty"`
	Icon          string        `firestore:"icon,omitempty"`
	Source        string        `firestore:"source,omitempty"`
	Currency      string        `firestore:"currency,omitempty"`
	Impact        string        `firestore:"impact,omitempty"`
	Category      string        `firestore:"category,omitempty"`
	IsCustom      bool          `firestore:"isCustom,omitempty"`
	CustomEventID string        `firestore:"customEventId,omitempty"`
	LocalDate     string        `firestore:"localDate,omitempty"`
	LocalTime     string        `firestore:"localTime,omitempty"`
	Recurrence    recurrenceDoc `firestore:"recurrence"`
}

type recordDoc struct {
	UserID       string        `firestore:"userId"`
	DocKey       string        `firestore:"docKey"`
	EventKey     string        `firestore:"eventKey"`
	SeriesKey    string        `firestore:"seriesKey"`
	Scope        string        `firestore:"scope"`
	EventEpochMs *int64        `firestore:"eventEpochMs"`
	Timezone     string        `firestore:"timezone"`
	Reminders    []reminderDoc `firestore:"reminders"`
	Channels     channelsDoc   `firestore:"channels"`
	Enabled      bool          `firestore:"enabled"`
	Metadata     metadataDoc   `firestore:"metadata"`
	CreatedAt    time.Time     `firestore:"createdAt"`
	UpdatedAt    time.Time     `firestore:"updatedAt"`
}

type preferencesDocument struct {
	Timezone          string    `firestore:"timezone"`
	QuietHoursEnabled bool      `firestore:"quietHoursEnabled"`
	QuietStart        int       `firestore:"quietStart"`
	QuietEnd          int       `firestore:"quietEnd"`
	QuietHoursMode    string    `firestore:"quietHoursMode"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

type customEventDoc struct {
	Title       string        `firestore:"title"`
	Description string        `firestore:"description,omitempty"`
	Color       string        `firestore:"color,omitempty"`
	Icon        string        `firestore:"icon,omitempty"`
	LocalDate   string        `firestore:"localDate"`
	LocalTime   string        `firestore:"localTime,omitempty"`
	Timezone    string        `firestore:"timezone"`
	Recurrence  recurrenceDoc `firestore:"recurrence"`
	CreatedAt   time.Time     `firestore:"createdAt"`
	UpdatedAt   time.Time     `firestore:"updatedAt"`
}

func toChannelsDoc(c engine.Channels) channelsDoc {
	return channelsDoc{InApp: c.InApp, Browser: c.Browser, Push: c.Push}
}

func (d channelsDoc) engine() engine.Channels {
	return engine.Channels{InApp: d.InApp, Browser: d.Browser, Push: d.Push}
}

func toRecurrenceDoc(r engine.RecurrenceDefinition) recurrenceDoc {
	return recurrenceDoc{
		Enabled:        r.Enabled,
		Interval:       string(r.Interval),
		EndsType:       string(r.Ends.Type),
		UntilLocalDate: r.Ends.UntilLocalDate,
		Count:          r.Ends.Count,
	}
}

func (d recurrenceDoc) engine() engine.RecurrenceDefinition {
	return engine.RecurrenceDefinition{
		Enabled:  d.Enabled,
		Interval: engine.Interval(d.Interval),
		Ends: engine.Ends{
			Type:           engine.EndsType(d.EndsType),
			UntilLocalDate: d.UntilLocalDate,
			Count:          d.Count,
		},
	}
}

func toRecordDoc(rec engine.ReminderRecord) recordDoc {
	reminders := make([]reminderDoc, 0, len(rec.Reminders))
	for _, r := range rec.Reminders {
		reminders = append(reminders, reminderDoc{MinutesBefore: r.MinutesBefore, Channels: toChannelsDoc(r.Channels)})
	}
	m := rec.Metadata
	return recordDoc{
		UserID:       string(rec.UserID),
		DocKey:       rec.DocumentKey(),
		EventKey:     rec.EventKey,
		SeriesKey:    rec.SeriesKey,
		Scope:        string(rec.Scope),
		EventEpochMs: rec.EventEpochMs,
		Timezone:     rec.Timezone,
		Reminders:    reminders,
		Channels:     toChannelsDoc(rec.Channels),
		Enabled:      rec.Enabled,
		Metadata: metadataDoc{
			Title:         m.Title,
			Description:   m.Description,
			Color:         m.Color,
			Icon:          m.Icon,
			Source:        m.Source,
			Currency:      m.Currency,
			Impact:        m.Impact,
			Category:      m.Category,
			IsCustom:      m.IsCustom,
			CustomEventID: m.CustomEventID,
			LocalDate:     m.LocalDate,
			LocalTime:     m.LocalTime,
			Recurrence:    toRecurrenceDoc(m.Recurrence),
		},
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (d recordDoc) engine() engine.ReminderRecord {
	reminders := make([]engine.Reminder, 0, len(d.Reminders))
	for _, r := range d.Reminders {
		reminders = append(reminders, engine.Reminder{MinutesBefore: r.MinutesBefore, Channels: r.Channels.engine()})
	}
	m := d.Metadata
	return engine.ReminderRecord{
		UserID:       engine.UserID(d.UserID),
		EventKey:     d.EventKey,
		SeriesKey:    d.SeriesKey,
		Scope:        engine.Scope(d.Scope),
		EventEpochMs: d.EventEpochMs,
		Timezone:     d.Timezone,
		Reminders:    reminders,
		Channels:     d.Channels.engine(),
		Enabled:      d.Enabled,
		Metadata: engine.Metadata{
			Title:         m.Title,
			Description:   m.Description,
			Color:         m.Color,
			Icon:          m.Icon,
			Source:        m.Source,
			Currency:      m.Currency,
			Impact:        m.Impact,
			Category:      m.Category,
			IsCustom:      m.IsCustom,
			CustomEventID: m.CustomEventID,
			LocalDate:     m.LocalDate,
			LocalTime:     m.LocalTime,
			Recurrence:    m.Recurrence.engine(),
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func decodeRecord(snap *fs.DocumentSnapshot) (engine.ReminderRecord, error) {
	var d recordDoc
	if err := snap.DataTo(&d); err != nil {
		return engine.ReminderRecord{}, fmt.Errorf("failed to decode record %s: %w", snap.Ref.ID, err)
	}
	return d.engine(), nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, user engine.UserID, docKey string) (*engine.ReminderRecord, error) {
	snap, err := s.reminders(user).Doc(EscapeDocID(docKey)).Get(ctx)
	if notFound(snap, err) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec, err := decodeRecord(snap)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec engine.ReminderRecord) (engine.ChangeType, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	ref := s.reminders(rec.UserID).Doc(EscapeDocID(rec.DocumentKey()))

	var typ engine.ChangeType
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		out := rec
		typ = engine.ChangeAdded
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			existing, err := decodeRecord(snap)
			if err != nil {
				return err
			}
			typ = engine.ChangeModified
			out.CreatedAt = existing.CreatedAt
		case !notFound(snap, err):
			return err
		}
		store.StampRecord(&out)
		return tx.Set(ref, toRecordDoc(out))
	})
	if err != nil {
		return "", fmt.Errorf("failed to save record: %w", err)
	}
	return typ, nil
}

func (s *Store) Delete(ctx context.Context, user engine.UserID, docKey string) error {
	ref := s.reminders(user).Doc(EscapeDocID(docKey))
	missing := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if notFound(snap, err) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if missing {
		return engine.ErrRecordNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, user engine.UserID) ([]engine.ReminderRecord, error) {
	snaps, err := s.reminders(user).OrderBy("docKey", fs.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records := make([]engine.ReminderRecord, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := decodeRecord(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListUsers scans the reminders collection group. The parent of each
// reminders collection is the user document.
func (s *Store) ListUsers(ctx context.Context) ([]engine.UserID, error) {
	snaps, err := s.client.CollectionGroup(remindersCollection).Select().Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	seen := make(map[string]bool)
	var users []engine.UserID
	for _, snap := range snaps {
		owner := snap.Ref.Parent.Parent
		if owner == nil || seen[owner.ID] {
			continue
		}
		seen[owner.ID] = true
		users = append(users, engine.UserID(owner.ID))
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func (s *Store) Subscribe(ctx context.Context, user engine.UserID) (<-chan engine.Change, error) {
	it := s.reminders(user).Snapshots(ctx)
	out := make(chan engine.Change, 64)

	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return
			}
			for _, dc := range qs.Changes {
				change, err := toChange(dc)
				if err != nil {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toChange(dc fs.DocumentChange) (engine.Change, error) {
	rec, err := decodeRecord(dc.Doc)
	if err != nil {
		return engine.Change{}, err
	}
	return engine.Change{Type: changeType(dc.Kind), Record: rec}, nil
}

func changeType(kind fs.DocumentChangeKind) engine.ChangeType {
	switch kind {
	case fs.DocumentRemoved:
		return engine.ChangeRemoved
	case fs.DocumentModified:
		return engine.ChangeModified
	default:
		return engine.ChangeAdded
	}
}

// =============================================================================
// PREFERENCE STORE
// =============================================================================

func (s *Store) GetPreferences(ctx context.Context, user engine.UserID) (*engine.Preferences, error) {
	snap, err := s.user(user).Collection(settingsCollection).Doc(preferencesDoc).Get(ctx)
	if notFound(snap, err) {
		return nil, engine.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	var d preferencesDocument
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &engine.Preferences{
		UserID:            user,
		Timezone:          d.Timezone,
		QuietHoursEnabled: d.QuietHoursEnabled,
		QuietHours:        engine.QuietHours{Start: d.QuietStart, End: d.QuietEnd},
		QuietHoursMode:    engine.ParseQuietHoursMode(d.QuietHoursMode),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) PutPreferences(ctx context.Context, prefs engine.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	d := preferencesDocument{
		Timezone:          prefs.Timezone,
		QuietHoursEnabled: prefs.QuietHoursEnabled,
		QuietStart:        prefs.QuietHours.Start,
		QuietEnd:          prefs.QuietHours.End,
		QuietHoursMode:    string(engine.ParseQuietHoursMode(string(prefs.QuietHoursMode))),
		UpdatedAt:         prefs.UpdatedAt,
	}
	if _, err := s.user(prefs.UserID).Collection(settingsCollection).Doc(preferencesDoc).Set(ctx, d); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// =============================================================================
// CUSTOM EVENT STORE
// =============================================================================

func decodeCustomEvent(user engine.UserID, snap *fs.DocumentSnapshot) (engine.CustomEvent, error) {
	var d customEventDoc
	if err := snap.DataTo(&d); err != nil {
		return engine.CustomEvent{}, fmt.Errorf("failed to decode custom event %s: %w", snap.Ref.ID, err)
	}
	return engine.CustomEvent{
		ID:          snap.Ref.ID,
		UserID:      user,
		Title:       d.Title,
		Description: d.Description,
		Color:       d.Color,
		Icon:        d.Icon,
		LocalDate:   d.LocalDate,
		LocalTime:   d.LocalTime,
		Timezone:    d.Timezone,
		Recurrence:  d.Recurrence.engine(),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) GetCustomEvent(ctx context.Context, user engine.UserID, id string) (*engine.CustomEvent, error) {
	snap, err := s.customEvents(user).Doc(id).Get(ctx)
	if notFound(snap, err) {
		return nil, engine.ErrCustomEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom event: %w", err)
	}
	ev, err := decodeCustomEvent(user, snap)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) PutCustomEvent(ctx context.Context, ev engine.CustomEvent) error {
	if ev.ID == "" || ev.UserID == "" {
		return &engine.InvalidFieldError{Field: "id", Reason: "custom event needs an id and an owner"}
	}
	ref := s.customEvents(ev.UserID).Doc(ev.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		out := ev
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			existing, err := decodeCustomEvent(ev.UserID, snap)
			if err != nil {
				return err
			}
			out.CreatedAt = existing.CreatedAt
		case !notFound(snap, err):
			return err
		}
		store.StampCustomEvent(&out)
		return tx.Set(ref, customEventDoc{
			Title:       out.Title,
			Description: out.Description,
			Color:       out.Color,
			Icon:        out.Icon,
			LocalDate:   out.LocalDate,
			LocalTime:   out.LocalTime,
			Timezone:    out.Timezone,
			Recurrence:  toRecurrenceDoc(out.Recurrence),
			CreatedAt:   out.CreatedAt,
			UpdatedAt:   out.UpdatedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save custom event: %w", err)
	}
	return nil
}

func (s *Store) DeleteCustomEvent(ctx context.Context, user engine.UserID, id string) error {
	ref := s.customEvents(user).Doc(id)
	missing := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if notFound(snap, err) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to delete custom event: %w", err)
	}
	if missing {
		return engine.ErrCustomEventNotFound
	}
	return nil
}

func (s *Store) ListCustomEvents(ctx context.Context, user engine.UserID) ([]engine.CustomEvent, error) {
	snaps, err := s.customEvents(user).OrderBy("localDate", fs.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list custom events: %w", err)
	}
	var events []engine.CustomEvent
	for _, snap := range snaps {
		ev, err := decodeCustomEvent(user, snap)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

var _ engine.Store = (*Store)(nil)
