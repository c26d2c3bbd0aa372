/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store (records, preferences, custom events) using
  SQLite. Suitable for a single-node deployment; the PostgreSQL backend in
  store/postgres uses the same schema with dialect changes.

INTERFACES IMPLEMENTED:
  engine.RecordStore:      Reminder records + change subscription
  engine.PreferenceStore:  Per-user delivery settings
  engine.CustomEventStore: User-created events

KEY TABLES:
  reminders:     One row per (user, document key). Reminders, channels and
                 metadata are JSON columns; they are always read whole.
  preferences:   One row per user
  custom_events: One row per (user, event id)

MERGE SEMANTICS:
  Put is an upsert that never touches created_at on conflict, so a re-save
  keeps the original creation time.

CHANGE STREAM:
  SQLite has no change feed. Every committed write is published to an
  in-process Hub (engine/store/hub.go); Subscribe replays the user's rows
  and then follows the hub.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
  single connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/reminders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	hub *store.Hub
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, hub: store.NewHub()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close ends subscriptions and closes the database connection.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reminder records, one per user and document key
	CREATE TABLE IF NOT EXISTS reminders (
		user_id TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		event_key TEXT NOT NULL,
		series_key TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		event_epoch_ms INTEGER,
		timezone TEXT NOT NULL DEFAULT '',
		reminders_json TEXT NOT NULL,
		channels_json TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metadata_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, doc_key)
	);

	-- Series lookups when a whole recurring definition changes
	CREATE INDEX IF NOT EXISTS idx_reminders_series
		ON reminders(user_id, series_key);

	-- Per-user delivery settings
	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT '',
		quiet_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		quiet_start INTEGER NOT NULL DEFAULT 0,
		quiet_end INTEGER NOT NULL DEFAULT 0,
		quiet_mode TEXT NOT NULL DEFAULT 'suppress',
		updated_at TEXT NOT NULL
	);

	-- User-created calendar events
	CREATE TABLE IF NOT EXISTS custom_events (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		local_date TEXT NOT NULL,
		local_time TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		recurrence_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `user_id, event_key, series_key, scope, event_epoch_ms, timezone,
	reminders_json, channels_json, enabled, metadata_json, created_at, updated_at`

// Get retrieves a record by document key.
func (s *Store) Get(ctx context.Context, user engine.UserID, docKey string) (*engine.ReminderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM reminders WHERE user_id = ? AND doc_key = ?",
		string(user), docKey,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

// Put upserts a record and publishes the change after commit.
func (s *Store) Put(ctx context.Context, rec engine.ReminderRecord) (engine.ChangeType, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	typ, stored, err := s.putLocked(ctx, rec)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.hub.Publish(engine.Change{Type: typ, Record: stored})
	return typ, nil
}

func (s *Store) putLocked(ctx context.Context, rec engine.ReminderRecord) (engine.ChangeType, engine.ReminderRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", rec, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	docKey := rec.DocumentKey()
	typ := engine.ChangeAdded
	var createdAt string
	err = tx.QueryRowContext(ctx,
		"SELECT created_at FROM reminders WHERE user_id = ? AND doc_key = ?",
		string(rec.UserID), docKey,
	).Scan(&createdAt)
	switch {
	case err == nil:
		typ = engine.ChangeModified
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	case !errors.Is(err, sql.ErrNoRows):
		return "", rec, fmt.Errorf("failed to check existing record: %w", err)
	}
	store.StampRecord(&rec)

	remindersJSON, channelsJSON, metadataJSON, err := encodeRecord(rec)
	if err != nil {
		return "", rec, err
	}

	query := `
		INSERT INTO reminders (user_id, doc_key, event_key, series_key, scope, event_epoch_ms, timezone,
			reminders_json, channels_json, enabled, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, doc_key) DO UPDATE SET
			event_key = excluded.event_key,
			series_key = excluded.series_key,
			scope = excluded.scope,
			event_epoch_ms = excluded.event_epoch_ms,
			timezone = excluded.timezone,
			reminders_json = excluded.reminders_json,
			channels_json = excluded.channels_json,
			enabled = excluded.enabled,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		string(rec.UserID), docKey, rec.EventKey, rec.SeriesKey, string(rec.Scope),
		nullableEpoch(rec.EventEpochMs), rec.Timezone,
		remindersJSON, channelsJSON, rec.Enabled, metadataJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", rec, fmt.Errorf("failed to upsert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", rec, fmt.Errorf("failed to commit record: %w", err)
	}
	return typ, rec, nil
}

// Delete removes a record and publishes the removal.
func (s *Store) Delete(ctx context.Context, user engine.UserID, docKey string) error {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM reminders WHERE user_id = ? AND doc_key = ?",
		string(user), docKey,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.mu.Unlock()
		return engine.ErrRecordNotFound
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM reminders WHERE user_id = ? AND doc_key = ?", string(user), docKey)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.hub.Publish(engine.Change{Type: engine.ChangeRemoved, Record: rec})
	return nil
}

// List returns a user's records ordered by document key.
func (s *Store) List(ctx context.Context, user engine.UserID) ([]engine.ReminderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM reminders WHERE user_id = ? ORDER BY doc_key",
		string(user),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []engine.ReminderRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListUsers returns every user that owns a record.
func (s *Store) ListUsers(ctx context.Context) ([]engine.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM reminders ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []engine.UserID
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, engine.UserID(u))
	}
	return users, rows.Err()
}

// Subscribe replays the user's records, then streams live changes.
func (s *Store) Subscribe(ctx context.Context, user engine.UserID) (<-chan engine.Change, error) {
	live, err := s.hub.Subscribe(ctx, user)
	if err != nil {
		return nil, err
	}
	initial, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	return store.Stream(ctx, initial, live), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (engine.ReminderRecord, error) {
	var rec engine.ReminderRecord
	var user, scope, remindersJSON, channelsJSON, metadataJSON, createdAt, updatedAt string
	var epochMs sql.NullInt64

	err := row.Scan(&user, &rec.EventKey, &rec.SeriesKey, &scope, &epochMs, &rec.Timezone,
		&remindersJSON, &channelsJSON, &rec.Enabled, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return rec, err
	}

	rec.UserID = engine.UserID(user)
	rec.Scope = engine.Scope(scope)
	if epochMs.Valid {
		v := epochMs.Int64
		rec.EventEpochMs = &v
	}
	if err := json.Unmarshal([]byte(remindersJSON), &rec.Reminders); err != nil {
		return rec, fmt.Errorf("failed to decode reminders: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rec.Channels); err != nil {
		return rec, fmt.Errorf("failed to decode channels: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("failed to decode metadata: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func encodeRecord(rec engine.ReminderRecord) (string, string, string, error) {
	reminders := rec.Reminders
	if reminders == nil {
		reminders = []engine.Reminder{}
	}
	r, err := json.Marshal(reminders)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode reminders: %w", err)
	}
	c, err := json.Marshal(rec.Channels)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode channels: %w", err)
	}
	m, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(r), string(c), string(m), nil
}

func nullableEpoch(ms *int64) sql.NullInt64 {
	if ms == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ms, Valid: true}
}

// =============================================================================
// PREFERENCE STORE
// =============================================================================

// GetPreferences retrieves a user's settings.
func (s *Store) GetPreferences(ctx context.Context, user engine.UserID) (*engine.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p engine.Preferences
	var mode, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT timezone, quiet_enabled, quiet_start, quiet_end, quiet_mode, updated_at FROM preferences WHERE user_id = ?",
		string(user),
	).Scan(&p.Timezone, &p.QuietHoursEnabled, &p.QuietHours.Start, &p.QuietHours.End, &mode, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	p.UserID = user
	p.QuietHoursMode = engine.ParseQuietHoursMode(mode)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

// PutPreferences upserts a user's settings.
func (s *Store) PutPreferences(ctx context.Context, prefs engine.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO preferences (user_id, timezone, quiet_enabled, quiet_start, quiet_end, quiet_mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			quiet_enabled = excluded.quiet_enabled,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			quiet_mode = excluded.quiet_mode,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		string(prefs.UserID), prefs.Timezone, prefs.QuietHoursEnabled,
		prefs.QuietHours.Start, prefs.QuietHours.End,
		string(engine.ParseQuietHoursMode(string(prefs.QuietHoursMode))),
		prefs.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// =============================================================================
// CUSTOM EVENT STORE
// =============================================================================

const customEventColumns = `user_id, id, title, description, color, icon, local_date, local_time,
	timezone, recurrence_json, created_at, updated_at`

// GetCustomEvent retrieves one user-created event.
func (s *Store) GetCustomEvent(ctx context.Context, user engine.UserID, id string) (*engine.CustomEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+customEventColumns+" FROM custom_events WHERE user_id = ? AND id = ?",
		string(user), id,
	)
	ev, err := scanCustomEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrCustomEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom event: %w", err)
	}
	return &ev, nil
}

// PutCustomEvent upserts a user-created event, keeping created_at.
func (s *Store) PutCustomEvent(ctx context.Context, ev engine.CustomEvent) error {
	if ev.ID == "" || ev.UserID == "" {
		return &engine.InvalidFieldError{Field: "id", Reason: "custom event needs an id and an owner"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store.StampCustomEvent(&ev)
	recurrenceJSON, err := json.Marshal(ev.Recurrence)
	if err != nil {
		return fmt.Errorf("failed to encode recurrence: %w", err)
	}

	query := `
		INSERT INTO custom_events (` + customEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			color = excluded.color,
			icon = excluded.icon,
			local_date = excluded.local_date,
			local_time = excluded.local_time,
			timezone = excluded.timezone,
			recurrence_json = excluded.recurrence_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		string(ev.UserID), ev.ID, ev.Title, ev.Description, ev.Color, ev.Icon,
		ev.LocalDate, ev.LocalTime, ev.Timezone, string(recurrenceJSON),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano), ev.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save custom event: %w", err)
	}
	return nil
}

// DeleteCustomEvent removes a user-created event.
func (s *Store) DeleteCustomEvent(ctx context.Context, user engine.UserID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM custom_events WHERE user_id = ? AND id = ?", string(user), id)
	if err != nil {
		return fmt.Errorf("failed to delete custom event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrCustomEventNotFound
	}
	return nil
}

// ListCustomEvents returns a user's events ordered by local date.
func (s *Store) ListCustomEvents(ctx context.Context, user engine.UserID) ([]engine.CustomEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+customEventColumns+" FROM custom_events WHERE user_id = ? ORDER BY local_date, id",
		string(user),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom events: %w", err)
	}
	defer rows.Close()

	var events []engine.CustomEvent
	for rows.Next() {
		ev, err := scanCustomEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanCustomEvent(row rowScanner) (engine.CustomEvent, error) {
	var ev engine.CustomEvent
	var user, recurrenceJSON, createdAt, updatedAt string

	err := row.Scan(&user, &ev.ID, &ev.Title, &ev.Description, &ev.Color, &ev.Icon,
		&ev.LocalDate, &ev.LocalTime, &ev.Timezone, &recurrenceJSON, &createdAt, &updatedAt)
	if err != nil {
		return ev, err
	}
	ev.UserID = engine.UserID(user)
	if err := json.Unmarshal([]byte(recurrenceJSON), &ev.Recurrence); err != nil {
		return ev, fmt.Errorf("failed to decode recurrence: %w", err)
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return ev, nil
}

var _ engine.Store = (*Store)(nil)
