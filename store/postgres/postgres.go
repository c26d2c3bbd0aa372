/*
Package postgres provides a PostgreSQL-backed engine.Store using pgx.

PURPOSE:
  Same contract and table layout as store/sqlite, for deployments that run
  more than one process against a shared database. JSON columns are JSONB
  and timestamps are TIMESTAMPTZ.

MERGE SEMANTICS:
  Put runs in a REPEATABLE READ transaction: read the existing created_at,
  then upsert. The change type (added/modified) comes from that read.

CHANGE STREAM:
  Changes are published to an in-process Hub after commit, so subscribers
  see writes made through this process only.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node variant
  - engine/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
)

var repeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// Store implements engine.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	hub  *store.Hub
}

// New connects to connStr and migrates the schema.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{pool: pool, hub: store.NewHub()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close ends subscriptions and closes the pool.
func (s *Store) Close() error {
	s.hub.Close()
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		user_id TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		event_key TEXT NOT NULL,
		series_key TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		event_epoch_ms BIGINT,
		timezone TEXT NOT NULL DEFAULT '',
		reminders JSONB NOT NULL,
		channels JSONB NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metadata JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, doc_key)
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_series ON reminders(user_id, series_key);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT '',
		quiet_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		quiet_start INTEGER NOT NULL DEFAULT 0,
		quiet_end INTEGER NOT NULL DEFAULT 0,
		quiet_mode TEXT NOT NULL DEFAULT 'suppress',
		updated_at TIMESTAMPTZ NOT NULL
	);

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
		recurrence JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Truncate removes every row. Tests use it to isolate cases on a shared database.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE reminders, preferences, custom_events")
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `user_id, event_key, series_key, scope, event_epoch_ms, timezone,
	reminders, channels, enabled, metadata, created_at, updated_at`

func (s *Store) Get(ctx context.Context, user engine.UserID, docKey string) (*engine.ReminderRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM reminders WHERE user_id = $1 AND doc_key = $2",
		string(user), docKey)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec engine.ReminderRecord) (engine.ChangeType, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	tx, err := s.pool.BeginTx(ctx, repeatableRead)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	docKey := rec.DocumentKey()
	typ := engine.ChangeAdded
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		"SELECT created_at FROM reminders WHERE user_id = $1 AND doc_key = $2",
		string(rec.UserID), docKey).Scan(&createdAt)
	switch {
	case err == nil:
		typ = engine.ChangeModified
		rec.CreatedAt = createdAt.UTC()
	case !errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("failed to check existing record: %w", err)
	}
	store.StampRecord(&rec)

	remindersJSON, channelsJSON, metadataJSON, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reminders (user_id, doc_key, event_key, series_key, scope, event_epoch_ms, timezone,
			reminders, channels, enabled, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, doc_key) DO UPDATE SET
			event_key = EXCLUDED.event_key,
			series_key = EXCLUDED.series_key,
			scope = EXCLUDED.scope,
			event_epoch_ms = EXCLUDED.event_epoch_ms,
			timezone = EXCLUDED.timezone,
			reminders = EXCLUDED.reminders,
			channels = EXCLUDED.channels,
			enabled = EXCLUDED.enabled,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		string(rec.UserID), docKey, rec.EventKey, rec.SeriesKey, string(rec.Scope),
		rec.EventEpochMs, rec.Timezone, remindersJSON, channelsJSON, rec.Enabled, metadataJSON,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit record: %w", err)
	}

	s.hub.Publish(engine.Change{Type: typ, Record: rec})
	return typ, nil
}

func (s *Store) Delete(ctx context.Context, user engine.UserID, docKey string) error {
	row := s.pool.QueryRow(ctx,
		"DELETE FROM reminders WHERE user_id = $1 AND doc_key = $2 RETURNING "+recordColumns,
		string(user), docKey)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.hub.Publish(engine.Change{Type: engine.ChangeRemoved, Record: rec})
	return nil
}

func (s *Store) List(ctx context.Context, user engine.UserID) ([]engine.ReminderRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM reminders WHERE user_id = $1 ORDER BY doc_key",
		string(user))
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

func (s *Store) ListUsers(ctx context.Context) ([]engine.UserID, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT user_id FROM reminders ORDER BY user_id")
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

func scanRecord(row pgx.Row) (engine.ReminderRecord, error) {
	var rec engine.ReminderRecord
	var user, scope, remindersJSON, channelsJSON, metadataJSON string

	err := row.Scan(&user, &rec.EventKey, &rec.SeriesKey, &scope, &rec.EventEpochMs, &rec.Timezone,
		&remindersJSON, &channelsJSON, &rec.Enabled, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.UserID = engine.UserID(user)
	rec.Scope = engine.Scope(scope)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(remindersJSON), &rec.Reminders); err != nil {
		return rec, fmt.Errorf("failed to decode reminders: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &rec.Channels); err != nil {
		return rec, fmt.Errorf("failed to decode channels: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("failed to decode metadata: %w", err)
	}
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

// =============================================================================
// PREFERENCE STORE
// =============================================================================

func (s *Store) GetPreferences(ctx context.Context, user engine.UserID) (*engine.Preferences, error) {
	var p engine.Preferences
	var mode string
	err := s.pool.QueryRow(ctx, `
		SELECT timezone, quiet_enabled, quiet_start, quiet_end, quiet_mode, updated_at
		FROM preferences WHERE user_id = $1`, string(user)).
		Scan(&p.Timezone, &p.QuietHoursEnabled, &p.QuietHours.Start, &p.QuietHours.End, &mode, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	p.UserID = user
	p.QuietHoursMode = engine.ParseQuietHoursMode(mode)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) PutPreferences(ctx context.Context, prefs engine.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO preferences (user_id, timezone, quiet_enabled, quiet_start, quiet_end, quiet_mode, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			quiet_enabled = EXCLUDED.quiet_enabled,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			quiet_mode = EXCLUDED.quiet_mode,
			updated_at = EXCLUDED.updated_at`,
		string(prefs.UserID), prefs.Timezone, prefs.QuietHoursEnabled,
		prefs.QuietHours.Start, prefs.QuietHours.End,
		string(engine.ParseQuietHoursMode(string(prefs.QuietHoursMode))), prefs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// =============================================================================
// CUSTOM EVENT STORE
// =============================================================================

const customEventColumns = `user_id, id, title, description, color, icon, local_date, local_time,
	timezone, recurrence, created_at, updated_at`

func (s *Store) GetCustomEvent(ctx context.Context, user engine.UserID, id string) (*engine.CustomEvent, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+customEventColumns+" FROM custom_events WHERE user_id = $1 AND id = $2",
		string(user), id)
	ev, err := scanCustomEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrCustomEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom event: %w", err)
	}
	return &ev, nil
}

func (s *Store) PutCustomEvent(ctx context.Context, ev engine.CustomEvent) error {
	if ev.ID == "" || ev.UserID == "" {
		return &engine.InvalidFieldError{Field: "id", Reason: "custom event needs an id and an owner"}
	}
	store.StampCustomEvent(&ev)
	recurrenceJSON, err := json.Marshal(ev.Recurrence)
	if err != nil {
		return fmt.Errorf("failed to encode recurrence: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO custom_events (`+customEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			color = EXCLUDED.color,
			icon = EXCLUDED.icon,
			local_date = EXCLUDED.local_date,
			local_time = EXCLUDED.local_time,
			timezone = EXCLUDED.timezone,
			recurrence = EXCLUDED.recurrence,
			updated_at = EXCLUDED.updated_at`,
		string(ev.UserID), ev.ID, ev.Title, ev.Description, ev.Color, ev.Icon,
		ev.LocalDate, ev.LocalTime, ev.Timezone, string(recurrenceJSON), ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save custom event: %w", err)
	}
	return nil
}

func (s *Store) DeleteCustomEvent(ctx context.Context, user engine.UserID, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM custom_events WHERE user_id = $1 AND id = $2", string(user), id)
	if err != nil {
		return fmt.Errorf("failed to delete custom event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrCustomEventNotFound
	}
	return nil
}

func (s *Store) ListCustomEvents(ctx context.Context, user engine.UserID) ([]engine.CustomEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+customEventColumns+" FROM custom_events WHERE user_id = $1 ORDER BY local_date, id",
		string(user))
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

func scanCustomEvent(row pgx.Row) (engine.CustomEvent, error) {
	var ev engine.CustomEvent
	var user, recurrenceJSON string

	err := row.Scan(&user, &ev.ID, &ev.Title, &ev.Description, &ev.Color, &ev.Icon,
		&ev.LocalDate, &ev.LocalTime, &ev.Timezone, &recurrenceJSON, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return ev, err
	}
	ev.UserID = engine.UserID(user)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(recurrenceJSON), &ev.Recurrence); err != nil {
		return ev, fmt.Errorf("failed to decode recurrence: %w", err)
	}
	return ev, nil
}

var _ engine.Store = (*Store)(nil)
