// Package storetest holds the behaviour every engine.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) engine.Store

// Run executes the full contract suite against a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGetMergePreservesCreatedAt", func(t *testing.T) { testPutGetMerge(t, newStore(t)) })
	t.Run("DeleteAndNotFound", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListOrderedAndScopedByUser", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("RejectsInvalidRecord", func(t *testing.T) { testInvalid(t, newStore(t)) })
	t.Run("SubscribeReplaysThenStreams", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("Preferences", func(t *testing.T) { testPreferences(t, newStore(t)) })
	t.Run("CustomEvents", func(t *testing.T) { testCustomEvents(t, newStore(t)) })
}

// Record returns a minimal valid event-scope record.
func Record(user engine.UserID, eventKey string) engine.ReminderRecord {
	at := time.Date(2025, time.January, 10, 13, 30, 0, 0, time.UTC).UnixMilli()
	return engine.ReminderRecord{
		UserID:       user,
		EventKey:     eventKey,
		SeriesKey:    "calendar:series:" + eventKey + ":usd:high:n/a",
		Scope:        engine.ScopeEvent,
		EventEpochMs: &at,
		Timezone:     "America/New_York",
		Reminders: []engine.Reminder{
			{MinutesBefore: 5, Channels: engine.Channels{InApp: true}},
			{MinutesBefore: 30, Channels: engine.Channels{Push: true}},
		},
		Channels: engine.Channels{InApp: true, Push: true},
		Enabled:  true,
		Metadata: engine.Metadata{
			Title:      "Non-Farm Payrolls",
			Source:     "calendar",
			Currency:   "USD",
			Impact:     "high",
			LocalDate:  "2025-01-10",
			LocalTime:  "08:30",
			Recurrence: engine.RecurrenceDefinition{Interval: engine.IntervalNone, Ends: engine.Ends{Type: engine.EndsNever}},
		},
	}
}

func closeStore(t *testing.T, s engine.Store) {
	t.Cleanup(func() { s.Close() })
}

func testPutGetMerge(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx := context.Background()
	created := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	// GIVEN: A stored record
	rec := Record("u1", "calendar:nfp")
	rec.CreatedAt = created
	rec.UpdatedAt = created
	typ, err := s.Put(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, engine.ChangeAdded, typ)

	// WHEN: The same document key is written again with new contents
	edit := Record("u1", "calendar:nfp")
	edit.Reminders = edit.Reminders[:1]
	edit.Channels = engine.Channels{InApp: true}
	edit.CreatedAt = time.Time{}
	edit.UpdatedAt = created.Add(time.Hour)
	typ, err = s.Put(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, engine.ChangeModified, typ)

	// THEN: Contents are replaced and CreatedAt is preserved
	got, err := s.Get(ctx, "u1", "calendar:nfp")
	require.NoError(t, err)
	assert.Len(t, got.Reminders, 1)
	assert.Equal(t, engine.Channels{InApp: true}, got.Channels)
	assert.True(t, created.Equal(got.CreatedAt), "created at %v", got.CreatedAt)
	assert.True(t, created.Add(time.Hour).Equal(got.UpdatedAt))
	require.NotNil(t, got.EventEpochMs)
	assert.Equal(t, *rec.EventEpochMs, *got.EventEpochMs)
	assert.Equal(t, rec.Metadata, got.Metadata)
}

func testDelete(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.Put(ctx, Record("u1", "calendar:cpi"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", "calendar:cpi"))

	_, err = s.Get(ctx, "u1", "calendar:cpi")
	assert.True(t, errors.Is(err, engine.ErrRecordNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "u1", "calendar:cpi"), engine.ErrRecordNotFound))
}

func testList(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx := context.Background()

	series := Record("u1", "calendar:nfp")
	series.Scope = engine.ScopeSeries
	for _, rec := range []engine.ReminderRecord{
		Record("u1", "calendar:zew"),
		Record("u1", "calendar:cpi"),
		series,
		Record("u2", "calendar:gdp"),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "calendar:cpi", list[0].DocumentKey())
	assert.Equal(t, series.SeriesKey, list[1].DocumentKey())
	assert.Equal(t, "calendar:zew", list[2].DocumentKey())

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []engine.UserID{"u1", "u2"}, users)

	empty, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testInvalid(t *testing.T, s engine.Store) {
	closeStore(t, s)

	rec := Record("", "calendar:nfp")
	_, err := s.Put(context.Background(), rec)

	assert.True(t, errors.Is(err, engine.ErrInvalidRecord))
}

func testSubscribe(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Put(ctx, Record("u1", "calendar:existing"))
	require.NoError(t, err)

	changes, err := s.Subscribe(ctx, "u1")
	require.NoError(t, err)

	// Initial snapshot.
	first := next(t, changes)
	assert.Equal(t, engine.ChangeAdded, first.Type)
	assert.Equal(t, "calendar:existing", first.Record.EventKey)

	// Live add, modify and remove; other users are not delivered.
	_, err = s.Put(ctx, Record("u2", "calendar:other"))
	require.NoError(t, err)
	_, err = s.Put(ctx, Record("u1", "calendar:new"))
	require.NoError(t, err)
	_, err = s.Put(ctx, Record("u1", "calendar:new"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "u1", "calendar:new"))

	assert.Equal(t, engine.ChangeAdded, next(t, changes).Type)
	assert.Equal(t, engine.ChangeModified, next(t, changes).Type)
	removed := next(t, changes)
	assert.Equal(t, engine.ChangeRemoved, removed.Type)
	assert.Equal(t, "calendar:new", removed.Record.EventKey)

	// Cancelling closes the stream.
	cancel()
	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func next(t *testing.T, changes <-chan engine.Change) engine.Change {
	t.Helper()
	select {
	case c, ok := <-changes:
		require.True(t, ok, "stream closed early")
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for change")
	}
	return engine.Change{}
}

func testPreferences(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.GetPreferences(ctx, "u1")
	assert.True(t, errors.Is(err, engine.ErrPreferencesNotFound))

	prefs := engine.Preferences{
		UserID:            "u1",
		Timezone:          "Europe/London",
		QuietHoursEnabled: true,
		QuietHours:        engine.QuietHours{Start: 22, End: 7},
		QuietHoursMode:    engine.QuietHoursDowngrade,
	}
	require.NoError(t, s.PutPreferences(ctx, prefs))

	got, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, prefs.Timezone, got.Timezone)
	assert.Equal(t, prefs.QuietHours, got.QuietHours)
	assert.True(t, got.QuietHoursEnabled)
	assert.Equal(t, engine.QuietHoursDowngrade, got.QuietHoursMode)

	bad := prefs
	bad.Timezone = "Nowhere/Special"
	assert.True(t, errors.Is(s.PutPreferences(ctx, bad), engine.ErrUnknownTimezone))
}

func testCustomEvents(t *testing.T, s engine.Store) {
	closeStore(t, s)
	ctx := context.Background()

	ev := engine.CustomEvent{
		ID:        "ce-1",
		UserID:    "u1",
		Title:     "Options expiry",
		LocalDate: "2025-01-17",
		LocalTime: "16:00",
		Timezone:  "America/New_York",
		Recurrence: engine.RecurrenceDefinition{
			Enabled:  true,
			Interval: engine.Interval1M,
			Ends:     engine.Ends{Type: engine.EndsAfter, Count: 12},
		},
	}
	require.NoError(t, s.PutCustomEvent(ctx, ev))
	require.NoError(t, s.PutCustomEvent(ctx, engine.CustomEvent{ID: "ce-0", UserID: "u1", Title: "Earlier", LocalDate: "2025-01-02", Timezone: "UTC"}))

	got, err := s.GetCustomEvent(ctx, "u1", "ce-1")
	require.NoError(t, err)
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.Recurrence, got.Recurrence)

	list, err := s.ListCustomEvents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ce-0", list[0].ID)

	require.NoError(t, s.DeleteCustomEvent(ctx, "u1", "ce-1"))
	_, err = s.GetCustomEvent(ctx, "u1", "ce-1")
	assert.True(t, errors.Is(err, engine.ErrCustomEventNotFound))
	assert.True(t, errors.Is(s.DeleteCustomEvent(ctx, "u1", "ce-1"), engine.ErrCustomEventNotFound))
}
