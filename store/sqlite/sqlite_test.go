package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store/storetest"
	"github.com/marketclock/reminder-engine/store/sqlite"
)

func newTestStore(t *testing.T) engine.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	// GIVEN: A record written to a file-backed database
	path := filepath.Join(t.TempDir(), "reminders.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	rec := storetest.Record("u1", "calendar:nfp")
	rec.Metadata.Recurrence = engine.RecurrenceDefinition{
		Enabled:  true,
		Interval: engine.Interval1M,
		Ends:     engine.Ends{Type: engine.EndsOnDate, UntilLocalDate: "2025-12-31"},
	}
	_, err = s.Put(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: The database is reopened
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: The record and its recurrence round-trip
	got, err := s.Get(ctx, "u1", "calendar:nfp")
	require.NoError(t, err)
	assert.Equal(t, rec.Metadata.Recurrence, got.Metadata.Recurrence)
	assert.Equal(t, rec.Reminders, got.Reminders)
}

func TestSQLite_NullEpochRoundTrips(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	rec := storetest.Record("u1", "custom:untitled")
	rec.EventEpochMs = nil
	_, err = s.Put(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, "u1", "custom:untitled")
	require.NoError(t, err)
	assert.Nil(t, got.EventEpochMs)
}
