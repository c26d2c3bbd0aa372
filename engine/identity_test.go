package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func epoch(t time.Time) *int64 {
	v := t.UnixMilli()
	return &v
}

var nfpRelease = time.Date(2025, time.January, 10, 13, 30, 0, 0, time.UTC)

// =============================================================================
// DETERMINISM ACROSS ALIAS FIELDS
// =============================================================================

func TestResolve_AliasFieldsProduceIdenticalIdentity(t *testing.T) {
	// GIVEN: The same release reported with different field spellings
	shapes := []engine.RawEvent{
		{"name": "Non-Farm Payrolls", "currency": "USD", "time": "2025-01-10T13:30:00Z"},
		{"Name": "Non-Farm Payrolls", "Currency": "USD", "date": "2025-01-10T13:30:00Z"},
		{"canonicalName": "Non-Farm Payrolls", "currency": "USD", "epochMs": float64(nfpRelease.UnixMilli())},
	}

	// WHEN: Each shape is resolved
	var ids []engine.EventIdentity
	for _, s := range shapes {
		id, ok := engine.Resolve(s)
		require.True(t, ok)
		ids = append(ids, id)
	}

	// THEN: Identities and both keys are identical
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
		assert.Equal(t,
			engine.BuildEventKey(ids[0], "calendar", nil, ""),
			engine.BuildEventKey(id, "calendar", nil, ""))
		assert.Equal(t,
			engine.BuildSeriesKey(ids[0], "calendar", "", "high", "employment"),
			engine.BuildSeriesKey(id, "calendar", "", "high", "employment"))
	}
	assert.Equal(t, "non-farm payrolls", ids[0].PrimaryNameKey)
	assert.Equal(t, "usd", ids[0].CurrencyKey)
	assert.Equal(t, "2025-01-10", ids[0].DateKey)
}

func TestResolve_NormalizesCaseAndWhitespace(t *testing.T) {
	id, ok := engine.Resolve(engine.RawEvent{"name": "  Non-Farm \t  PAYROLLS ", "currency": " usd "})

	require.True(t, ok)
	assert.Equal(t, "non-farm payrolls", id.PrimaryNameKey)
	assert.Equal(t, "usd", id.CurrencyKey)
	assert.Empty(t, id.DateKey)
}

func TestResolve_MissingCurrencyUsesSentinel(t *testing.T) {
	id, ok := engine.Resolve(engine.FeedEvent{Name: "ECB Press Conference", Date: nfpRelease})

	require.True(t, ok)
	assert.Equal(t, engine.NotApplicable, id.CurrencyKey)
}

func TestResolve_UserEventBucketsInUTC(t *testing.T) {
	// GIVEN: 22:00 in New York, which is already the next day in UTC
	id, ok := engine.Resolve(engine.UserEvent{
		ID:        "ce-1",
		Title:     "Portfolio review",
		LocalDate: "2025-01-10",
		LocalTime: "22:00",
		Timezone:  "America/New_York",
	})

	require.True(t, ok)
	assert.Equal(t, "ce-1", id.EventID)
	assert.Equal(t, "2025-01-11", id.DateKey)
}

// =============================================================================
// RESCHEDULE STABILITY
// =============================================================================

func TestResolve_RescheduleKeepsDateKey(t *testing.T) {
	// GIVEN: A release that was moved to the following Monday
	before := engine.LegacyEvent{
		Name:         "CPI m/m",
		Currency:     "USD",
		Time:         "2025-01-10T13:30:00Z",
		OriginalTime: "2025-01-10T13:30:00Z",
	}
	after := before
	after.Time = "2025-01-13T15:00:00Z"

	// WHEN: Both versions are resolved
	idBefore, _ := engine.Resolve(before)
	idAfter, _ := engine.Resolve(after)

	// THEN: The date bucket comes from the original time
	assert.Equal(t, "2025-01-10", idBefore.DateKey)
	assert.Equal(t, idBefore.DateKey, idAfter.DateKey)
	assert.True(t, engine.SameEvent(before, after))
}

func TestResolve_CanonicalOriginalEpochWins(t *testing.T) {
	moved := nfpRelease.Add(72 * time.Hour)
	id, ok := engine.Resolve(engine.CanonicalEvent{
		CanonicalName:   "Non-Farm Payrolls",
		EpochMs:         epoch(moved),
		OriginalEpochMs: epoch(nfpRelease),
	})

	require.True(t, ok)
	assert.Equal(t, "2025-01-10", id.DateKey)
}

// =============================================================================
// SAME-EVENT MATCHING
// =============================================================================

func TestSameEvent_MatchesAcrossShapesViaAliases(t *testing.T) {
	// GIVEN: A catalog entry with an alias and a feed row using that alias
	catalog := engine.CanonicalEvent{
		ID:            "us-nfp",
		CanonicalName: "Non-Farm Payrolls",
		Aliases:       []string{"NFP", "Nonfarm Payrolls"},
		Currency:      "USD",
		EpochMs:       epoch(nfpRelease),
	}
	feed := engine.FeedEvent{Name: "nfp", Currency: "usd", Date: nfpRelease}

	// THEN: They are the same real-world event
	assert.True(t, engine.SameEvent(catalog, feed))
	assert.True(t, engine.SameEvent(feed, catalog))
}

func TestSameEvent_DifferentCurrencyDoesNotMatch(t *testing.T) {
	a := engine.FeedEvent{Name: "CPI y/y", Currency: "USD", Date: nfpRelease}
	b := engine.FeedEvent{Name: "CPI y/y", Currency: "EUR", Date: nfpRelease}

	assert.False(t, engine.SameEvent(a, b))
}

func TestSameEvent_DifferentDayDoesNotMatch(t *testing.T) {
	a := engine.FeedEvent{Name: "CPI y/y", Currency: "USD", Date: nfpRelease}
	b := engine.FeedEvent{Name: "CPI y/y", Currency: "USD", Date: nfpRelease.AddDate(0, 1, 0)}

	assert.False(t, engine.SameEvent(a, b))
}

func TestSameEvent_EmptyIdentitiesFailClosed(t *testing.T) {
	// GIVEN: Two events with no name and no time
	a := engine.RawEvent{}
	b := engine.RawEvent{"impact": "high"}

	// WHEN: Resolved
	idA, okA := engine.Resolve(a)
	idB, okB := engine.Resolve(b)

	// THEN: Both are degenerate and never match, not even each other
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Empty(t, idA.PrimaryNameKey)
	assert.Empty(t, idB.PrimaryNameKey)
	assert.False(t, engine.SameEvent(a, b))
	assert.False(t, engine.SameEvent(a, a))
}

func TestSameEvent_UndatedEventsFailClosed(t *testing.T) {
	a := engine.RawEvent{"name": "FOMC Minutes"}
	b := engine.RawEvent{"name": "FOMC Minutes"}

	assert.False(t, engine.SameEvent(a, b))
}

func TestResolve_NilSource(t *testing.T) {
	id, ok := engine.Resolve(nil)

	assert.False(t, ok)
	assert.Equal(t, engine.NotApplicable, id.CurrencyKey)
}

func TestNominalTime_IgnoresOriginalTime(t *testing.T) {
	moved := nfpRelease.Add(time.Hour)
	got, ok := engine.NominalTime(engine.RawEvent{
		"name":         "GDP",
		"time":         moved.Format(time.RFC3339),
		"originalTime": nfpRelease.Format(time.RFC3339),
	})

	require.True(t, ok)
	assert.True(t, moved.Equal(got))
}
