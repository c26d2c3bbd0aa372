/*
handlers_test.go - Tests for API handlers

Tests for:
- Reminder save/merge/get/delete through the dialog payload
- Escaped document keys, validation errors and status mapping
- Occurrences, ICS feed and SSE stream
- Preferences, custom events with cascade delete
- Policy preview, identity match, permission copy
- Manual dispatcher run into the in-app inbox
*/
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/calendar"
	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
	"github.com/marketclock/reminder-engine/notify"
)

var testNow = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

var nfp = calendar.Release{
	EventID:  "nfp-demo",
	Name:     "Non-Farm Payrolls",
	Currency: "USD",
	EpochMs:  time.Date(2025, 1, 10, 13, 30, 0, 0, time.UTC).UnixMilli(),
	Impact:   calendar.ImpactHigh,
	Category: calendar.CategoryEmployment,
}

type testServer struct {
	*httptest.Server
	handler *Handler
	clock   *clock.Mock
	inbox   *notify.InAppInbox
}

func newTestServer(t *testing.T, withDispatcher bool) *testServer {
	t.Helper()
	mem := store.NewMemory()
	mock := clock.NewMock()
	mock.Set(testNow)

	inbox := notify.NewInAppInbox(0)
	prefs := engine.NewPreferenceCache(mem, engine.Preferences{Timezone: "UTC", QuietHoursMode: engine.QuietHoursSuppress})
	opts := Options{Prefs: prefs, Inbox: inbox, Clock: mock}
	if withDispatcher {
		opts.Dispatcher = notify.NewDispatcher(mem, prefs, engine.DefaultPolicy(), mock,
			map[engine.Channel]notify.Sender{engine.ChannelInApp: inbox}, notify.Options{})
	}

	h := NewHandler(mem, opts)
	ts := &testServer{Server: httptest.NewServer(NewRouter(h, nil)), handler: h, clock: mock, inbox: inbox}
	t.Cleanup(func() {
		ts.Close()
		mem.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestSaveReminder_CreatesThenMerges(t *testing.T) {
	// GIVEN: A server with no records
	ts := newTestServer(t, false)
	body := calendar.EconomicReleaseJSON(nfp, "America/New_York")

	// WHEN: The release reminder is saved
	status, data := ts.do(t, http.MethodPut, "/api/users/u1/reminders", body)

	// THEN: It is created under the event key with the high-impact offsets
	require.Equal(t, http.StatusCreated, status, string(data))
	saved := decode[SaveReminderResponse](t, data)
	assert.Equal(t, engine.ChangeAdded, saved.Change)
	assert.Equal(t, "calendar:nfp-demo", saved.Reminder.DocumentKey)
	assert.True(t, saved.Resolved)
	require.Len(t, saved.Reminder.Reminders, 3)
	assert.Equal(t, 5, saved.Reminder.Reminders[0].MinutesBefore)
	require.NotNil(t, saved.Reminder.NextOccurrenceMs)
	assert.Equal(t, nfp.EpochMs, *saved.Reminder.NextOccurrenceMs)
	assert.NotNil(t, saved.Warnings)

	// WHEN: The same payload is saved again
	status, data = ts.do(t, http.MethodPut, "/api/users/u1/reminders", body)

	// THEN: It merges into the same document
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, engine.ChangeModified, decode[SaveReminderResponse](t, data).Change)

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/reminders", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]ReminderDTO](t, data), 1)

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/reminders/calendar:nfp-demo", "")
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, "America/New_York", decode[ReminderDTO](t, data).Timezone)
}

func TestGetReminder_EscapedSeriesKey(t *testing.T) {
	ts := newTestServer(t, false)
	status, data := ts.do(t, http.MethodPut, "/api/users/u1/reminders", calendar.SeriesReleaseJSON(nfp, "UTC", 30))
	require.Equal(t, http.StatusCreated, status, string(data))
	key := decode[SaveReminderResponse](t, data).Reminder.DocumentKey
	require.Contains(t, key, " ")

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/reminders/"+url.PathEscape(key), "")

	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, engine.ScopeSeries, decode[ReminderDTO](t, data).Scope)

	status, _ = ts.do(t, http.MethodDelete, "/api/users/u1/reminders/"+url.PathEscape(key), "")
	assert.Equal(t, http.StatusOK, status)
}

func TestReminderErrors_MapToStatus(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed JSON", http.MethodPut, "/api/users/u1/reminders", `{"scope":`, http.StatusBadRequest},
		{"unknown timezone", http.MethodPut, "/api/users/u1/reminders", `{"timezone":"Mars/Base","event":{"name":"CPI"}}`, http.StatusBadRequest},
		{"unresolvable identity", http.MethodPut, "/api/users/u1/reminders", `{"event":{"currency":"USD"}}`, http.StatusBadRequest},
		{"bad scope", http.MethodPut, "/api/users/u1/reminders", `{"scope":"forever","event":{"name":"CPI"}}`, http.StatusBadRequest},
		{"missing record", http.MethodGet, "/api/users/u1/reminders/calendar:nope", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/users/u1/reminders/calendar:nope", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, status, string(data))
			assert.NotEmpty(t, decode[ErrorResponse](t, data).Error)
		})
	}
}

// =============================================================================
// OCCURRENCES / ICS / STREAM
// =============================================================================

func TestListOccurrences_ExpandsSessions(t *testing.T) {
	// GIVEN: A daily London open reminder 15 minutes before 08:00
	ts := newTestServer(t, false)
	status, data := ts.do(t, http.MethodPut, "/api/users/u1/reminders", calendar.MarketSessionJSON(calendar.SessionLondon, 15))
	require.Equal(t, http.StatusCreated, status, string(data))

	// WHEN: Three days of occurrences are requested
	status, data = ts.do(t, http.MethodGet, "/api/users/u1/occurrences?from=2025-01-06&to=2025-01-09", "")

	// THEN: One open per day with one trigger each
	require.Equal(t, http.StatusOK, status, string(data))
	occs := decode[[]OccurrenceDTO](t, data)
	require.Len(t, occs, 3)
	for i, occ := range occs {
		want := time.Date(2025, 1, 6+i, 8, 0, 0, 0, time.UTC)
		assert.Equal(t, want.UnixMilli(), occ.EpochMs)
		require.Len(t, occ.Triggers, 1)
		assert.Equal(t, want.Add(-15*time.Minute).UnixMilli(), occ.Triggers[0].FireAtMs)
		assert.False(t, occ.Triggers[0].InQuietHours)
	}

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/occurrences?from=2025-01-06&to=2025-01-09&max=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]OccurrenceDTO](t, data), 2)

	status, _ = ts.do(t, http.MethodGet, "/api/users/u1/occurrences?from=2025-01-09&to=2025-01-06", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodGet, "/api/users/u1/occurrences?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExportICS(t *testing.T) {
	ts := newTestServer(t, false)
	status, _ := ts.do(t, http.MethodPut, "/api/users/u1/reminders", calendar.EconomicReleaseJSON(nfp, "UTC"))
	require.Equal(t, http.StatusCreated, status)

	resp, err := ts.Client().Get(ts.URL + "/api/users/u1/reminders.ics?days=7")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	cal, err := ical.ParseCalendar(resp.Body)
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	assert.Len(t, events[0].Alarms(), 3)

	status, _ = ts.do(t, http.MethodGet, "/api/users/u1/reminders.ics?days=0", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStreamReminders_ReplaysExistingRecords(t *testing.T) {
	// GIVEN: A stored reminder
	ts := newTestServer(t, false)
	status, _ := ts.do(t, http.MethodPut, "/api/users/u1/reminders", calendar.EconomicReleaseJSON(nfp, "UTC"))
	require.Equal(t, http.StatusCreated, status)

	// WHEN: A client opens the stream
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/users/u1/reminders/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// THEN: The record arrives as an "added" event
	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Equal(t, "added", event)
	change := decode[ChangeDTO](t, []byte(data))
	assert.Equal(t, engine.ChangeAdded, change.Type)
	assert.Equal(t, "calendar:nfp-demo", change.Reminder.DocumentKey)
}

// =============================================================================
// PREFERENCES / CUSTOM EVENTS
// =============================================================================

func TestPreferences_DefaultsThenUpdate(t *testing.T) {
	ts := newTestServer(t, false)

	status, data := ts.do(t, http.MethodGet, "/api/users/u1/preferences", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "UTC", decode[engine.Preferences](t, data).Timezone)

	status, data = ts.do(t, http.MethodPut, "/api/users/u1/preferences",
		`{"timezone":"Europe/London","quietHoursEnabled":true,"quietHours":{"start":22,"end":7},"quietHoursMode":"downgrade"}`)
	require.Equal(t, http.StatusOK, status, string(data))
	saved := decode[engine.Preferences](t, data)
	assert.Equal(t, "Europe/London", saved.Timezone)
	assert.Equal(t, engine.QuietHoursDowngrade, saved.QuietHoursMode)
	assert.Equal(t, engine.UserID("u1"), saved.UserID)

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/preferences", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[engine.Preferences](t, data).QuietHoursEnabled)

	status, _ = ts.do(t, http.MethodPut, "/api/users/u1/preferences", `{"timezone":"Nowhere/City"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodPut, "/api/users/u1/preferences", `{"timezone":"UTC","quietHours":{"start":25,"end":7}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCustomEvents_DeleteCascadesToReminders(t *testing.T) {
	// GIVEN: A custom event and a reminder linked to it
	ts := newTestServer(t, false)
	in := calendar.CustomEventInput{Title: "Journal", LocalDate: "2025-01-10", LocalTime: "17:00", Timezone: "America/New_York"}
	body, err := json.Marshal(in)
	require.NoError(t, err)
	status, data := ts.do(t, http.MethodPost, "/api/users/u1/custom-events", string(body))
	require.Equal(t, http.StatusCreated, status, string(data))
	ev := decode[engine.CustomEvent](t, data)
	require.NotEmpty(t, ev.ID)

	in.ID = ev.ID
	status, data = ts.do(t, http.MethodPut, "/api/users/u1/reminders", calendar.CheckInJSON(in, "1W", 4))
	require.Equal(t, http.StatusCreated, status, string(data))

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/custom-events/"+ev.ID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Journal", decode[engine.CustomEvent](t, data).Title)

	// WHEN: The custom event is deleted
	status, data = ts.do(t, http.MethodDelete, "/api/users/u1/custom-events/"+ev.ID, "")

	// THEN: The linked reminder is gone too
	require.Equal(t, http.StatusOK, status, string(data))
	assert.EqualValues(t, 1, decode[map[string]any](t, data)["removedReminders"])
	_, data = ts.do(t, http.MethodGet, "/api/users/u1/reminders", "")
	assert.Empty(t, decode[[]ReminderDTO](t, data))
	_, data = ts.do(t, http.MethodGet, "/api/users/u1/custom-events", "")
	assert.Empty(t, decode[[]engine.CustomEvent](t, data))

	status, _ = ts.do(t, http.MethodPost, "/api/users/u1/custom-events", `{"title":"","localDate":"2025-01-10","timezone":"UTC"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// PREVIEWS
// =============================================================================

func TestEvaluatePolicy_WarnsOnNoisyConfiguration(t *testing.T) {
	ts := newTestServer(t, false)
	all := `{"inApp":true,"browser":true,"push":true}`
	body := `{"reminders":[` +
		`{"minutesBefore":0,"channels":` + all + `},` +
		`{"minutesBefore":"1","channels":` + all + `},` +
		`{"minutesBefore":2,"channels":` + all + `},` +
		`{"minutesBefore":3,"channels":` + all + `}],` +
		`"recurrence":{"enabled":true,"interval":"5m","ends":{"type":"never"}}}`

	status, data := ts.do(t, http.MethodPost, "/api/policy/evaluate", body)

	require.Equal(t, http.StatusOK, status, string(data))
	var got struct {
		Reminders []engine.Reminder `json:"reminders"`
		Warnings  []string          `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got.Reminders, engine.MaxRemindersPerEvent)
	require.Len(t, got.Warnings, 3)
	assert.Contains(t, got.Warnings[2], "1 extra")
}

func TestMatchIdentity(t *testing.T) {
	ts := newTestServer(t, false)
	body := `{
		"a": {"eventId": "cat-1", "canonicalName": "Non-Farm Payrolls", "currency": "USD", "epochMs": 1736515800000},
		"b": {"name": "  non-farm   payrolls ", "currency": "usd", "date": "2025-01-10T13:30:00Z"}
	}`

	status, data := ts.do(t, http.MethodPost, "/api/identity/match", body)

	require.Equal(t, http.StatusOK, status, string(data))
	got := decode[IdentityMatchResponse](t, data)
	assert.True(t, got.SameEvent)
	assert.Equal(t, "2025-01-10", got.A.DateKey)
	assert.Equal(t, got.A.PrimaryNameKey, got.B.PrimaryNameKey)

	status, _ = ts.do(t, http.MethodPost, "/api/identity/match", `{"a":{"name":"CPI"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPermissionCopy(t *testing.T) {
	ts := newTestServer(t, false)

	status, data := ts.do(t, http.MethodGet, "/api/permissions/copy?kind=push&outcome=missing-vapid", "")
	require.Equal(t, http.StatusOK, status)
	got := decode[PermissionCopyDTO](t, data)
	assert.Equal(t, notify.PushMissingVAPID.Message(), got.Message)
	assert.False(t, got.Usable)

	status, data = ts.do(t, http.MethodGet, "/api/permissions/copy?kind=browser&outcome=granted", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[PermissionCopyDTO](t, data).Usable)

	status, _ = ts.do(t, http.MethodGet, "/api/permissions/copy?kind=sms&outcome=granted", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestRunDispatcher_DeliversToInbox(t *testing.T) {
	// GIVEN: An in-app reminder firing 30 seconds from now
	ts := newTestServer(t, true)
	eventAt := testNow.Add(5*time.Minute + 30*time.Second)
	body := `{"event":{"name":"Retail Sales","currency":"USD","epochMs":` +
		jsonNumber(eventAt.UnixMilli()) + `},"reminders":[{"minutesBefore":5,"channels":{"inApp":true}}]}`
	status, data := ts.do(t, http.MethodPut, "/api/users/u1/reminders", body)
	require.Equal(t, http.StatusCreated, status, string(data))

	// WHEN: A tick runs a minute later
	ts.clock.Add(time.Minute)
	status, data = ts.do(t, http.MethodPost, "/api/dispatcher/run", "")

	// THEN: The reminder lands in the inbox
	require.Equal(t, http.StatusOK, status, string(data))
	report := decode[notify.RunReport](t, data)
	assert.Equal(t, 1, report.Delivered)

	status, data = ts.do(t, http.MethodGet, "/api/users/u1/inbox", "")
	require.Equal(t, http.StatusOK, status)
	inbox := decode[[]notify.Delivery](t, data)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Retail Sales", inbox[0].Title)

	_, data = ts.do(t, http.MethodGet, "/api/dispatcher/history", "")
	assert.Len(t, decode[[]notify.RunReport](t, data), 1)

	status, _ = ts.do(t, http.MethodDelete, "/api/users/u1/inbox", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, ts.inbox.List("u1"))
}

func TestRunDispatcher_NotConfigured(t *testing.T) {
	ts := newTestServer(t, false)

	status, _ := ts.do(t, http.MethodPost, "/api/dispatcher/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, data := ts.do(t, http.MethodGet, "/api/dispatcher/history", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]notify.RunReport](t, data))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	status, data := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", decode[map[string]string](t, data)["status"])
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
