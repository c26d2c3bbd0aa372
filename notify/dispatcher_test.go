package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
	"github.com/marketclock/reminder-engine/notify"
)

var release = time.Date(2025, 1, 10, 13, 30, 0, 0, time.UTC)

// recorder is a Sender that keeps what it was given.
type recorder struct {
	mu   sync.Mutex
	sent []notify.Delivery
	err  error
}

func (r *recorder) Send(_ context.Context, d notify.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, d)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fixture struct {
	mem     *store.Memory
	clock   *clock.Mock
	inbox   *notify.InAppInbox
	push    *recorder
	browser *recorder
	prefs   *engine.PreferenceCache
	d       *notify.Dispatcher
}

func newFixture(t *testing.T, policy engine.Policy) *fixture {
	t.Helper()
	f := &fixture{
		mem:     store.NewMemory(),
		clock:   clock.NewMock(),
		inbox:   notify.NewInAppInbox(0),
		push:    &recorder{},
		browser: &recorder{},
	}
	t.Cleanup(func() { f.mem.Close() })
	f.prefs = engine.NewPreferenceCache(f.mem, engine.Preferences{Timezone: "UTC"})
	f.d = notify.NewDispatcher(f.mem, f.prefs, policy, f.clock, map[engine.Channel]notify.Sender{
		engine.ChannelInApp:   f.inbox,
		engine.ChannelPush:    f.push,
		engine.ChannelBrowser: f.browser,
	}, notify.Options{})
	return f
}

func (f *fixture) put(t *testing.T, key string, at time.Time, reminders ...engine.Reminder) engine.ReminderRecord {
	t.Helper()
	ms := at.UnixMilli()
	rec := engine.ReminderRecord{
		UserID:       "u1",
		EventKey:     key,
		SeriesKey:    key + ":series",
		Scope:        engine.ScopeEvent,
		EventEpochMs: &ms,
		Timezone:     "UTC",
		Reminders:    reminders,
		Enabled:      true,
		Metadata:     engine.Metadata{Title: key},
	}.Normalized()
	_, err := f.mem.Put(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func (f *fixture) runAt(t time.Time) notify.RunReport {
	f.clock.Set(t)
	return f.d.RunOnce(context.Background())
}

func TestDispatcher_FiresEachTriggerOnceInItsWindow(t *testing.T) {
	// GIVEN: NFP with a 30-minute heads-up (in-app + push) and a 5-minute call (in-app)
	f := newFixture(t, engine.DefaultPolicy())
	f.put(t, "calendar:nfp", release,
		engine.Reminder{MinutesBefore: 30, Channels: engine.Channels{InApp: true, Push: true}},
		engine.Reminder{MinutesBefore: 5, Channels: engine.Channels{InApp: true}},
	)

	// WHEN/THEN: Nothing is due before 13:00
	r := f.runAt(release.Add(-31 * time.Minute))
	assert.Equal(t, 0, r.Due)

	// WHEN/THEN: The tick covering 13:00 delivers the heads-up on both channels
	r = f.runAt(release.Add(-29*time.Minute - 30*time.Second))
	assert.Equal(t, 1, r.Due)
	assert.Equal(t, 2, r.Delivered)
	assert.Equal(t, 1, f.push.count())

	// WHEN/THEN: The tick covering 13:25 delivers the last call in-app only
	r = f.runAt(release.Add(-5 * time.Minute))
	assert.Equal(t, 1, r.Due)
	assert.Equal(t, 1, r.Delivered)

	// WHEN/THEN: Later ticks deliver nothing new
	r = f.runAt(release.Add(time.Minute))
	assert.Equal(t, 0, r.Due)

	inbox := f.inbox.List("u1")
	require.Len(t, inbox, 2)
	assert.Equal(t, 30, inbox[0].MinutesBefore)
	assert.Equal(t, 5, inbox[1].MinutesBefore)
	assert.Equal(t, "calendar:nfp", inbox[0].OccurrenceKey)
	assert.Equal(t, release.UnixMilli(), inbox[0].OccurrenceEpochMs)
	assert.NotEmpty(t, inbox[0].ID)
	assert.Len(t, f.d.History(), 4)
}

func TestDispatcher_FiresRemindersDaysAhead(t *testing.T) {
	// GIVEN: NFP with a one-week push reminder and a two-day in-app reminder
	f := newFixture(t, engine.DefaultPolicy())
	f.put(t, "calendar:nfp", release,
		engine.Reminder{MinutesBefore: 2 * 24 * 60, Channels: engine.Channels{InApp: true}},
		engine.Reminder{MinutesBefore: 7 * 24 * 60, Channels: engine.Channels{Push: true}},
	)
	weekBefore := release.Add(-7 * 24 * time.Hour)
	twoDaysBefore := release.Add(-2 * 24 * time.Hour)

	// WHEN/THEN: The tick covering the week-ahead fire time delivers push
	r := f.runAt(weekBefore.Add(-time.Minute))
	assert.Equal(t, 0, r.Due)
	r = f.runAt(weekBefore.Add(30 * time.Second))
	assert.Equal(t, 1, r.Due)
	assert.Equal(t, 1, r.Delivered)
	assert.Equal(t, 1, f.push.count())

	// WHEN/THEN: The long gap until two days before delivers nothing early
	r = f.runAt(twoDaysBefore.Add(-time.Minute))
	assert.Equal(t, 0, r.Due)

	// WHEN/THEN: The tick straddling the two-day fire time delivers in-app
	r = f.runAt(twoDaysBefore.Add(30 * time.Second))
	assert.Equal(t, 1, r.Due)
	assert.Equal(t, 1, r.Delivered)

	inbox := f.inbox.List("u1")
	require.Len(t, inbox, 1)
	assert.Equal(t, 2*24*60, inbox[0].MinutesBefore)
	assert.Equal(t, twoDaysBefore.UnixMilli(), inbox[0].FireAtMs)
}

func TestDispatcher_RecurringRecord(t *testing.T) {
	// GIVEN: An hourly reminder anchored at 09:00 with a 10-minute offset
	f := newFixture(t, engine.DefaultPolicy())
	anchor := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	rec := f.put(t, "custom:hourly", anchor, engine.Reminder{MinutesBefore: 10, Channels: engine.Channels{InApp: true}})
	rec.Metadata.Recurrence = engine.RecurrenceDefinition{Enabled: true, Interval: engine.Interval1h, Ends: engine.Ends{Type: engine.EndsNever}}
	_, err := f.mem.Put(context.Background(), rec)
	require.NoError(t, err)

	// WHEN: Ticks run every 30 minutes from 10:00 to 12:00
	f.runAt(time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC))
	delivered := 0
	for tick := 1; tick <= 4; tick++ {
		r := f.runAt(time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC).Add(time.Duration(tick) * 30 * time.Minute))
		delivered += r.Delivered
	}

	// THEN: The 10:50 and 11:50 triggers fired, keyed by occurrence
	assert.Equal(t, 2, delivered)
	inbox := f.inbox.List("u1")
	require.Len(t, inbox, 2)
	assert.Equal(t, engine.OccurrenceKey("custom:hourly", time.Date(2025, 1, 10, 11, 0, 0, 0, time.UTC).UnixMilli()), inbox[0].OccurrenceKey)
}

func TestDispatcher_QuietHours(t *testing.T) {
	night := time.Date(2025, 1, 10, 23, 0, 0, 0, time.UTC)
	push := engine.Reminder{MinutesBefore: 0, Channels: engine.Channels{Push: true, Browser: true}}

	tests := []struct {
		mode          engine.QuietHoursMode
		wantInApp     int
		wantPush      int
		wantSuppress  int
		wantDowngrade int
	}{
		{engine.QuietHoursSuppress, 0, 0, 1, 0},
		{engine.QuietHoursDowngrade, 1, 0, 0, 1},
		{engine.QuietHoursDeliver, 0, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			// GIVEN: Quiet hours 22-07 UTC in the given mode
			f := newFixture(t, engine.DefaultPolicy())
			require.NoError(t, f.prefs.Put(context.Background(), engine.Preferences{
				UserID:            "u1",
				Timezone:          "UTC",
				QuietHoursEnabled: true,
				QuietHours:        engine.QuietHours{Start: 22, End: 7},
				QuietHoursMode:    tt.mode,
			}))
			f.put(t, "calendar:late", night, push)

			// WHEN: The 23:00 trigger comes due
			r := f.runAt(night.Add(30 * time.Second))

			// THEN: It is suppressed, downgraded to in-app or delivered as configured
			assert.Equal(t, tt.wantSuppress, r.Suppressed)
			assert.Equal(t, tt.wantDowngrade, r.Downgraded)
			assert.Len(t, f.inbox.List("u1"), tt.wantInApp)
			assert.Equal(t, tt.wantPush, f.push.count())
			if tt.wantInApp > 0 {
				assert.True(t, f.inbox.List("u1")[0].Downgraded)
			}
		})
	}
}

func TestDispatcher_DailyCap(t *testing.T) {
	// GIVEN: A cap of two deliveries per day and three due reminders
	policy := engine.DefaultPolicy()
	policy.DailyReminderCap = 2
	f := newFixture(t, policy)
	inApp := engine.Reminder{MinutesBefore: 0, Channels: engine.Channels{InApp: true}}
	f.put(t, "calendar:a", release, inApp)
	f.put(t, "calendar:b", release, inApp)
	f.put(t, "calendar:c", release, inApp)

	// WHEN: They come due together
	r := f.runAt(release.Add(10 * time.Second))

	// THEN: Two are delivered and one is capped
	assert.Equal(t, 3, r.Due)
	assert.Equal(t, 2, r.Delivered)
	assert.Equal(t, 1, r.Capped)
}

func TestDispatcher_ThrottlesRepeatAfterClockSkew(t *testing.T) {
	// GIVEN: A delivered trigger
	f := newFixture(t, engine.DefaultPolicy())
	f.put(t, "calendar:nfp", release, engine.Reminder{MinutesBefore: 0, Channels: engine.Channels{InApp: true}})
	r := f.runAt(release.Add(20 * time.Second))
	require.Equal(t, 1, r.Delivered)

	// WHEN: The clock steps back, then forward over the same trigger again
	r = f.runAt(release.Add(-time.Minute))
	require.Equal(t, 0, r.Due)
	r = f.runAt(release.Add(30 * time.Second))

	// THEN: The repeat is held back by the throttle window
	assert.Equal(t, 1, r.Due)
	assert.Equal(t, 0, r.Delivered)
	assert.Equal(t, 1, r.Throttled)
	assert.Len(t, f.inbox.List("u1"), 1)
}

func TestDispatcher_SendFailuresAreReported(t *testing.T) {
	f := newFixture(t, engine.DefaultPolicy())
	f.push.err = errors.New("gateway down")
	f.put(t, "calendar:nfp", release, engine.Reminder{MinutesBefore: 0, Channels: engine.Channels{InApp: true, Push: true}})

	r := f.runAt(release.Add(time.Second))

	assert.Equal(t, 1, r.Delivered)
	assert.Equal(t, 1, r.Failed)
	assert.Contains(t, r.Errors, "gateway down")
}

func TestDispatcher_SkipsDisabledRecords(t *testing.T) {
	f := newFixture(t, engine.DefaultPolicy())
	rec := f.put(t, "calendar:nfp", release, engine.Reminder{MinutesBefore: 0, Channels: engine.Channels{InApp: true}})
	rec.Enabled = false
	_, err := f.mem.Put(context.Background(), rec)
	require.NoError(t, err)

	r := f.runAt(release.Add(time.Second))

	assert.Equal(t, 0, r.Records)
	assert.Equal(t, 0, r.Due)
}

func TestDispatcher_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, engine.DefaultPolicy())
	assert.Error(t, f.d.Start(context.Background(), "every now and then"))
}

func TestDispatcher_StartAndStop(t *testing.T) {
	f := newFixture(t, engine.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.d.Start(ctx, "@every 1h"))
	f.d.Stop()
	f.d.Stop()
}
