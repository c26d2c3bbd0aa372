/*
dispatcher.go - Periodic reminder dispatch

PURPOSE:
  On every tick, finds the reminder triggers that became due since the
  previous tick and delivers them on their channels.

DESIGN:
  - Runs on a cron schedule (robfig/cron); time comes from an injected
    clock so tests drive ticks by hand
  - Due window is (previous tick, now]. The first tick looks back one
    CatchUp interval
  - Each reminder offset expands only the occurrences whose trigger can
    fall in the due window, so any lead time works at bounded cost
  - Per user: quiet hours (suppress, downgrade to in-app, or deliver),
    then the daily delivery cap
  - Per trigger and channel: the policy throttle window

USAGE:
  d := notify.NewDispatcher(store, prefs, policy, clock.New(), senders, notify.Options{})
  d.Start(ctx, "@every 1m")
  defer d.Stop()

SEE ALSO:
  - engine/recurrence.go: Expand and Triggers
  - engine/policy.go: Throttled and IsWithinQuietHours
*/
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/marketclock/reminder-engine/applog"
	"github.com/marketclock/reminder-engine/engine"
)

// DefaultCatchUp is how far the first tick looks back.
const DefaultCatchUp = time.Minute

// Options tunes a Dispatcher. Zero values take the defaults.
type Options struct {
	CatchUp time.Duration
}

// RunReport summarizes one tick.
type RunReport struct {
	StartedAt     time.Time `json:"startedAt"`
	WindowStartMs int64     `json:"windowStartMs"`
	WindowEndMs   int64     `json:"windowEndMs"`
	Users         int       `json:"users"`
	Records       int       `json:"records"`
	Due           int       `json:"due"`
	Delivered     int       `json:"delivered"`
	Suppressed    int       `json:"suppressed"`
	Downgraded    int       `json:"downgraded"`
	Throttled     int       `json:"throttled"`
	Capped        int       `json:"capped"`
	Failed        int       `json:"failed"`
	Errors        []string  `json:"errors,omitempty"`
}

// Dispatcher delivers due reminder triggers.
type Dispatcher struct {
	records engine.RecordStore
	prefs   *engine.PreferenceCache
	policy  engine.Policy
	clock   clock.Clock
	senders map[engine.Channel]Sender
	opts    Options

	mu        sync.Mutex
	lastTick  time.Time
	lastFired map[string]int64
	daily     map[string]int
	history   []RunReport
	cron      *cron.Cron
}

// NewDispatcher creates a dispatcher. Channels without a sender are
// counted as failed deliveries.
func NewDispatcher(records engine.RecordStore, prefs *engine.PreferenceCache, policy engine.Policy,
	clk clock.Clock, senders map[engine.Channel]Sender, opts Options) *Dispatcher {
	if opts.CatchUp <= 0 {
		opts.CatchUp = DefaultCatchUp
	}
	return &Dispatcher{
		records:   records,
		prefs:     prefs,
		policy:    policy,
		clock:     clk,
		senders:   senders,
		opts:      opts,
		lastFired: make(map[string]int64),
		daily:     make(map[string]int),
	}
}

// Start runs RunOnce on the cron schedule until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		report := d.RunOnce(ctx)
		if report.Due > 0 || report.Failed > 0 {
			applog.Info("[Dispatcher] tick",
				"users", report.Users, "due", report.Due, "delivered", report.Delivered,
				"suppressed", report.Suppressed, "downgraded", report.Downgraded,
				"throttled", report.Throttled, "capped", report.Capped, "failed", report.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid dispatcher schedule %q: %w", schedule, err)
	}

	d.mu.Lock()
	d.cron = c
	d.mu.Unlock()

	c.Start()
	applog.Info("[Dispatcher] started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		applog.Info("[Dispatcher] stopped")
	}
}

// History returns the most recent reports, oldest first.
func (d *Dispatcher) History() []RunReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RunReport, len(d.history))
	copy(out, d.history)
	return out
}

const historySize = 20

// RunOnce delivers every trigger due since the previous tick.
func (d *Dispatcher) RunOnce(ctx context.Context) RunReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now().UTC()
	from := d.lastTick
	if from.IsZero() || from.After(now) {
		from = now.Add(-d.opts.CatchUp)
	}
	report := RunReport{
		StartedAt:     now,
		WindowStartMs: from.UnixMilli(),
		WindowEndMs:   now.UnixMilli(),
	}

	users, err := d.records.ListUsers(ctx)
	if err != nil {
		applog.Error("[Dispatcher] failed to list users", err)
		report.Errors = append(report.Errors, err.Error())
		d.finish(report, now)
		return report
	}
	report.Users = len(users)

	for _, user := range users {
		if err := d.dispatchUser(ctx, user, &report); err != nil {
			applog.Error("[Dispatcher] failed to dispatch user", err, "user", user)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", user, err))
		}
	}

	d.finish(report, now)
	return report
}

func (d *Dispatcher) finish(report RunReport, now time.Time) {
	d.lastTick = now
	d.history = append(d.history, report)
	if len(d.history) > historySize {
		d.history = d.history[len(d.history)-historySize:]
	}
	d.prune(now)
}

func (d *Dispatcher) dispatchUser(ctx context.Context, user engine.UserID, report *RunReport) error {
	prefs, err := d.prefs.Get(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	records, err := d.records.List(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	fromMs, nowMs := report.WindowStartMs, report.WindowEndMs
	for _, rec := range records {
		if !rec.Enabled || len(rec.Reminders) == 0 {
			continue
		}
		report.Records++

		for _, trig := range dueTriggers(rec, fromMs, nowMs) {
			report.Due++
			d.deliver(ctx, rec, trig, prefs, nowMs, report)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, rec engine.ReminderRecord, trig engine.Trigger,
	prefs engine.Preferences, nowMs int64, report *RunReport) {
	channels := trig.Channels
	downgraded := false

	if prefs.QuietHoursEnabled && engine.IsWithinQuietHours(trig.FireAtMs, prefs.Timezone, prefs.QuietHours) {
		switch prefs.QuietHoursMode {
		case engine.QuietHoursDeliver:
		case engine.QuietHoursDowngrade:
			channels = engine.Channels{InApp: true}
			downgraded = true
			report.Downgraded++
		default:
			report.Suppressed++
			return
		}
	}

	dayKey := string(rec.UserID) + "|" + engine.UTCDateKey(time.UnixMilli(nowMs).UTC())
	for _, ch := range channels.List() {
		throttleKey := string(rec.UserID) + "|" + rec.DocumentKey() + "|" + trig.Key() + "|" + string(ch)
		if d.policy.Throttled(d.lastFired[throttleKey], nowMs) {
			report.Throttled++
			continue
		}
		if d.policy.DailyReminderCap > 0 && d.daily[dayKey] >= d.policy.DailyReminderCap {
			report.Capped++
			continue
		}

		sender, ok := d.senders[ch]
		if !ok {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("no sender for channel %s", ch))
			continue
		}
		delivery := Delivery{
			ID:                uuid.NewString(),
			UserID:            rec.UserID,
			DocumentKey:       rec.DocumentKey(),
			Title:             rec.Metadata.Title,
			Channel:           ch,
			OccurrenceKey:     trig.OccurrenceKey,
			OccurrenceEpochMs: trig.OccurrenceEpochMs,
			FireAtMs:          trig.FireAtMs,
			MinutesBefore:     trig.MinutesBefore,
			Downgraded:        downgraded,
			SentAt:            time.UnixMilli(nowMs).UTC(),
		}
		if err := sender.Send(ctx, delivery); err != nil {
			applog.Error("[Dispatcher] send failed", err, "user", rec.UserID, "channel", ch)
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		d.lastFired[throttleKey] = nowMs
		d.daily[dayKey]++
		report.Delivered++
	}
}

// prune drops throttle entries older than the window and counters for
// days other than today.
func (d *Dispatcher) prune(now time.Time) {
	for k, at := range d.lastFired {
		if now.Sub(time.UnixMilli(at)) >= d.policy.ThrottleWindow {
			delete(d.lastFired, k)
		}
	}
	today := engine.UTCDateKey(now)
	for k := range d.daily {
		if len(k) < len(today) || k[len(k)-len(today):] != today {
			delete(d.daily, k)
		}
	}
}

// dueTriggers returns the triggers of rec firing in (fromMs, nowMs],
// ordered by fire time. A reminder lead minutes before its occurrence is due
// only for occurrences in (fromMs+lead, nowMs+lead], so each offset expands
// a window as wide as the tick.
func dueTriggers(rec engine.ReminderRecord, fromMs, nowMs int64) []engine.Trigger {
	var out []engine.Trigger
	for _, r := range rec.Reminders {
		if !r.Channels.Any() {
			continue
		}
		lead := int64(r.MinutesBefore) * time.Minute.Milliseconds()
		occs := engine.Expand(rec, fromMs+lead+1, nowMs+lead, 0)

		single := rec
		single.Reminders = []engine.Reminder{r}
		for _, trig := range engine.Triggers(single, occs) {
			if trig.FireAtMs > fromMs && trig.FireAtMs <= nowMs {
				out = append(out, trig)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAtMs < out[j].FireAtMs })
	return out
}
