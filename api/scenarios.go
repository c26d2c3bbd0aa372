/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a user's namespace with
	realistic reminders. Each scenario goes through the same dialog payload
	path as the web client, so it exercises the factory, the policy engine
	and the store exactly like real saves.

AVAILABLE SCENARIOS:

	economic-week:   NFP, CPI and FOMC reminders with impact-based offsets
	market-sessions: Daily London, New York and Tokyo open reminders
	trading-journal: A weekly custom event with its linked reminder and
	                 quiet hours that downgrade to in-app
	noisy-alerts:    A 5-minute repeat on every channel, to show the
	                 policy warnings

HOW SCENARIOS WORK:
 1. Clear the user's reminders, custom events, inbox and cached settings
 2. Build dialog payloads with calendar presets, timed relative to now
 3. Save them through the factory
 4. Report counts and the warnings each save produced

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "economic-week", "user_id": "demo-trader"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, user, now)
 3. Add it to the loaders map

NOTE:

	Scenarios wipe the target user's data. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Handler and helpers
  - calendar/presets.go: Dialog payload presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/marketclock/reminder-engine/calendar"
	"github.com/marketclock/reminder-engine/engine"
)

// DefaultScenarioUser receives scenarios loaded without a user id.
const DefaultScenarioUser engine.UserID = "demo-trader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "economic-week",
		Name:        "Economic Week",
		Description: "NFP, CPI and a recurring FOMC series with impact-based reminder offsets",
		Category:    "calendar",
	},
	{
		ID:          "market-sessions",
		Name:        "Market Sessions",
		Description: "Daily London, New York and Tokyo opens that follow each exchange's DST",
		Category:    "sessions",
	},
	{
		ID:          "trading-journal",
		Name:        "Trading Journal",
		Description: "Weekly custom check-in for 4 weeks with quiet hours downgraded to in-app",
		Category:    "custom",
	},
	{
		ID:          "noisy-alerts",
		Name:        "Noisy Alerts",
		Description: "5-minute repeat on every channel with too many reminders (policy warnings)",
		Category:    "policy",
	},
}

// scenarioResult accumulates what a loader created.
type scenarioResult struct {
	reminders int
	events    int
	warnings  map[string][]string
}

type scenarioLoader func(h *Handler, ctx context.Context, user engine.UserID, now time.Time, res *scenarioResult) error

var loaders = map[string]scenarioLoader{
	"economic-week":   (*Handler).loadEconomicWeekScenario,
	"market-sessions": (*Handler).loadMarketSessionsScenario,
	"trading-journal": (*Handler).loadTradingJournalScenario,
	"noisy-alerts":    (*Handler).loadNoisyAlertsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario for one user.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	user := engine.UserID(strings.TrimSpace(req.UserID))
	if user == "" {
		user = DefaultScenarioUser
	}

	ctx := r.Context()
	if err := h.clearUser(ctx, user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear user data", err)
		return
	}

	now := h.clock.Now().UTC()
	res := &scenarioResult{warnings: make(map[string][]string)}
	if err := load(h, ctx, user, now, res); err != nil {
		writeEngineError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Status:    "loaded",
		Scenario:  req.ScenarioID,
		UserID:    user,
		Reminders: res.reminders,
		Events:    res.events,
		Warnings:  res.warnings,
		LoadedAt:  now,
	})
}

// clearUser removes everything a scenario may have created for user.
func (h *Handler) clearUser(ctx context.Context, user engine.UserID) error {
	events, err := h.Events.List(ctx, user)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if _, err := h.Events.Delete(ctx, user, ev.ID); err != nil && !engine.IsNotFound(err) {
			return err
		}
	}

	records, err := h.Store.List(ctx, user)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := h.Store.Delete(ctx, user, rec.DocumentKey()); err != nil && !engine.IsNotFound(err) {
			return err
		}
	}

	h.Inbox.Clear(user)
	h.Prefs.Invalidate(user)
	return nil
}

// saveDialog runs a dialog payload through the factory and stores it.
func (h *Handler) saveDialog(ctx context.Context, user engine.UserID, payload string, res *scenarioResult) error {
	built, err := h.Factory.ParseDialog(user, []byte(payload))
	if err != nil {
		return err
	}
	if _, err := h.Store.Put(ctx, built.Record); err != nil {
		return err
	}
	res.reminders++
	if len(built.Warnings) > 0 {
		res.warnings[built.Record.DocumentKey()] = built.Warnings
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEconomicWeekScenario(ctx context.Context, user engine.UserID, now time.Time, res *scenarioResult) error {
	// Releases land on the coming weekdays at their usual New York times
	ny, err := engine.LoadLocation("America/New_York")
	if err != nil {
		return err
	}
	releases := []calendar.Release{
		{
			EventID:  "nfp-demo",
			Name:     "Non-Farm Payrolls",
			Currency: "USD",
			EpochMs:  nextWeekdayAt(now, time.Friday, 8, 30, ny).UnixMilli(),
			Impact:   calendar.ImpactHigh,
			Category: calendar.CategoryEmployment,
		},
		{
			EventID:  "cpi-demo",
			Name:     "CPI m/m",
			Currency: "USD",
			EpochMs:  nextWeekdayAt(now, time.Wednesday, 8, 30, ny).UnixMilli(),
			Impact:   calendar.ImpactHigh,
			Category: calendar.CategoryInflation,
		},
		{
			EventID:  "claims-demo",
			Name:     "Unemployment Claims",
			Currency: "USD",
			EpochMs:  nextWeekdayAt(now, time.Thursday, 8, 30, ny).UnixMilli(),
			Impact:   calendar.ImpactMedium,
			Category: calendar.CategoryEmployment,
		},
	}
	for _, rel := range releases {
		if err := h.saveDialog(ctx, user, calendar.EconomicReleaseJSON(rel, "America/New_York"), res); err != nil {
			return fmt.Errorf("failed to save %s: %w", rel.Name, err)
		}
	}

	fomc := calendar.Release{
		Name:     "FOMC Statement",
		Currency: "USD",
		EpochMs:  nextWeekdayAt(now, time.Wednesday, 14, 0, ny).UnixMilli(),
		Impact:   calendar.ImpactHigh,
		Category: calendar.CategoryCentralBank,
	}
	return h.saveDialog(ctx, user, calendar.SeriesReleaseJSON(fomc, "America/New_York", 30), res)
}

func (h *Handler) loadMarketSessionsScenario(ctx context.Context, user engine.UserID, _ time.Time, res *scenarioResult) error {
	for _, s := range []calendar.MarketSession{calendar.SessionLondon, calendar.SessionNewYork, calendar.SessionTokyo} {
		if err := h.saveDialog(ctx, user, calendar.MarketSessionJSON(s, 15), res); err != nil {
			return fmt.Errorf("failed to save %s: %w", s.Name, err)
		}
	}
	return nil
}

func (h *Handler) loadTradingJournalScenario(ctx context.Context, user engine.UserID, now time.Time, res *scenarioResult) error {
	const tz = "America/New_York"
	ny, err := engine.LoadLocation(tz)
	if err != nil {
		return err
	}
	first := nextWeekdayAt(now, time.Friday, 17, 0, ny)
	in := calendar.CustomEventInput{
		Title:       "Weekly trading journal",
		Description: "Review the week's trades and update the plan",
		Color:       "#7c3aed",
		Icon:        "notebook",
		LocalDate:   first.Format(engine.DateLayout),
		LocalTime:   first.Format(engine.ClockLayout),
		Timezone:    tz,
		Recurrence: engine.RecurrenceDefinition{
			Enabled:  true,
			Interval: engine.Interval1W,
			Ends:     engine.Ends{Type: engine.EndsAfter, Count: 4},
		},
	}
	ev, err := h.Events.Save(ctx, user, in)
	if err != nil {
		return err
	}
	res.events++

	in.ID = ev.ID
	if err := h.saveDialog(ctx, user, calendar.CheckInJSON(in, string(engine.Interval1W), 4), res); err != nil {
		return err
	}

	prefs := engine.Preferences{
		UserID:            user,
		Timezone:          tz,
		QuietHoursEnabled: true,
		QuietHours:        engine.QuietHours{Start: 22, End: 7},
		QuietHoursMode:    engine.QuietHoursDowngrade,
	}
	if err := h.Prefs.Put(ctx, prefs); err != nil {
		return err
	}
	h.Prefs.Invalidate(user)
	return nil
}

func (h *Handler) loadNoisyAlertsScenario(ctx context.Context, user engine.UserID, now time.Time, res *scenarioResult) error {
	start := now.Truncate(time.Hour).Add(time.Hour)
	payload := fmt.Sprintf(`{
  "scope": "event",
  "timezone": "UTC",
  "custom": {"title": "Scalping window", "localDate": %q, "localTime": %q},
  "reminders": [
    {"minutesBefore": 0, "channels": {"inApp": true, "browser": true, "push": true}},
    {"minutesBefore": 1, "channels": {"inApp": true, "browser": true, "push": true}},
    {"minutesBefore": 2, "channels": {"inApp": true, "browser": true, "push": true}},
    {"minutesBefore": 3, "channels": {"inApp": true, "browser": true, "push": true}},
    {"minutesBefore": "4", "channels": {"inApp": true}}
  ],
  "recurrence": {"enabled": true, "interval": "5m", "ends": {"type": "never"}}
}`, start.Format(engine.DateLayout), start.Format(engine.ClockLayout))
	return h.saveDialog(ctx, user, payload, res)
}

// nextWeekdayAt returns the first instant strictly after now that falls on
// wd at hour:minute in loc.
func nextWeekdayAt(now time.Time, wd time.Weekday, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for t.Weekday() != wd || !t.After(now) {
		t = time.Date(t.Year(), t.Month(), t.Day()+1, hour, minute, 0, 0, loc)
	}
	return t
}
