/*
handlers.go - HTTP API handlers for the reminder engine

PURPOSE:
  Exposes the reminder engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the factory, engine and stores.

ENDPOINTS:
  Reminders:
    GET    /api/users/{uid}/reminders           List records
    PUT    /api/users/{uid}/reminders           Save dialog payload (create/merge)
    GET    /api/users/{uid}/reminders/{key}     Get one record
    DELETE /api/users/{uid}/reminders/{key}     Delete one record
    GET    /api/users/{uid}/reminders/stream    Server-Sent Events
    GET    /api/users/{uid}/reminders.ics       iCalendar feed (?days=30)
    GET    /api/users/{uid}/occurrences         Expanded occurrences (?from=&to=&max=)

  Settings:
    GET/PUT /api/users/{uid}/preferences        Timezone and quiet hours

  Custom events:
    GET/POST /api/users/{uid}/custom-events     List / create or update
    GET/DELETE /api/users/{uid}/custom-events/{id}

  Delivery:
    GET/DELETE /api/users/{uid}/inbox           In-app deliveries
    POST   /api/dispatcher/run                  Run one dispatch tick now
    GET    /api/dispatcher/history              Recent tick reports

  Previews:
    POST   /api/policy/evaluate                 Warnings for a configuration
    POST   /api/identity/match                  Are two events the same?
    GET    /api/permissions/copy                Copy for a permission outcome

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Any engine.Store backend
  - Factory: Dialog JSON to record conversion
  - Prefs: Per-user preference cache shared with the dispatcher
  - Events: Custom events with cascade delete
  - Inbox / Dispatcher: Delivery side

DOCUMENT KEYS:
  Keys contain ':' and may contain spaces; clients path-escape them. The
  {key} parameter is unescaped before lookup.

ERROR HANDLING:
  Errors are returned as JSON {"error","details"} with:
  - 400: Validation errors, invalid input (engine.IsClientError)
  - 404: Record, preferences or custom event not found (engine.IsNotFound)
  - 503: Dispatcher not configured
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"github.com/marketclock/reminder-engine/applog"
	"github.com/marketclock/reminder-engine/calendar"
	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/factory"
	"github.com/marketclock/reminder-engine/ics"
	"github.com/marketclock/reminder-engine/notify"
)

const (
	maxBodyBytes          = 1 << 20
	defaultICSDays        = 30
	maxICSDays            = 366
	defaultOccurrences    = 200
	defaultOccurrenceSpan = 7 * 24 * time.Hour
	nextOccurrenceSpan    = 366 * 24 * time.Hour
	streamHeartbeat       = 25 * time.Second
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options carries the optional collaborators of a Handler. Zero values get
// working defaults.
type Options struct {
	Policy     engine.Policy
	Timezone   string
	Prefs      *engine.PreferenceCache
	Inbox      *notify.InAppInbox
	Dispatcher *notify.Dispatcher
	Clock      clock.Clock
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.Store
	Factory    *factory.RecordFactory
	Prefs      *engine.PreferenceCache
	Events     *calendar.CustomEventService
	Inbox      *notify.InAppInbox
	Dispatcher *notify.Dispatcher
	clock      clock.Clock

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given store.
func NewHandler(store engine.Store, opts Options) *Handler {
	if opts.Policy == (engine.Policy{}) {
		opts.Policy = engine.DefaultPolicy()
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.Prefs == nil {
		opts.Prefs = engine.NewPreferenceCache(store, engine.Preferences{
			Timezone:       opts.Timezone,
			QuietHours:     engine.QuietHours{Start: 22, End: 7},
			QuietHoursMode: engine.QuietHoursSuppress,
		})
	}
	if opts.Inbox == nil {
		opts.Inbox = notify.NewInAppInbox(0)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Handler{
		Store:      store,
		Factory:    factory.NewRecordFactory(opts.Policy, opts.Timezone),
		Prefs:      opts.Prefs,
		Events:     calendar.NewCustomEventService(store, store),
		Inbox:      opts.Inbox,
		Dispatcher: opts.Dispatcher,
		clock:      opts.Clock,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// REMINDER HANDLERS
// =============================================================================

// ListReminders returns all records of a user.
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)
	records, err := h.Store.List(r.Context(), user)
	if err != nil {
		writeEngineError(w, "Failed to list reminders", err)
		return
	}

	nowMs := h.clock.Now().UnixMilli()
	dtos := make([]ReminderDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toReminderDTO(rec, nowMs))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveReminder builds a record from the dialog payload and stores it.
// A new document key answers 201, a merge into an existing one 200.
func (h *Handler) SaveReminder(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Factory.ParseDialog(user, body)
	if err != nil {
		writeEngineError(w, "Invalid reminder", err)
		return
	}

	ctx := r.Context()
	change, err := h.Store.Put(ctx, res.Record)
	if err != nil {
		writeEngineError(w, "Failed to save reminder", err)
		return
	}
	saved := res.Record
	if stored, err := h.Store.Get(ctx, user, res.Record.DocumentKey()); err == nil {
		saved = *stored
	}

	applog.Info("reminder saved", "user", user, "key", saved.DocumentKey(), "change", change,
		"reminders", len(saved.Reminders), "warnings", len(res.Warnings))

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	status := http.StatusOK
	if change == engine.ChangeAdded {
		status = http.StatusCreated
	}
	writeJSON(w, status, SaveReminderResponse{
		Change:   change,
		Reminder: toReminderDTO(saved, h.clock.Now().UnixMilli()),
		Identity: res.Identity,
		Resolved: res.Resolved,
		Warnings: warnings,
	})
}

// GetReminder returns one record by document key.
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.Get(r.Context(), userParam(r), keyParam(r, "key"))
	if err != nil {
		writeEngineError(w, "Failed to get reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, toReminderDTO(*rec, h.clock.Now().UnixMilli()))
}

// DeleteReminder removes one record by document key.
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	user, key := userParam(r), keyParam(r, "key")
	if err := h.Store.Delete(r.Context(), user, key); err != nil {
		writeEngineError(w, "Failed to delete reminder", err)
		return
	}
	applog.Info("reminder deleted", "user", user, "key", key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "documentKey": key})
}

// StreamReminders sends the user's records, then live changes, as
// Server-Sent Events. The event name is the change type.
func (h *Handler) StreamReminders(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	user := userParam(r)
	changes, err := h.Store.Subscribe(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to subscribe", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := h.clock.Ticker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(ChangeDTO{Type: c.Type, Reminder: toReminderDTO(c.Record, h.clock.Now().UnixMilli())})
			if err != nil {
				applog.Error("failed to encode change", err, "user", user)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Type, data)
			flusher.Flush()
		}
	}
}

// ExportICS renders the next ?days (default 30) of occurrences as an
// iCalendar feed.
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	days := defaultICSDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxICSDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxICSDays), err)
			return
		}
		days = n
	}

	ctx := r.Context()
	user := userParam(r)
	records, err := h.Store.List(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to list reminders", err)
		return
	}
	prefs, err := h.Prefs.Get(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to load preferences", err)
		return
	}

	from := h.clock.Now().UTC()
	var buf bytes.Buffer
	err = ics.Write(&buf, records, from, from.AddDate(0, 0, days), ics.Options{
		Name:     "Market reminders",
		Timezone: prefs.Timezone,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render calendar", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reminders.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ListOccurrences expands every enabled record over [from, to] and returns
// the occurrences with their triggers, ordered by time. from defaults to
// now, to to one week later; both accept epoch ms, RFC 3339 or YYYY-MM-DD.
func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := h.clock.Now().UTC()
	from, err := parseInstant(q.Get("from"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := parseInstant(q.Get("to"), from.Add(defaultOccurrenceSpan))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from", nil)
		return
	}
	limit := defaultOccurrences
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > engine.DefaultMaxOccurrences {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("max must be between 1 and %d", engine.DefaultMaxOccurrences), err)
			return
		}
		limit = n
	}

	ctx := r.Context()
	user := userParam(r)
	records, err := h.Store.List(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to list reminders", err)
		return
	}
	prefs, err := h.Prefs.Get(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to load preferences", err)
		return
	}

	out := make([]OccurrenceDTO, 0)
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		out = append(out, toOccurrenceDTOs(rec, from, to, limit, prefs)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EpochMs != out[j].EpochMs {
			return out[i].EpochMs < out[j].EpochMs
		}
		return out[i].DocumentKey < out[j].DocumentKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PREFERENCE HANDLERS
// =============================================================================

// GetPreferences returns stored preferences or the defaults.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.Prefs.Get(r.Context(), userParam(r))
	if err != nil {
		writeEngineError(w, "Failed to load preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PutPreferences validates and stores preferences, then drops the cached
// entry so the next read sees the stored copy.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	user := userParam(r)
	prefs := engine.Preferences{
		UserID:            user,
		Timezone:          strings.TrimSpace(req.Timezone),
		QuietHoursEnabled: req.QuietHoursEnabled,
		QuietHours:        req.QuietHours,
		QuietHoursMode:    engine.ParseQuietHoursMode(req.QuietHoursMode),
	}
	if prefs.Timezone == "" {
		prefs.Timezone = h.Prefs.Defaults().Timezone
	}
	if err := prefs.Validate(); err != nil {
		writeEngineError(w, "Invalid preferences", err)
		return
	}
	if err := h.Prefs.Put(ctx, prefs); err != nil {
		writeEngineError(w, "Failed to save preferences", err)
		return
	}
	h.Prefs.Invalidate(user)

	saved, err := h.Prefs.Get(ctx, user)
	if err != nil {
		writeEngineError(w, "Failed to load preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// =============================================================================
// CUSTOM EVENT HANDLERS
// =============================================================================

// ListCustomEvents returns the user's custom events.
func (h *Handler) ListCustomEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.List(r.Context(), userParam(r))
	if err != nil {
		writeEngineError(w, "Failed to list custom events", err)
		return
	}
	if events == nil {
		events = []engine.CustomEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetCustomEvent returns one custom event.
func (h *Handler) GetCustomEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Events.Get(r.Context(), userParam(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to get custom event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// SaveCustomEvent creates (no id, 201) or replaces (id, 200) a custom event.
func (h *Handler) SaveCustomEvent(w http.ResponseWriter, r *http.Request) {
	var in calendar.CustomEventInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev, err := h.Events.Save(r.Context(), userParam(r), in)
	if err != nil {
		writeEngineError(w, "Failed to save custom event", err)
		return
	}
	status := http.StatusOK
	if in.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, ev)
}

// DeleteCustomEvent removes a custom event and the reminders attached to it.
func (h *Handler) DeleteCustomEvent(w http.ResponseWriter, r *http.Request) {
	user, id := userParam(r), chi.URLParam(r, "id")
	removed, err := h.Events.Delete(r.Context(), user, id)
	if err != nil {
		writeEngineError(w, "Failed to delete custom event", err)
		return
	}
	applog.Info("custom event deleted", "user", user, "id", id, "removedReminders", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "deleted",
		"id":               id,
		"removedReminders": removed,
	})
}

// =============================================================================
// DELIVERY HANDLERS
// =============================================================================

// ListInbox returns the user's in-app deliveries, oldest first.
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Inbox.List(userParam(r)))
}

// ClearInbox empties the user's in-app deliveries.
func (h *Handler) ClearInbox(w http.ResponseWriter, r *http.Request) {
	h.Inbox.Clear(userParam(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// RunDispatcher runs one dispatch tick immediately.
func (h *Handler) RunDispatcher(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "Dispatcher is not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Dispatcher.RunOnce(r.Context()))
}

// DispatcherHistory returns the most recent tick reports.
func (h *Handler) DispatcherHistory(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		writeJSON(w, http.StatusOK, []notify.RunReport{})
		return
	}
	writeJSON(w, http.StatusOK, h.Dispatcher.History())
}

// =============================================================================
// PREVIEW HANDLERS
// =============================================================================

// EvaluatePolicy previews the warnings for a reminder configuration.
func (h *Handler) EvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	var req EvaluatePolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.Evaluate(req.Reminders, req.Recurrence))
}

// MatchIdentity reports whether two loosely typed events are the same
// economic event.
func (h *Handler) MatchIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.A == nil || req.B == nil {
		writeError(w, http.StatusBadRequest, "Both a and b are required", nil)
		return
	}

	a, b := engine.RawEvent(req.A), engine.RawEvent(req.B)
	idA, okA := engine.Resolve(a)
	idB, okB := engine.Resolve(b)
	writeJSON(w, http.StatusOK, IdentityMatchResponse{
		SameEvent: engine.SameEvent(a, b),
		A:         idA,
		B:         idB,
		ResolvedA: okA,
		ResolvedB: okB,
	})
}

// PermissionCopy returns the user-facing copy for a permission outcome.
func (h *Handler) PermissionCopy(w http.ResponseWriter, r *http.Request) {
	kind, outcome := r.URL.Query().Get("kind"), r.URL.Query().Get("outcome")
	msg, ok := notify.PermissionMessage(kind, outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be browser or push", nil)
		return
	}
	writeJSON(w, http.StatusOK, PermissionCopyDTO{
		Kind:    strings.ToLower(strings.TrimSpace(kind)),
		Outcome: strings.ToLower(strings.TrimSpace(outcome)),
		Message: msg,
		Usable:  notify.PermissionUsable(kind, outcome),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError picks the status from the error kind.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		applog.Error(message, err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func userParam(r *http.Request) engine.UserID {
	return engine.UserID(strings.TrimSpace(chi.URLParam(r, "uid")))
}

// keyParam returns a path parameter with percent-escapes removed.
func keyParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

// parseInstant accepts epoch milliseconds, RFC 3339 or a UTC date.
func parseInstant(s string, def time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(engine.DateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not epoch ms, RFC 3339 or YYYY-MM-DD", s)
}

func toReminderDTO(rec engine.ReminderRecord, nowMs int64) ReminderDTO {
	dto := ReminderDTO{ReminderRecord: rec, DocumentKey: rec.DocumentKey()}
	if rec.Enabled {
		next := engine.Expand(rec, nowMs, nowMs+nextOccurrenceSpan.Milliseconds(), 1)
		if len(next) > 0 {
			ms := next[0].EpochMs
			dto.NextOccurrenceMs = &ms
		}
	}
	return dto
}

func toOccurrenceDTOs(rec engine.ReminderRecord, from, to time.Time, limit int, prefs engine.Preferences) []OccurrenceDTO {
	occs := engine.Expand(rec, from.UnixMilli(), to.UnixMilli(), limit)
	if len(occs) == 0 {
		return nil
	}

	byOccurrence := make(map[string][]TriggerDTO, len(occs))
	for _, t := range engine.Triggers(rec, occs) {
		byOccurrence[t.OccurrenceKey] = append(byOccurrence[t.OccurrenceKey], TriggerDTO{
			FireAtMs:      t.FireAtMs,
			FireAt:        time.UnixMilli(t.FireAtMs).UTC().Format(time.RFC3339),
			MinutesBefore: t.MinutesBefore,
			Channels:      t.Channels,
			InQuietHours: prefs.QuietHoursEnabled &&
				engine.IsWithinQuietHours(t.FireAtMs, prefs.Timezone, prefs.QuietHours),
		})
	}

	loc := engine.LocationOrUTC(prefs.Timezone)
	title := rec.Metadata.Title
	if title == "" {
		title = rec.EventKey
	}
	out := make([]OccurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		triggers := byOccurrence[occ.Key]
		if triggers == nil {
			triggers = []TriggerDTO{}
		}
		out = append(out, OccurrenceDTO{
			DocumentKey:   rec.DocumentKey(),
			Title:         title,
			OccurrenceKey: occ.Key,
			EpochMs:       occ.EpochMs,
			Time:          occ.Time().UTC().Format(time.RFC3339),
			LocalTime:     occ.Time().In(loc).Format("2006-01-02 15:04 MST"),
			Triggers:      triggers,
		})
	}
	return out
}
