/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine types already
  carry JSON tags, so most responses embed them and add the derived fields
  a client would otherwise recompute (document key, next occurrence).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reminders:     ReminderDTO, SaveReminderResponse
  Occurrences:   OccurrenceDTO, TriggerDTO
  Preferences:   PreferencesRequest
  Policy:        EvaluatePolicyRequest (response is factory.PolicyEvaluation)
  Identity:      IdentityMatchRequest, IdentityMatchResponse
  Permissions:   PermissionCopyDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - factory/record.go: Dialog payload schema
*/
package api

import (
	"time"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/factory"
)

// =============================================================================
// REMINDERS
// =============================================================================

// ReminderDTO is a stored record plus derived fields.
type ReminderDTO struct {
	engine.ReminderRecord
	DocumentKey      string `json:"documentKey"`
	NextOccurrenceMs *int64 `json:"nextOccurrenceMs,omitempty"`
}

// SaveReminderResponse is returned after a dialog save.
type SaveReminderResponse struct {
	Change   engine.ChangeType    `json:"change"`
	Reminder ReminderDTO          `json:"reminder"`
	Identity engine.EventIdentity `json:"identity"`
	Resolved bool                 `json:"resolved"`
	Warnings []string             `json:"warnings"`
}

// ChangeDTO is the data line of one stream event.
type ChangeDTO struct {
	Type     engine.ChangeType `json:"type"`
	Reminder ReminderDTO       `json:"reminder"`
}

// =============================================================================
// OCCURRENCES
// =============================================================================

// TriggerDTO is one reminder firing for an occurrence.
type TriggerDTO struct {
	FireAtMs      int64           `json:"fireAtMs"`
	FireAt        string          `json:"fireAt"`
	MinutesBefore int             `json:"minutesBefore"`
	Channels      engine.Channels `json:"channels"`
	InQuietHours  bool            `json:"inQuietHours"`
}

// OccurrenceDTO is one concrete instant of a record.
type OccurrenceDTO struct {
	DocumentKey   string       `json:"documentKey"`
	Title         string       `json:"title"`
	OccurrenceKey string       `json:"occurrenceKey"`
	EpochMs       int64        `json:"epochMs"`
	Time          string       `json:"time"`
	LocalTime     string       `json:"localTime"`
	Triggers      []TriggerDTO `json:"triggers"`
}

// =============================================================================
// PREFERENCES
// =============================================================================

// PreferencesRequest is the body of PUT /preferences.
type PreferencesRequest struct {
	Timezone          string            `json:"timezone"`
	QuietHoursEnabled bool              `json:"quietHoursEnabled"`
	QuietHours        engine.QuietHours `json:"quietHours"`
	QuietHoursMode    string            `json:"quietHoursMode"`
}

// =============================================================================
// POLICY / IDENTITY / PERMISSIONS
// =============================================================================

// EvaluatePolicyRequest previews a reminder configuration.
type EvaluatePolicyRequest struct {
	Reminders  []factory.ReminderJSON  `json:"reminders"`
	Recurrence *factory.RecurrenceJSON `json:"recurrence,omitempty"`
}

// IdentityMatchRequest compares two loosely typed events.
type IdentityMatchRequest struct {
	A map[string]any `json:"a"`
	B map[string]any `json:"b"`
}

// IdentityMatchResponse explains the comparison.
type IdentityMatchResponse struct {
	SameEvent bool                 `json:"sameEvent"`
	A         engine.EventIdentity `json:"a"`
	B         engine.EventIdentity `json:"b"`
	ResolvedA bool                 `json:"resolvedA"`
	ResolvedB bool                 `json:"resolvedB"`
}

// PermissionCopyDTO is the user-facing copy for a permission outcome.
type PermissionCopyDTO struct {
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Message string `json:"message"`
	Usable  bool   `json:"usable"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects a scenario and the user it is loaded for.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	UserID     string `json:"user_id,omitempty"`
}

// LoadScenarioResponse reports what a scenario created.
type LoadScenarioResponse struct {
	Status    string              `json:"status"`
	Scenario  string              `json:"scenario"`
	UserID    engine.UserID       `json:"userId"`
	Reminders int                 `json:"reminders"`
	Events    int                 `json:"customEvents"`
	Warnings  map[string][]string `json:"warnings,omitempty"`
	LoadedAt  time.Time           `json:"loadedAt"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
