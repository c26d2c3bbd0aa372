/*
custom.go - User-created calendar events

PURPOSE:
  Users add their own entries to the trading calendar (desk reviews,
  option expiries they track by hand). Each custom event is owned by one
  user and may carry reminder records of its own.

CASCADE:
  Deleting a custom event also deletes every reminder record whose
  metadata points at it, so no orphan reminder keeps firing.

SEE ALSO:
  - engine/store.go: CustomEventStore
  - factory/record.go: Builds records for custom events
*/
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketclock/reminder-engine/engine"
)

// CustomEventInput is the editable part of a custom event.
type CustomEventInput struct {
	ID          string                      `json:"id,omitempty"`
	Title       string                      `json:"title"`
	Description string                      `json:"description,omitempty"`
	Color       string                      `json:"color,omitempty"`
	Icon        string                      `json:"icon,omitempty"`
	LocalDate   string                      `json:"localDate"`
	LocalTime   string                      `json:"localTime,omitempty"`
	Timezone    string                      `json:"timezone"`
	Recurrence  engine.RecurrenceDefinition `json:"recurrence"`
}

// Validate checks the fields a custom event needs to be expandable.
func (in CustomEventInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return &engine.InvalidFieldError{Field: "title", Reason: "required"}
	}
	if _, err := time.Parse(engine.DateLayout, in.LocalDate); err != nil {
		return &engine.InvalidFieldError{Field: "localDate", Reason: "must be YYYY-MM-DD"}
	}
	if in.LocalTime != "" {
		if _, err := time.Parse(engine.ClockLayout, in.LocalTime); err != nil {
			return &engine.InvalidFieldError{Field: "localTime", Reason: "must be HH:MM"}
		}
	}
	if _, err := engine.LoadLocation(in.Timezone); err != nil {
		return err
	}
	return nil
}

// CustomEventService manages custom events and their reminder records.
type CustomEventService struct {
	events  engine.CustomEventStore
	records engine.RecordStore
	now     func() time.Time
}

// NewCustomEventService creates a service over the given stores.
func NewCustomEventService(events engine.CustomEventStore, records engine.RecordStore) *CustomEventService {
	return &CustomEventService{
		events:  events,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save creates the event when in.ID is empty and replaces it otherwise.
func (s *CustomEventService) Save(ctx context.Context, user engine.UserID, in CustomEventInput) (*engine.CustomEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	ev := engine.CustomEvent{
		ID:          in.ID,
		UserID:      user,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Color:       in.Color,
		Icon:        in.Icon,
		LocalDate:   in.LocalDate,
		LocalTime:   in.LocalTime,
		Timezone:    in.Timezone,
		Recurrence:  in.Recurrence.Canonical(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if existing, err := s.events.GetCustomEvent(ctx, user, ev.ID); err == nil {
		ev.CreatedAt = existing.CreatedAt
	} else if !engine.IsNotFound(err) {
		return nil, err
	}

	if err := s.events.PutCustomEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to save custom event: %w", err)
	}
	return &ev, nil
}

// Get returns one custom event.
func (s *CustomEventService) Get(ctx context.Context, user engine.UserID, id string) (*engine.CustomEvent, error) {
	return s.events.GetCustomEvent(ctx, user, id)
}

// List returns the user's custom events.
func (s *CustomEventService) List(ctx context.Context, user engine.UserID) ([]engine.CustomEvent, error) {
	return s.events.ListCustomEvents(ctx, user)
}

// Delete removes the event and every reminder record linked to it. It
// returns the number of records removed.
func (s *CustomEventService) Delete(ctx context.Context, user engine.UserID, id string) (int, error) {
	if err := s.events.DeleteCustomEvent(ctx, user, id); err != nil {
		return 0, err
	}

	records, err := s.records.List(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("failed to list records for cascade: %w", err)
	}
	removed := 0
	for _, rec := range records {
		if rec.Metadata.CustomEventID != id {
			continue
		}
		err := s.records.Delete(ctx, user, rec.DocumentKey())
		if err != nil && !engine.IsNotFound(err) {
			return removed, fmt.Errorf("failed to delete linked record %s: %w", rec.DocumentKey(), err)
		}
		if err == nil {
			removed++
		}
	}
	return removed, nil
}

// IdentitySource returns the identity source for a stored custom event.
func IdentitySource(ev engine.CustomEvent) engine.UserEvent {
	return engine.UserEvent{
		ID:        ev.ID,
		Title:     ev.Title,
		LocalDate: ev.LocalDate,
		LocalTime: ev.LocalTime,
		Timezone:  ev.Timezone,
	}
}
