// Package store provides in-memory implementations of the engine's stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketclock/reminder-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	records      map[engine.UserID]map[string]engine.ReminderRecord
	preferences  map[engine.UserID]engine.Preferences
	customEvents map[key]engine.CustomEvent
	hub          *Hub
}

type key struct {
	UserID engine.UserID
	ID     string
}

func NewMemory() *Memory {
	return &Memory{
		records:      make(map[engine.UserID]map[string]engine.ReminderRecord),
		preferences:  make(map[engine.UserID]engine.Preferences),
		customEvents: make(map[key]engine.CustomEvent),
		hub:          NewHub(),
	}
}

// Close ends all subscriptions.
func (m *Memory) Close() error {
	m.hub.Close()
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) Get(_ context.Context, user engine.UserID, docKey string) (*engine.ReminderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[user][docKey]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return &rec, nil
}

// Put creates or merges a record, preserving CreatedAt of an existing one.
func (m *Memory) Put(_ context.Context, rec engine.ReminderRecord) (engine.ChangeType, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	docKey := rec.DocumentKey()
	typ := engine.ChangeAdded
	if existing, ok := m.records[rec.UserID][docKey]; ok {
		typ = engine.ChangeModified
		rec.CreatedAt = existing.CreatedAt
	}
	StampRecord(&rec)
	if m.records[rec.UserID] == nil {
		m.records[rec.UserID] = make(map[string]engine.ReminderRecord)
	}
	m.records[rec.UserID][docKey] = rec
	m.mu.Unlock()

	m.hub.Publish(engine.Change{Type: typ, Record: rec})
	return typ, nil
}

func (m *Memory) Delete(_ context.Context, user engine.UserID, docKey string) error {
	m.mu.Lock()
	rec, ok := m.records[user][docKey]
	if !ok {
		m.mu.Unlock()
		return engine.ErrRecordNotFound
	}
	delete(m.records[user], docKey)
	if len(m.records[user]) == 0 {
		delete(m.records, user)
	}
	m.mu.Unlock()

	m.hub.Publish(engine.Change{Type: engine.ChangeRemoved, Record: rec})
	return nil
}

func (m *Memory) List(_ context.Context, user engine.UserID) ([]engine.ReminderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(user), nil
}

func (m *Memory) listLocked(user engine.UserID) []engine.ReminderRecord {
	out := make([]engine.ReminderRecord, 0, len(m.records[user]))
	for _, rec := range m.records[user] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DocumentKey() < out[j].DocumentKey()
	})
	return out
}

func (m *Memory) ListUsers(_ context.Context) ([]engine.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.UserID, 0, len(m.records))
	for user := range m.records {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Subscribe replays the user's records, then streams live changes.
func (m *Memory) Subscribe(ctx context.Context, user engine.UserID) (<-chan engine.Change, error) {
	// Register before the snapshot so no write falls between the two.
	live, err := m.hub.Subscribe(ctx, user)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	initial := m.listLocked(user)
	m.mu.RUnlock()
	return Stream(ctx, initial, live), nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

func (m *Memory) GetPreferences(_ context.Context, user engine.UserID) (*engine.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preferences[user]
	if !ok {
		return nil, engine.ErrPreferencesNotFound
	}
	return &p, nil
}

func (m *Memory) PutPreferences(_ context.Context, prefs engine.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[prefs.UserID] = prefs
	return nil
}

// =============================================================================
// CUSTOM EVENTS
// =============================================================================

func (m *Memory) GetCustomEvent(_ context.Context, user engine.UserID, id string) (*engine.CustomEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.customEvents[key{UserID: user, ID: id}]
	if !ok {
		return nil, engine.ErrCustomEventNotFound
	}
	return &ev, nil
}

func (m *Memory) PutCustomEvent(_ context.Context, ev engine.CustomEvent) error {
	if ev.ID == "" || ev.UserID == "" {
		return &engine.InvalidFieldError{Field: "id", Reason: "custom event needs an id and an owner"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{UserID: ev.UserID, ID: ev.ID}
	if existing, ok := m.customEvents[k]; ok {
		ev.CreatedAt = existing.CreatedAt
	}
	StampCustomEvent(&ev)
	m.customEvents[k] = ev
	return nil
}

func (m *Memory) DeleteCustomEvent(_ context.Context, user engine.UserID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{UserID: user, ID: id}
	if _, ok := m.customEvents[k]; !ok {
		return engine.ErrCustomEventNotFound
	}
	delete(m.customEvents, k)
	return nil
}

func (m *Memory) ListCustomEvents(_ context.Context, user engine.UserID) ([]engine.CustomEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.CustomEvent
	for k, ev := range m.customEvents {
		if k.UserID == user {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocalDate != out[j].LocalDate {
			return out[i].LocalDate < out[j].LocalDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// StampRecord fills missing timestamps; UpdatedAt never precedes CreatedAt.
func StampRecord(rec *engine.ReminderRecord) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) || rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
}

// StampCustomEvent fills missing timestamps.
func StampCustomEvent(ev *engine.CustomEvent) {
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = now
	}
}

var _ engine.Store = (*Memory)(nil)
