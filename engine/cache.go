package engine

import (
	"context"
	"errors"
	"sync"
)

// PreferenceCache memoizes preferences per user. Callers own the instance
// and must call Invalidate when a user's settings or identity change.
type PreferenceCache struct {
	mu       sync.RWMutex
	source   PreferenceStore
	defaults Preferences
	entries  map[UserID]Preferences
}

// NewPreferenceCache wraps source. defaults are served (and cached) for users
// who never saved preferences.
func NewPreferenceCache(source PreferenceStore, defaults Preferences) *PreferenceCache {
	return &PreferenceCache{
		source:   source,
		defaults: defaults,
		entries:  make(map[UserID]Preferences),
	}
}

// Get returns the cached preferences, loading them on a miss.
func (c *PreferenceCache) Get(ctx context.Context, user UserID) (Preferences, error) {
	c.mu.RLock()
	p, ok := c.entries[user]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	loaded, err := c.source.GetPreferences(ctx, user)
	switch {
	case errors.Is(err, ErrPreferencesNotFound):
		p = c.defaults
		p.UserID = user
	case err != nil:
		return Preferences{}, err
	default:
		p = *loaded
	}

	c.mu.Lock()
	c.entries[user] = p
	c.mu.Unlock()
	return p, nil
}

// Put writes through to the source and refreshes the entry.
func (c *PreferenceCache) Put(ctx context.Context, prefs Preferences) error {
	if err := c.source.PutPreferences(ctx, prefs); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[prefs.UserID] = prefs
	c.mu.Unlock()
	return nil
}

// Invalidate drops one user's entry.
func (c *PreferenceCache) Invalidate(user UserID) {
	c.mu.Lock()
	delete(c.entries, user)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *PreferenceCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[UserID]Preferences)
	c.mu.Unlock()
}

// Defaults returns the preferences served to users without settings.
func (c *PreferenceCache) Defaults() Preferences {
	return c.defaults
}
