package store

import (
	"context"
	"sync"

	"github.com/marketclock/reminder-engine/engine"
)

// =============================================================================
// HUB - Fan-out of record changes to per-user subscribers
// =============================================================================

// hubBuffer is the per-subscriber backlog before live changes are dropped.
const hubBuffer = 64

// Hub broadcasts record changes to subscribers of the owning user. Backends
// without native change streams (memory, SQLite, PostgreSQL) publish to a
// Hub after every committed write.
type Hub struct {
	mu     sync.Mutex
	subs   map[engine.UserID]map[int]chan engine.Change
	next   int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[engine.UserID]map[int]chan engine.Change)}
}

// Subscribe registers a live listener for user. The channel is closed when
// ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, user engine.UserID) (<-chan engine.Change, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, engine.ErrSubscriptionClosed
	}

	id := h.next
	h.next++
	ch := make(chan engine.Change, hubBuffer)
	if h.subs[user] == nil {
		h.subs[user] = make(map[int]chan engine.Change)
	}
	h.subs[user][id] = ch

	go func() {
		<-ctx.Done()
		h.remove(user, id)
	}()
	return ch, nil
}

func (h *Hub) remove(user engine.UserID, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[user][id]; ok {
		delete(h.subs[user], id)
		close(ch)
	}
	if len(h.subs[user]) == 0 {
		delete(h.subs, user)
	}
}

// Publish delivers c to every subscriber of the record's owner without
// blocking. A full subscriber misses the change.
func (h *Hub) Publish(c engine.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[c.Record.UserID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for user, subs := range h.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subs, user)
	}
}

// Stream replays initial as "added" changes, then forwards live until it
// closes or ctx is done.
func Stream(ctx context.Context, initial []engine.ReminderRecord, live <-chan engine.Change) <-chan engine.Change {
	out := make(chan engine.Change)
	go func() {
		defer close(out)
		for _, rec := range initial {
			select {
			case out <- engine.Change{Type: engine.ChangeAdded, Record: rec}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case c, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
