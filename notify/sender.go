/*
sender.go - Channel delivery

PURPOSE:
  A Sender hands one Delivery to one channel. The dispatcher looks up the
  sender by channel and never knows how the message leaves the process.

IMPLEMENTATIONS:
  InAppInbox:    Bounded per-user inbox read by the API (in-app channel)
  WebhookSender: POSTs the delivery as JSON to a push gateway (browser, push)
  LogSender:     Writes the delivery to the log (development fallback)
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marketclock/reminder-engine/applog"
	"github.com/marketclock/reminder-engine/engine"
)

// Delivery is one reminder sent on one channel.
type Delivery struct {
	ID                string         `json:"id"`
	UserID            engine.UserID  `json:"userId"`
	DocumentKey       string         `json:"documentKey"`
	Title             string         `json:"title"`
	Channel           engine.Channel `json:"channel"`
	OccurrenceKey     string         `json:"occurrenceKey"`
	OccurrenceEpochMs int64          `json:"occurrenceEpochMs"`
	FireAtMs          int64          `json:"fireAtMs"`
	MinutesBefore     int            `json:"minutesBefore"`
	// Downgraded is set when quiet hours moved the reminder to in-app.
	Downgraded bool      `json:"downgraded,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// Sender delivers on one channel.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// =============================================================================
// IN-APP INBOX
// =============================================================================

// DefaultInboxSize bounds the deliveries kept per user.
const DefaultInboxSize = 100

// InAppInbox keeps the most recent deliveries per user, newest last.
type InAppInbox struct {
	mu    sync.RWMutex
	size  int
	items map[engine.UserID][]Delivery
}

// NewInAppInbox creates an inbox keeping up to size deliveries per user.
func NewInAppInbox(size int) *InAppInbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &InAppInbox{size: size, items: make(map[engine.UserID][]Delivery)}
}

func (b *InAppInbox) Send(_ context.Context, d Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.items[d.UserID], d)
	if len(list) > b.size {
		list = list[len(list)-b.size:]
	}
	b.items[d.UserID] = list
	return nil
}

// List returns a copy of the user's inbox.
func (b *InAppInbox) List(user engine.UserID) []Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Delivery, len(b.items[user]))
	copy(out, b.items[user])
	return out
}

// Clear empties the user's inbox.
func (b *InAppInbox) Clear(user engine.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, user)
}

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookSender posts deliveries to a push gateway.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender creates a sender with a bounded request timeout.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSender) Send(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.ID)

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// =============================================================================
// LOG
// =============================================================================

// LogSender writes deliveries to the application log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, d Delivery) error {
	applog.Info("reminder delivered",
		"user", d.UserID, "channel", d.Channel, "title", d.Title,
		"occurrence", d.OccurrenceKey, "minutesBefore", d.MinutesBefore)
	return nil
}
