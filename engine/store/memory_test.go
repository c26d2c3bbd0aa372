package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store"
	"github.com/marketclock/reminder-engine/engine/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store { return store.NewMemory() })
}

func TestMemory_SubscribeAfterCloseFails(t *testing.T) {
	m := store.NewMemory()
	require.NoError(t, m.Close())

	_, err := m.Subscribe(context.Background(), "u1")

	assert.ErrorIs(t, err, engine.ErrSubscriptionClosed)
}

func TestHub_SlowSubscriberDoesNotBlockWriters(t *testing.T) {
	// GIVEN: A subscriber that never reads
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := store.NewHub()
	_, err := hub.Subscribe(ctx, "u1")
	require.NoError(t, err)

	// WHEN: Far more changes than the buffer are published
	for i := 0; i < 1000; i++ {
		hub.Publish(engine.Change{Type: engine.ChangeModified, Record: engine.ReminderRecord{UserID: "u1"}})
	}

	// THEN: Publish returned every time (reaching here is the assertion)
	hub.Close()
}
