package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/notify"
)

func TestInAppInbox_KeepsNewestPerUser(t *testing.T) {
	// GIVEN: An inbox holding two deliveries per user
	inbox := notify.NewInAppInbox(2)
	ctx := context.Background()

	// WHEN: Three deliveries arrive for one user and one for another
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, inbox.Send(ctx, notify.Delivery{UserID: "u1", OccurrenceKey: key}))
	}
	require.NoError(t, inbox.Send(ctx, notify.Delivery{UserID: "u2", OccurrenceKey: "z"}))

	// THEN: Only the newest two are kept, per user
	got := inbox.List("u1")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].OccurrenceKey)
	assert.Equal(t, "c", got[1].OccurrenceKey)
	assert.Len(t, inbox.List("u2"), 1)

	inbox.Clear("u1")
	assert.Empty(t, inbox.List("u1"))
}

func TestWebhookSender_PostsDelivery(t *testing.T) {
	var got notify.Delivery
	var idempotency string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idempotency = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := notify.Delivery{ID: "d-1", UserID: "u1", Channel: engine.ChannelPush, Title: "NFP", MinutesBefore: 5}
	require.NoError(t, notify.NewWebhookSender(srv.URL).Send(context.Background(), d))

	assert.Equal(t, "d-1", idempotency)
	assert.Equal(t, d, got)
}

func TestWebhookSender_ReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhookSender(srv.URL).Send(context.Background(), notify.Delivery{ID: "d-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPermissionMessages(t *testing.T) {
	assert.True(t, notify.BrowserGranted.Usable())
	assert.False(t, notify.BrowserDismissed.Usable())
	assert.Contains(t, notify.BrowserDenied.Message(), "blocked")
	assert.Contains(t, notify.PushMissingVAPID.Message(), "not configured")
	assert.False(t, notify.PushTokenPending.Usable())

	msg, ok := notify.PermissionMessage("Push", "auth-required")
	require.True(t, ok)
	assert.Equal(t, notify.PushAuthRequired.Message(), msg)

	msg, ok = notify.PermissionMessage("browser", "bogus")
	require.True(t, ok)
	assert.Contains(t, msg, "unknown")

	_, ok = notify.PermissionMessage("sms", "granted")
	assert.False(t, ok)
}

func TestPermissionUsable(t *testing.T) {
	assert.True(t, notify.PermissionUsable("browser", "granted"))
	assert.True(t, notify.PermissionUsable(" PUSH ", "Granted"))
	assert.False(t, notify.PermissionUsable("push", "token-pending"))
	assert.False(t, notify.PermissionUsable("sms", "granted"))
}
