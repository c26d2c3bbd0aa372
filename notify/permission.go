// Package notify delivers due reminders: permission outcomes and their
// user copy, channel senders, and the Dispatcher that scans records.
package notify

import "strings"

// =============================================================================
// PERMISSION OUTCOMES
// =============================================================================

// BrowserPermission is the result of asking the browser for notification
// permission.
type BrowserPermission string

const (
	BrowserGranted     BrowserPermission = "granted"
	BrowserDenied      BrowserPermission = "denied"
	BrowserDismissed   BrowserPermission = "dismissed"
	BrowserUnsupported BrowserPermission = "unsupported"
)

// Message is the copy shown next to the browser channel toggle.
func (p BrowserPermission) Message() string {
	switch p {
	case BrowserGranted:
		return "Browser notifications are on."
	case BrowserDenied:
		return "Browser notifications are blocked. Allow them in your browser's site settings to use this channel."
	case BrowserDismissed:
		return "The permission prompt was closed. Turn the browser channel on again to retry."
	case BrowserUnsupported:
		return "This browser does not support notifications. In-app reminders still work."
	default:
		return "Browser notification status is unknown."
	}
}

// Usable reports whether the browser channel can deliver.
func (p BrowserPermission) Usable() bool {
	return p == BrowserGranted
}

// PushPermission is the result of provisioning a push token for the user.
type PushPermission string

const (
	PushGranted           PushPermission = "granted"
	PushAuthRequired      PushPermission = "auth-required"
	PushPermissionDefault PushPermission = "permission-default"
	PushMissingVAPID      PushPermission = "missing-vapid"
	PushTokenPending      PushPermission = "token-pending"
	PushError             PushPermission = "error"
)

// Message is the copy shown next to the push channel toggle.
func (p PushPermission) Message() string {
	switch p {
	case PushGranted:
		return "Push notifications are on for this device."
	case PushAuthRequired:
		return "Sign in to receive push notifications."
	case PushPermissionDefault:
		return "Allow notifications when your browser asks to enable push."
	case PushMissingVAPID:
		return "Push is not configured on this server yet."
	case PushTokenPending:
		return "Registering this device for push. This can take a few seconds."
	case PushError:
		return "Push registration failed. Try again later."
	default:
		return "Push notification status is unknown."
	}
}

// Usable reports whether the push channel can deliver.
func (p PushPermission) Usable() bool {
	return p == PushGranted
}

// PermissionMessage looks up copy by kind ("browser" or "push") and
// outcome. Unknown kinds return false.
func PermissionMessage(kind, outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "browser":
		return BrowserPermission(outcome).Message(), true
	case "push":
		return PushPermission(outcome).Message(), true
	}
	return "", false
}

// PermissionUsable reports whether the outcome lets the channel deliver.
// Unknown kinds are never usable.
func PermissionUsable(kind, outcome string) bool {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "browser":
		return BrowserPermission(outcome).Usable()
	case "push":
		return PushPermission(outcome).Usable()
	}
	return false
}
