package common

import "context"

// KeyValueStore persists small user selections (tunnel intent, region)
// across application launches.
type KeyValueStore interface {
	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value, replacing any previous one.
	Set(ctx context.Context, key, value string) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
	// NotifyWithIcon sends a notification with a custom icon.
	NotifyWithIcon(title, message, icon string) error
}

// FeedbackLogger records diagnostic entries that are attached to user
// feedback. Calls are fire-and-forget.
type FeedbackLogger interface {
	Log(level LogLevel, tag string, value any)
}
