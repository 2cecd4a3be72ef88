package domain

// NotificationKind classifies a user-visible notification.
type NotificationKind string

// Notification kinds.
const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
	NotifyInfo    NotificationKind = "info"
)

// Notification is a single user-visible message. Every error surfaced to the
// user produces exactly one of these. Lockout and initialization notices set
// AutoClose to false so they stay on screen until dismissed.
type Notification struct {
	Message    string           `json:"message"`
	Kind       NotificationKind `json:"kind"`
	DurationMs int              `json:"duration_ms"`
	AutoClose  bool             `json:"auto_close"`
}

// Notifier delivers notifications to whatever presentation surface is
// attached. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Notification) {}
