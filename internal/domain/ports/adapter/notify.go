package adapter

import "context"

type NotificationKind string

const (
	NotifyPaymentSucceeded NotificationKind = "payment_succeeded"
	NotifyPaymentFailed    NotificationKind = "payment_failed"
	NotifyRenewalReminder  NotificationKind = "renewal_reminder"
)

// Notification is a user-facing message. Delivery is best effort.
type Notification struct {
	OwnerID     string
	Destination string
	Kind        NotificationKind
	Text        string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is an operator-facing message about something needing manual attention.
type Alert struct {
	Severity AlertSeverity
	Title    string
	Fields   map[string]string
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}
