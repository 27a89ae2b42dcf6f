package enums

import "fmt"

// NotificationKind maps to the notification_type column.
type NotificationKind string

const (
	NotificationKindEmail NotificationKind = "email"
	NotificationKindSMS   NotificationKind = "sms"
	NotificationKindPush  NotificationKind = "push"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindEmail,
	NotificationKindSMS,
	NotificationKindPush,
}

func (k NotificationKind) String() string {
	return string(k)
}

// IsValid checks whether the kind matches the canonical enum.
func (k NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
