package enums

import "fmt"

// NotificationStatus is the delivery state of a notification. Legal moves are
// listed in notificationStatusTransitions; everything else is rejected.
type NotificationStatus string

const (
	NotificationStatusQueued    NotificationStatus = "queued"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
)

var validNotificationStatuses = []NotificationStatus{
	NotificationStatusQueued,
	NotificationStatusSent,
	NotificationStatusDelivered,
	NotificationStatusFailed,
}

// queued -> sent -> delivered is monotonic; queued may skip straight to
// delivered when a stream observes it first. failed is only reachable from queued.
var notificationStatusTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusQueued: {
		NotificationStatusSent,
		NotificationStatusDelivered,
		NotificationStatusFailed,
	},
	NotificationStatusSent: {
		NotificationStatusDelivered,
	},
	NotificationStatusDelivered: {},
	NotificationStatusFailed:    {},
}

// ErrIllegalTransition is returned by Transition for moves outside the table.
type ErrIllegalTransition struct {
	From NotificationStatus
	To   NotificationStatus
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal notification status transition %s -> %s", e.From, e.To)
}

func (s NotificationStatus) String() string {
	return string(s)
}

func (s NotificationStatus) IsValid() bool {
	_, ok := notificationStatusTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s NotificationStatus) IsTerminal() bool {
	next, ok := notificationStatusTransitions[s]
	return ok && len(next) == 0
}

func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	for _, candidate := range notificationStatusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal.
func (s NotificationStatus) Transition(next NotificationStatus) (NotificationStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, ErrIllegalTransition{From: s, To: next}
	}
	return next, nil
}

// PredecessorsOf lists every status that may move directly into target, in
// declaration order. Conditional updates use it as their WHERE status IN (...).
func PredecessorsOf(target NotificationStatus) []NotificationStatus {
	var out []NotificationStatus
	for _, from := range validNotificationStatuses {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// ParseNotificationStatus converts raw input into a NotificationStatus.
func ParseNotificationStatus(value string) (NotificationStatus, error) {
	for _, candidate := range validNotificationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification status %q", value)
}
