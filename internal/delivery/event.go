package delivery

import (
	"context"
	"time"

	"github.com/whatsub/notifications/pkg/db/models"
)

// State of a delivery channel. There is no paused state: store failures are
// absorbed while Active.
type State int32

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventNotification EventType = "notification"
	EventHeartbeat    EventType = "heartbeat"
	EventError        EventType = "error"
)

// Event is one frame pushed to a subscriber.
type Event struct {
	Type         EventType
	Notification *models.Notification
	Message      string
	At           time.Time
}

// Sink delivers events to the subscriber. An error means the subscriber is
// gone and closes the channel.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Send(ctx context.Context, event Event) error {
	return f(ctx, event)
}
