package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/whatsub/notifications/pkg/db/models"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/metrics"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultBatchSize    = 10

	// ErrorEventMessage is what subscribers see when a poll fails.
	ErrorEventMessage = "notifications temporarily unavailable"
)

// ErrAlreadyStarted is returned when Run is called on a channel that has
// already run. Channels are single use: one per subscriber connection.
var ErrAlreadyStarted = errors.New("delivery channel already started")

// Store is the slice of the notification service a channel polls.
type Store interface {
	PendingForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkDelivered(ctx context.Context, notificationID int64) (bool, error)
}

// Options tune a channel. Zero values fall back to the defaults above.
type Options struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	BatchSize    int
	Metrics      *metrics.StreamMetrics
	Logger       *logger.Logger
}

// Channel is one subscriber session. It pulls unread notifications for a
// single user, pushes each one to the sink once, then marks it delivered.
type Channel struct {
	userID  string
	store   Store
	opts    Options
	logg    *logger.Logger
	state   atomic.Int32
	started atomic.Bool
	mark    watermark
	now     func() time.Time
}

// NewChannel builds an Active channel for userID.
func NewChannel(userID string, store Store, opts Options) (*Channel, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if store == nil {
		return nil, fmt.Errorf("notification store required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	c := &Channel{
		userID: userID,
		store:  store,
		opts:   opts,
		logg:   opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	c.state.Store(int32(StateActive))
	return c, nil
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Run polls until ctx is canceled or the sink fails. Cancellation returns nil;
// a sink failure is returned wrapped. Either way the channel ends Closed and
// makes no further store calls.
func (c *Channel) Run(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink required")
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx = c.logg.WithUserID(ctx, c.userID)
	c.opts.Metrics.ChannelOpened()
	c.logg.Debug(ctx, "delivery channel opened")
	defer func() {
		c.state.Store(int32(StateClosed))
		c.opts.Metrics.ChannelClosed()
		c.logg.Debug(ctx, "delivery channel closed")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait, err := c.cycle(ctx, sink)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// cycle runs one poll and returns how long to wait before the next one. A
// non-nil error means the subscriber is gone.
func (c *Channel) cycle(ctx context.Context, sink Sink) (time.Duration, error) {
	rows, err := c.store.PendingForUser(ctx, c.userID, c.opts.BatchSize)
	if err != nil {
		return c.recover(ctx, sink, err)
	}

	for _, n := range c.fresh(rows) {
		if err := sink.Send(ctx, Event{Type: EventNotification, Notification: &n, At: c.now()}); err != nil {
			return 0, fmt.Errorf("push notification %d: %w", n.ID, err)
		}
		c.mark.advance(n)
		c.opts.Metrics.IncPushed()

		if _, err := c.store.MarkDelivered(ctx, n.ID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				c.logg.Warn(c.logg.WithNotificationID(ctx, n.ID), "pushed notification could not be marked delivered")
				continue
			}
			return c.recover(ctx, sink, err)
		}
	}

	if err := sink.Send(ctx, Event{Type: EventHeartbeat, At: c.now()}); err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	c.opts.Metrics.IncHeartbeat()
	return c.opts.PollInterval, nil
}

// recover reports a store failure downstream and schedules the longer backoff.
func (c *Channel) recover(ctx context.Context, sink Sink, cause error) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	c.opts.Metrics.IncPollError()
	c.logg.Error(ctx, "delivery channel poll failed", cause)

	if err := sink.Send(ctx, Event{Type: EventError, Message: ErrorEventMessage, At: c.now()}); err != nil {
		return 0, fmt.Errorf("error event: %w", err)
	}
	return c.opts.ErrorBackoff, nil
}

// fresh keeps rows past the watermark, oldest first.
func (c *Channel) fresh(rows []models.Notification) []models.Notification {
	out := make([]models.Notification, 0, len(rows))
	for _, n := range rows {
		if c.mark.before(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// watermark is the (created_at, id) of the newest pushed notification. The
// zero value sits before every record, so a new channel replays the unread
// snapshot.
type watermark struct {
	createdAt time.Time
	id        int64
}

func (w watermark) before(n models.Notification) bool {
	return less(models.Notification{ID: w.id, CreatedAt: w.createdAt}, n)
}

func (w *watermark) advance(n models.Notification) {
	if w.before(n) {
		w.createdAt = n.CreatedAt
		w.id = n.ID
	}
}

func less(a, b models.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
