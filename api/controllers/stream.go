package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/whatsub/notifications/api/responses"
	"github.com/whatsub/notifications/internal/delivery"
	"github.com/whatsub/notifications/pkg/config"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/metrics"
)

// StreamNotifications holds a server-sent events connection open and runs one
// delivery channel for the caller until the client disconnects.
func StreamNotifications(store delivery.Store, cfg config.StreamConfig, m *metrics.StreamMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		channel, err := delivery.NewChannel(userID, store, delivery.Options{
			PollInterval: cfg.PollInterval,
			ErrorBackoff: cfg.ErrorBackoff,
			BatchSize:    cfg.BatchSize,
			Metrics:      m,
			Logger:       logg,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open stream"))
			return
		}

		rc := http.NewResponseController(w)
		// the stream outlives the server write timeout
		_ = rc.SetWriteDeadline(time.Time{})

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			logg.Error(r.Context(), "stream flush unsupported", err)
			return
		}

		sink := &sseSink{w: w, rc: rc}
		if err := channel.Run(r.Context(), sink); err != nil && !errors.Is(err, context.Canceled) {
			logg.Info(logg.WithField(r.Context(), "reason", err.Error()), "stream subscriber gone")
		}
	}
}

type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

type heartbeatFrame struct {
	Timestamp time.Time `json:"timestamp"`
}

type errorFrame struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *sseSink) Send(_ context.Context, event delivery.Event) error {
	var (
		id      string
		payload any
	)
	switch event.Type {
	case delivery.EventNotification:
		if event.Notification == nil {
			return fmt.Errorf("notification event without payload")
		}
		id = fmt.Sprintf("%d", event.Notification.ID)
		payload = event.Notification
	case delivery.EventError:
		payload = errorFrame{Message: event.Message, Timestamp: event.At}
	default:
		payload = heartbeatFrame{Timestamp: event.At}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if err := writeFrame(s.w, string(event.Type), id, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func writeFrame(w http.ResponseWriter, event, id string, data []byte) error {
	var frame []byte
	frame = append(frame, "event: "...)
	frame = append(frame, event...)
	frame = append(frame, '\n')
	if id != "" {
		frame = append(frame, "id: "...)
		frame = append(frame, id...)
		frame = append(frame, '\n')
	}
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	_, err := w.Write(frame)
	return err
}
