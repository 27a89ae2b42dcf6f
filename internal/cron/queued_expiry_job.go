package cron

import (
	"context"
	"fmt"
	"time"
)

const QueuedExpiryJobName = "queued-expiry"

const defaultQueuedTTL = 72 * time.Hour

type queuedExpirer interface {
	ExpireQueued(ctx context.Context, ttl time.Duration) (int64, error)
}

type QueuedExpiryJobParams struct {
	Notifications queuedExpirer
	TTL           time.Duration
}

// NewQueuedExpiryJob fails email and sms notifications that stayed queued
// longer than TTL. The cron worker only registers it when
// WHATSUB_QUEUED_EXPIRY_ENABLED is set.
func NewQueuedExpiryJob(params QueuedExpiryJobParams) (Job, error) {
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultQueuedTTL
	}
	return &queuedExpiryJob{notifications: params.Notifications, ttl: ttl}, nil
}

type queuedExpiryJob struct {
	notifications queuedExpirer
	ttl           time.Duration
}

func (j *queuedExpiryJob) Name() string { return QueuedExpiryJobName }

func (j *queuedExpiryJob) Run(ctx context.Context) (Result, error) {
	changed, err := j.notifications.ExpireQueued(ctx, j.ttl)
	if err != nil {
		return Result{}, fmt.Errorf("expire queued notifications: %w", err)
	}
	return Result{Affected: changed}, nil
}
