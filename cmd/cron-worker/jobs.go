package main

import (
	"context"
	"fmt"
	"time"

	"github.com/whatsub/notifications/internal/cron"
	"github.com/whatsub/notifications/pkg/config"
)

type queuedExpirer interface {
	ExpireQueued(ctx context.Context, ttl time.Duration) (int64, error)
}

// buildRegistry registers the jobs the lifecycle config turns on.
func buildRegistry(cfg config.LifecycleConfig, notifications queuedExpirer) (*cron.Registry, error) {
	registry := cron.NewRegistry()
	if cfg.QueuedExpiryEnabled {
		job, err := cron.NewQueuedExpiryJob(cron.QueuedExpiryJobParams{
			Notifications: notifications,
			TTL:           cfg.QueuedTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("queued expiry job: %w", err)
		}
		registry.Register(job)
	}
	return registry, nil
}
