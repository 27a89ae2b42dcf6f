package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/whatsub/notifications/pkg/config"
	"github.com/whatsub/notifications/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type blockingConsumer struct{ err error }

func (b blockingConsumer) Run(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestService(t *testing.T, params ServiceParams) *Service {
	t.Helper()
	params.Config = &config.Config{App: config.AppConfig{MetricsPort: "0"}}
	params.Logger = logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
	if params.DB == nil {
		params.DB = stubPinger{}
	}
	if params.Redis == nil {
		params.Redis = stubPinger{}
	}
	if params.PubSub == nil {
		params.PubSub = stubPinger{}
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.serve = func(ctx context.Context, _ string, _ prometheus.Gatherer) error {
		<-ctx.Done()
		return nil
	}
	return svc
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, ServiceParams{Consumer: blockingConsumer{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestServiceRunConsumerFailureStopsWorker(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newTestService(t, ServiceParams{Consumer: blockingConsumer{err: boom}})
	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
}

func TestServiceRunRequiresReadyDependencies(t *testing.T) {
	svc := newTestService(t, ServiceParams{Consumer: blockingConsumer{}, Redis: stubPinger{err: errors.New("refused")}})
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness error")
	}
}

func TestNewServiceRequiresConsumer(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config: &config.Config{},
		Logger: logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:     stubPinger{},
		Redis:  stubPinger{},
		PubSub: stubPinger{},
	})
	if err == nil {
		t.Fatal("expected consumer error")
	}
}
