package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/pkg/config"
	"github.com/siteops/site-entry-api/pkg/jobs"
)

// EventService publishes transition events to a Redis channel through an
// in-memory worker queue. Publish never blocks the caller; delivery failures
// are retried by the queue and eventually dropped with a log line.
type EventService struct {
	client  *redis.Client
	channel string
	enabled bool
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// EventServiceOption configures the service.
type EventServiceOption func(*EventService)

// WithEventMetrics counts published events on the metrics registry.
func WithEventMetrics(metrics *MetricsService) EventServiceOption {
	return func(s *EventService) {
		s.metrics = metrics
	}
}

// NewEventService constructs the service. A nil Redis client or a disabled
// config turns Publish into a no-op.
func NewEventService(client *redis.Client, cfg config.EventsConfig, logger *zap.Logger, opts ...EventServiceOption) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventService{
		client:  client,
		channel: cfg.Channel,
		enabled: cfg.Enabled && client != nil,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.queue = jobs.NewQueue("events", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start spins up the delivery workers.
func (s *EventService) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *EventService) Stop() {
	if !s.enabled {
		return
	}
	s.queue.Stop()
}

// Publish enqueues a domain event for asynchronous delivery. Errors are logged
// and swallowed so callers stay oblivious to the event sink.
func (s *EventService) Publish(event models.DomainEvent) {
	if !s.enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.queue.Enqueue(jobs.Job{
		ID:      event.ID,
		Type:    string(event.Name),
		Payload: event,
	}); err != nil {
		s.logger.Warn("failed to enqueue event",
			zap.String("event", string(event.Name)),
			zap.String("resource_id", event.ResourceID),
			zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveEventPublished()
	}
}

func (s *EventService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.DomainEvent)
	if !ok {
		s.logger.Error("unexpected event payload type", zap.String("job_id", job.ID))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.String("event", string(event.Name)), zap.Error(err))
		return nil
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Name, err)
	}
	return nil
}
