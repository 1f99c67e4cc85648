package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/pkg/jobs"
)

const jobType = "auth_event"

// Dispatcher hands events to a background queue so request handling never
// waits on the broker.
type Dispatcher struct {
	publisher Publisher
	queue     *jobs.Queue
	logger    *zap.Logger
	now       func() time.Time
}

// DispatcherConfig tunes the background delivery queue.
type DispatcherConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NewDispatcher wires a publisher to a worker queue.
func NewDispatcher(publisher Publisher, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{publisher: publisher, logger: logger, now: time.Now}
	d.queue = jobs.NewQueue("auth-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDrop: func(job jobs.Job, err error) {
			logger.Warn("auth event dropped", zap.String("event_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		},
	})
	return d
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop flushes buffered events and closes the publisher.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.queue.Stop(ctx)
	return d.publisher.Close()
}

// Emit schedules an event for delivery. Failures are logged, never returned,
// because event delivery must not affect the authentication outcome.
func (d *Dispatcher) Emit(eventType string, userID int64, username string, attrs map[string]interface{}) {
	if d == nil {
		return
	}
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Username:   username,
		OccurredAt: d.now().UTC(),
		Attributes: attrs,
	}
	if err := d.queue.TryEnqueue(jobs.Job{ID: evt.ID, Type: jobType, Payload: evt}); err != nil {
		d.logger.Warn("auth event not queued", zap.String("type", eventType), zap.Error(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	evt, ok := job.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	return d.publisher.Publish(ctx, evt)
}
