package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink delivers envelopes to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

// Relay drains the outbox into every sink. Delivery is at-least-once: a batch
// that fails midway leaves the remainder unpublished for the next run.
type Relay struct {
	store  OutboxStore
	sinks  []Sink
	batch  int
	logger *slog.Logger
	now    func() time.Time
}

// NewRelay builds a relay with the given batch size.
func NewRelay(store OutboxStore, logger *slog.Logger, batch int, sinks ...Sink) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, sinks: sinks, batch: batch, logger: logger, now: time.Now}
}

// WithClock overrides the publish timestamp source.
func (r *Relay) WithClock(now func() time.Time) *Relay {
	if now != nil {
		r.now = now
	}
	return r
}

// RunOnce publishes up to one batch and returns the number of envelopes acknowledged.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r == nil || r.store == nil {
		return 0, errors.New("events: relay not configured")
	}
	published := 0
	err := r.store.WithOutboxTx(ctx, func(ctx context.Context, tx OutboxTx) error {
		envs, err := tx.FetchUnpublished(ctx, r.batch)
		if err != nil {
			return fmt.Errorf("events: fetch outbox: %w", err)
		}
		done := make([]uuid.UUID, 0, len(envs))
		var publishErr error
		for _, env := range envs {
			if err := r.publish(ctx, env); err != nil {
				publishErr = err
				break
			}
			done = append(done, env.ID)
		}
		if err := tx.MarkPublished(ctx, done, r.now().UTC()); err != nil {
			return fmt.Errorf("events: mark published: %w", err)
		}
		published = len(done)
		if publishErr != nil {
			r.logger.Warn("outbox relay stopped early",
				slog.Int("published", published),
				slog.Any("error", publishErr))
		}
		return nil
	})
	return published, err
}

func (r *Relay) publish(ctx context.Context, env Envelope) error {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, env); err != nil {
			return fmt.Errorf("events: sink %s: %w", sink.Name(), err)
		}
	}
	return nil
}
