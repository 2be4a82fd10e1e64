package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/events"
)

func (st *state) appendOutbox(env events.Envelope) error {
	st.outbox = append(st.outbox, outboxRow{env: env})
	return nil
}

type outboxStore struct {
	s *Store
}

func (o outboxStore) WithOutboxTx(ctx context.Context, fn func(context.Context, events.OutboxTx) error) error {
	return o.s.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, outboxTx{s: o.s})
	})
}

type outboxTx struct {
	s *Store
}

func (t outboxTx) FetchUnpublished(_ context.Context, limit int) ([]events.Envelope, error) {
	var out []events.Envelope
	for _, row := range t.s.state.outbox {
		if row.publishedAt != nil {
			continue
		}
		out = append(out, row.env)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t outboxTx) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	rows := append([]outboxRow(nil), t.s.state.outbox...)
	for i := range rows {
		if want[rows[i].env.ID] {
			stamp := at
			rows[i].publishedAt = &stamp
		}
	}
	t.s.state.outbox = rows
	return nil
}

// OutboxEvents lists every outbox envelope in insertion order, optionally filtered by type.
func (s *Store) OutboxEvents(eventType string) []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Envelope
	for _, row := range s.state.outbox {
		if eventType == "" || row.env.Type == eventType {
			out = append(out, row.env)
		}
	}
	return out
}
