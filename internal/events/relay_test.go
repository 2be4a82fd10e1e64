package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kafka"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []Envelope
	published map[uuid.UUID]time.Time
}

func (f *fakeOutbox) WithOutboxTx(ctx context.Context, fn func(context.Context, OutboxTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, f)
}

func (f *fakeOutbox) FetchUnpublished(_ context.Context, limit int) ([]Envelope, error) {
	var out []Envelope
	for _, env := range f.pending {
		if _, done := f.published[env.ID]; done {
			continue
		}
		out = append(out, env)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	for _, id := range ids {
		f.published[id] = at
	}
	return nil
}

type flakySink struct {
	failOn uuid.UUID
	seen   []uuid.UUID
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Publish(_ context.Context, env Envelope) error {
	if env.ID == s.failOn {
		s.failOn = uuid.Nil
		return errors.New("broker unavailable")
	}
	s.seen = append(s.seen, env.ID)
	return nil
}

func envelope(t *testing.T, id int64) Envelope {
	t.Helper()
	env, err := NewEnvelope(TypeJournalEntryPosted, AggregateJournalEntry, 1, id, time.Now(), map[string]int64{"entry_id": id})
	require.NoError(t, err)
	return env
}

func TestRelayStopsAtFailureAndResumes(t *testing.T) {
	envs := []Envelope{envelope(t, 1), envelope(t, 2), envelope(t, 3)}
	store := &fakeOutbox{pending: envs, published: map[uuid.UUID]time.Time{}}
	sink := &flakySink{failOn: envs[1].ID}
	relay := NewRelay(store, nil, 10, sink)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uuid.UUID{envs[0].ID, envs[1].ID, envs[2].ID}, sink.seen)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

type capturePublisher struct {
	topic string
	msgs  []kafka.Message
}

func (c *capturePublisher) Publish(_ context.Context, topic string, msgs ...kafka.Message) error {
	c.topic = topic
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestKafkaSinkKeysByAggregate(t *testing.T) {
	pub := &capturePublisher{}
	env := envelope(t, 42)
	require.NoError(t, NewKafkaSink(pub, "ledger.events").Publish(context.Background(), env))
	require.Equal(t, "ledger.events", pub.topic)
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "journal_entry:1:42", string(pub.msgs[0].Key))
	require.Equal(t, TypeJournalEntryPosted, pub.msgs[0].Headers["event_type"])
}
