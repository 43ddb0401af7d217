package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encoded(t *testing.T, eventType, aggregateID string) kafka.Message {
	t.Helper()
	event, err := NewEvent(eventType, aggregateID, "order", "order-service", map[string]string{"order_id": aggregateID})
	require.NoError(t, err)
	raw, err := event.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "ecommerce.order.created", Value: raw}
}

func runConsumer(t *testing.T, r *fakeReader, handler Handler, dlq deadLetterer) *Consumer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cancel = cancel

	c := newConsumerWithReader(r, "ecommerce.order.created", "review-service", handler, discardLogger())
	c.backoff = time.Millisecond
	c.dlq = dlq

	require.NoError(t, c.Start(ctx))
	return c
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		encoded(t, "order.created", "o-1"),
		encoded(t, "order.created", "o-2"),
	}}

	var seen []string
	runConsumer(t, r, func(_ context.Context, e *Event) error {
		seen = append(seen, e.AggregateID)
		return nil
	}, nil)

	assert.Equal(t, []string{"o-1", "o-2"}, seen)
	assert.Len(t, r.committed, 2)
	assert.Equal(t, 1, r.closed)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{encoded(t, "order.created", "o-1")}}

	calls := 0
	runConsumer(t, r, func(context.Context, *Event) error {
		calls++
		if calls < 2 {
			return errHandler
		}
		return nil
	}, nil)

	assert.Equal(t, 2, calls)
	assert.Len(t, r.committed, 1)
}

func TestConsumer_ExhaustedRetriesGoToDLQ(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{encoded(t, "order.created", "o-1")}}
	dlq := &fakeDLQ{}

	calls := 0
	runConsumer(t, r, func(context.Context, *Event) error {
		calls++
		return errHandler
	}, dlq)

	assert.Equal(t, maxHandlerRetries, calls)
	require.Len(t, dlq.msgs, 1)
	assert.ErrorIs(t, dlq.causes[0], errHandler)
	assert.Len(t, r.committed, 1)
}

func TestConsumer_UndecodableMessageIsCommitted(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Topic: "ecommerce.order.created", Value: []byte("{garbage")}}}
	dlq := &fakeDLQ{}

	called := false
	runConsumer(t, r, func(context.Context, *Event) error {
		called = true
		return nil
	}, dlq)

	assert.False(t, called)
	assert.Len(t, dlq.msgs, 1)
	assert.Len(t, r.committed, 1)
}
