package membroker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush/internal/broker/membroker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBroker(cfg membroker.Config) *membroker.Broker {
	return membroker.New(cfg, newTestLogger())
}

func TestBroker_SendReceiveCommit(t *testing.T) {
	b := newBroker(membroker.Defaults())
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("one")}))

	msg, tx, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), msg.Body)
	assert.Equal(t, 1, msg.Attempt)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 0, b.Depth("q"))
}

func TestBroker_RollbackRedelivers(t *testing.T) {
	b := newBroker(membroker.Config{
		MaxDeliveries:   3,
		RedeliveryDelay: 10 * time.Millisecond,
		DeadLetterQueue: "dlq",
	})
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("x")}))

	msg, tx, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Attempt)
	tx.Rollback()

	// Redelivery is delayed, then the attempt counter climbs.
	msg, tx, err = b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Attempt)
	require.NoError(t, tx.Commit())
}

func TestBroker_DeadLetterAfterMaxDeliveries(t *testing.T) {
	b := newBroker(membroker.Config{
		MaxDeliveries:   2,
		RedeliveryDelay: time.Millisecond,
		DeadLetterQueue: "dlq",
	})
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("poison"), DupID: "p"}))

	for i := 0; i < 2; i++ {
		_, tx, err := b.Receive(ctx, "q")
		require.NoError(t, err)
		tx.Rollback()
	}

	assert.Equal(t, 0, b.Depth("q"))
	require.Equal(t, 1, b.Depth("dlq"))

	dead, tx, err := b.Receive(ctx, "dlq")
	require.NoError(t, err)
	defer tx.Rollback()
	assert.Equal(t, []byte("poison"), dead.Body)
	assert.Equal(t, "q", dead.Properties["origin"])
}

func TestBroker_DuplicateDetection(t *testing.T) {
	b := newBroker(membroker.Defaults())
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("a"), DupID: "job-1"}))
	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("b"), DupID: "job-1"}))
	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("c"), DupID: "job-2"}))

	assert.Equal(t, 2, b.Depth("q"))

	// The dup id stays burned even after the first copy is consumed.
	_, tx, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, b.Send(ctx, "q", broker.Message{Body: []byte("d"), DupID: "job-1"}))
	assert.Equal(t, 1, b.Depth("q"))
}

func TestBroker_NotBeforeDelaysDelivery(t *testing.T) {
	b := newBroker(membroker.Defaults())
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{
		Body:      []byte("later"),
		NotBefore: time.Now().Add(50 * time.Millisecond),
	}))

	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _, err := b.Receive(shortCtx, "q")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	msg, tx, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	defer tx.Rollback()
	assert.Equal(t, []byte("later"), msg.Body)
}

func TestTx_ReceiveNoWaitSelector(t *testing.T) {
	b := newBroker(membroker.Defaults())
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "q", broker.Message{
		Body:       []byte("v1"),
		Properties: map[string]string{broker.PropVariantID: "v1"},
	}))
	require.NoError(t, b.Send(ctx, "q", broker.Message{
		Body:       []byte("v2"),
		Properties: map[string]string{broker.PropVariantID: "v2"},
	}))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)

	msg, ok := tx.ReceiveNoWait("q", broker.MatchVariant("v2"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), msg.Body)

	_, ok = tx.ReceiveNoWait("q", broker.MatchVariant("v2"))
	assert.False(t, ok)

	// Rollback returns the drained message to its queue.
	tx.Rollback()
	assert.Equal(t, 2, b.Depth("q"))
}

func TestTx_StagedSendsOnlyCommitOnce(t *testing.T) {
	b := newBroker(membroker.Defaults())
	ctx := context.Background()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	tx.Send("out", broker.Message{Body: []byte("staged")})
	assert.Equal(t, 0, b.Depth("out"))

	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, b.Depth("out"))

	tx2, err := b.Begin(ctx)
	require.NoError(t, err)
	tx2.Send("out", broker.Message{Body: []byte("dropped")})
	tx2.Rollback()
	assert.Equal(t, 1, b.Depth("out"))
}

func TestTx_RollbackRestoresDeliveryAndDrains(t *testing.T) {
	b := newBroker(membroker.Config{
		MaxDeliveries:   10,
		RedeliveryDelay: time.Millisecond,
		DeadLetterQueue: "dlq",
	})
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, "work", broker.Message{Body: []byte("job")}))
	require.NoError(t, b.Send(ctx, "markers", broker.Message{Body: []byte("m1")}))

	_, tx, err := b.Receive(ctx, "work")
	require.NoError(t, err)
	_, ok := tx.ReceiveNoWait("markers", broker.Any())
	require.True(t, ok)

	tx.Rollback()

	assert.Equal(t, 1, b.Depth("work"))
	assert.Equal(t, 1, b.Depth("markers"))
}
