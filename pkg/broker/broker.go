// Package broker defines the queueing contract the dispatch pipeline is built
// on: named durable queues with property selectors, duplicate-detection ids,
// delayed delivery, and transactional receive.
package broker

import (
	"context"
	"time"
)

// Property keys the pipeline sets on messages. Selectors only ever match on
// these.
const (
	PropVariantID = "variantID"
	PropPushID    = "pushMessageInformationId"
)

// Message is one queued item. Body is an opaque payload; Properties carry
// selector-matchable metadata.
type Message struct {
	ID         string
	Body       []byte
	Properties map[string]string

	// DupID is a broker-enforced idempotency key: a second send with the same
	// DupID on the same queue is dropped.
	DupID string

	// NotBefore withholds the message from consumers until the given time.
	// Zero means immediately deliverable.
	NotBefore time.Time

	// Attempt is the 1-based delivery attempt, set by the broker.
	Attempt int
}

// Property returns a property value, or "".
func (m *Message) Property(key string) string {
	if m.Properties == nil {
		return ""
	}
	return m.Properties[key]
}

// Selector is a broker-side predicate over message properties. The zero value
// matches every message.
type Selector struct {
	Key   string
	Value string
}

// Any matches every message on the queue.
func Any() Selector { return Selector{} }

// MatchVariant selects messages for one variant.
func MatchVariant(variantID string) Selector {
	return Selector{Key: PropVariantID, Value: variantID}
}

// MatchPush selects messages for one push job.
func MatchPush(pushID string) Selector {
	return Selector{Key: PropPushID, Value: pushID}
}

// Matches reports whether the selector accepts the message.
func (s Selector) Matches(m *Message) bool {
	return s.Key == "" || m.Property(s.Key) == s.Value
}

// Tx is one broker transaction. Sends are staged until Commit; messages
// consumed with ReceiveNoWait are returned to their queues on Rollback. When
// the transaction was opened by Receive, the delivery that opened it is only
// acknowledged on Commit and is redelivered after Rollback.
type Tx interface {
	// Send stages a message for the named queue.
	Send(queue string, msg Message)

	// ReceiveNoWait consumes the next deliverable message matching the
	// selector without blocking. It reports false when no such message is
	// queued.
	ReceiveNoWait(queue string, sel Selector) (*Message, bool)

	Commit() error
	Rollback()
}

// Broker is the queueing backend.
type Broker interface {
	// Receive blocks until a message is deliverable on the named queue, then
	// opens a transaction tied to that delivery. It returns the context error
	// when ctx is cancelled first.
	Receive(ctx context.Context, queue string) (*Message, Tx, error)

	// Begin opens a transaction not tied to a delivery, for send-only or
	// drain-only work.
	Begin(ctx context.Context) (Tx, error)

	// Send enqueues one message outside any transaction.
	Send(ctx context.Context, queue string, msg Message) error
}
