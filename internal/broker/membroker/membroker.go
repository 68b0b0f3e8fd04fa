// Package membroker is an in-process implementation of the broker contract.
// It backs the dispatch pipeline in single-node deployments and in tests.
// Queues live in memory; durability across restarts comes from upstream
// redelivery (the ingestion subscription is only acknowledged once the
// splitter has committed its seed jobs).
package membroker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
)

// Config tunes redelivery behaviour. The zero value is not usable; call
// Defaults or fill every field.
type Config struct {
	// MaxDeliveries routes a message to the dead-letter queue once it has
	// been delivered (and rolled back) this many times.
	MaxDeliveries int
	// RedeliveryDelay is the not-before offset applied when a transaction
	// rolls back.
	RedeliveryDelay time.Duration
	// DeadLetterQueue receives exhausted messages.
	DeadLetterQueue string
}

// Defaults mirrors the broker settings the pipeline expects.
func Defaults() Config {
	return Config{
		MaxDeliveries:   10,
		RedeliveryDelay: time.Second,
		DeadLetterQueue: "dead-letter",
	}
}

// Broker is the in-memory broker. The zero value is not usable; use New.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*memQueue
	seq    int64
}

type memQueue struct {
	entries []*entry
	dupSeen map[string]struct{}
}

type entry struct {
	msg       broker.Message
	notBefore time.Time
}

func New(cfg Config, logger *slog.Logger) *Broker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = Defaults().MaxDeliveries
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = Defaults().RedeliveryDelay
	}
	if cfg.DeadLetterQueue == "" {
		cfg.DeadLetterQueue = Defaults().DeadLetterQueue
	}
	return &Broker{
		cfg:    cfg,
		logger: logger.With("component", "MemBroker"),
		queues: make(map[string]*memQueue),
	}
}

// queue returns the named queue, creating it on first use. Caller holds mu.
func (b *Broker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{dupSeen: make(map[string]struct{})}
		b.queues[name] = q
	}
	return q
}

// enqueue stages msg on the named queue, honouring duplicate detection.
// Caller holds mu.
func (b *Broker) enqueue(name string, msg broker.Message) {
	q := b.queue(name)
	if msg.DupID != "" {
		if _, seen := q.dupSeen[msg.DupID]; seen {
			return
		}
		q.dupSeen[msg.DupID] = struct{}{}
	}
	if msg.ID == "" {
		b.seq++
		msg.ID = "m-" + strconv.FormatInt(b.seq, 10)
	}
	if msg.Attempt == 0 {
		msg.Attempt = 1
	}
	q.entries = append(q.entries, &entry{msg: msg, notBefore: msg.NotBefore})
}

// take removes and returns the first deliverable entry matching sel, or nil.
// Caller holds mu.
func (b *Broker) take(name string, sel broker.Selector, now time.Time) *entry {
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	for i, e := range q.entries {
		if e.notBefore.After(now) {
			continue
		}
		if !sel.Matches(&e.msg) {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e
	}
	return nil
}

// restore returns a consumed entry to its queue after a rollback, bypassing
// duplicate detection (the dup id was recorded when it was first sent).
// Caller holds mu.
func (b *Broker) restore(name string, e *entry) {
	q := b.queue(name)
	q.entries = append(q.entries, e)
}

// redeliver schedules a rolled-back delivery, or dead-letters it once the
// delivery cap is reached. Caller holds mu.
func (b *Broker) redeliver(name string, e *entry) {
	if e.msg.Attempt >= b.cfg.MaxDeliveries {
		b.logger.Warn("Message exhausted redeliveries, dead-lettering.",
			"queue", name, "msg_id", e.msg.ID, "attempts", e.msg.Attempt)
		dead := e.msg
		dead.DupID = "" // DLQ keeps every exhausted message
		if dead.Properties == nil {
			dead.Properties = make(map[string]string)
		}
		dead.Properties["origin"] = name
		b.enqueue(b.cfg.DeadLetterQueue, dead)
		return
	}
	e.msg.Attempt++
	e.notBefore = time.Now().Add(b.cfg.RedeliveryDelay)
	b.restore(name, e)
}

func (b *Broker) Send(_ context.Context, queue string, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueue(queue, msg)
	return nil
}

func (b *Broker) Begin(_ context.Context) (broker.Tx, error) {
	return &tx{b: b}, nil
}

func (b *Broker) Receive(ctx context.Context, queue string) (*broker.Message, broker.Tx, error) {
	for {
		b.mu.Lock()
		e := b.take(queue, broker.Any(), time.Now())
		b.mu.Unlock()
		if e != nil {
			t := &tx{b: b, delivery: e, deliveryQueue: queue}
			msg := e.msg
			return &msg, t, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Depth reports how many messages are queued (deliverable or not). Intended
// for tests and introspection.
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q.entries)
}

type staged struct {
	queue string
	msg   broker.Message
}

type consumed struct {
	queue string
	e     *entry
}

type tx struct {
	b             *Broker
	delivery      *entry
	deliveryQueue string
	sends         []staged
	consumes      []consumed
	done          bool
}

func (t *tx) Send(queue string, msg broker.Message) {
	t.sends = append(t.sends, staged{queue: queue, msg: msg})
}

func (t *tx) ReceiveNoWait(queue string, sel broker.Selector) (*broker.Message, bool) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	e := t.b.take(queue, sel, time.Now())
	if e == nil {
		return nil, false
	}
	t.consumes = append(t.consumes, consumed{queue: queue, e: e})
	msg := e.msg
	return &msg, true
}

func (t *tx) Commit() error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	for _, s := range t.sends {
		t.b.enqueue(s.queue, s.msg)
	}
	// The delivery that opened the transaction is acknowledged by simply not
	// restoring it; drained messages stay consumed.
	return nil
}

func (t *tx) Rollback() {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	for _, c := range t.consumes {
		t.b.restore(c.queue, c.e)
	}
	if t.delivery != nil {
		t.b.redeliver(t.deliveryQueue, t.delivery)
	}
}
