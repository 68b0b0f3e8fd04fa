package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
)

// ErrRetryLater asks the pool to roll back without logging the delivery as a
// failure. The trigger loop returns it while a push job has not converged
// yet.
var ErrRetryLater = errors.New("pipeline: retry later")

// HandlerFunc processes one delivery inside its transaction. Returning nil
// commits; returning an error rolls back and lets the broker redeliver.
type HandlerFunc func(ctx context.Context, msg *broker.Message, tx broker.Tx) error

// Pool runs a fixed number of workers against one queue. Each worker
// processes one message at a time to completion; concurrency arises across
// workers, not inside one.
type Pool struct {
	name    string
	queue   string
	workers int
	broker  broker.Broker
	handler HandlerFunc
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(name, queue string, workers int, b broker.Broker, handler HandlerFunc, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		name:    name,
		queue:   queue,
		workers: workers,
		broker:  b,
		handler: handler,
		logger:  logger.With("component", "Pool", "pool", name),
	}
}

// Start launches the workers. They stop polling once ctx (or Stop) cancels,
// after finishing their in-flight message.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.logger.Debug("Pool started.", "queue", p.queue, "workers", p.workers)
}

// Stop cancels polling and waits for in-flight work to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Debug("Pool stopped.")
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		msg, tx, err := p.broker.Receive(ctx, p.queue)
		if err != nil {
			// Context cancelled; any pending transaction was never opened.
			return
		}
		p.handle(ctx, msg, tx)
	}
}

func (p *Pool) handle(ctx context.Context, msg *broker.Message, tx broker.Tx) {
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			p.logger.Error("Handler panicked, rolled back.", "msg_id", msg.ID, "panic", fmt.Sprint(r))
		}
	}()

	if err := p.handler(ctx, msg, tx); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrRetryLater) {
			p.logger.Debug("Delivery deferred.", "msg_id", msg.ID, "attempt", msg.Attempt)
		} else {
			p.logger.Error("Delivery failed, rolled back.", "msg_id", msg.ID, "attempt", msg.Attempt, "err", err)
		}
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Error("Commit failed.", "msg_id", msg.ID, "err", err)
	}
}
