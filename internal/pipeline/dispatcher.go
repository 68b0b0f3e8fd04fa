package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Dispatcher consumes batch jobs, drives the platform sender, and emits the
// per-batch metric. The metric commits in the same transaction that
// acknowledges the batch.
type Dispatcher struct {
	senders  *sender.Registry
	variants store.VariantStore
	metrics  store.MetricsStore
	logger   *slog.Logger
}

func NewDispatcher(senders *sender.Registry, variants store.VariantStore, metrics store.MetricsStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		senders:  senders,
		variants: variants,
		metrics:  metrics,
		logger:   logger.With("component", "Dispatcher"),
	}
}

// Handle implements HandlerFunc for the per-network batch queues.
func (d *Dispatcher) Handle(ctx context.Context, msg *broker.Message, tx broker.Tx) error {
	var batch BatchJob
	if err := json.Unmarshal(msg.Body, &batch); err != nil {
		return fmt.Errorf("malformed batch job: %w", err)
	}

	variant, err := d.variants.FindVariantByID(ctx, batch.VariantID)
	if err != nil {
		return fmt.Errorf("failed to resolve variant %s: %w", batch.VariantID, err)
	}

	message, err := upmodel.UnmarshalMessage(batch.Message)
	if err != nil {
		return fmt.Errorf("malformed message in batch job: %w", err)
	}

	pushSender, ok := d.senders.For(variant.Type)
	if !ok {
		return fmt.Errorf("no sender registered for variant type %s", variant.Type)
	}

	cb := newSyncCallback()
	pushSender.Send(ctx, *variant, batch.Tokens, message, batch.PushMessageInformationID, cb)
	outcome, err := cb.await(ctx)
	if err != nil {
		return err
	}

	metric := VariantMetrics{
		PushMessageInformationID: batch.PushMessageInformationID,
		VariantID:                batch.VariantID,
		Receivers:                int64(len(batch.Tokens)),
		ServedBatches:            1,
		DeliveryStatus:           string(upmodel.DeliveryDelivered),
	}
	if !outcome.ok {
		metric.DeliveryStatus = string(upmodel.DeliveryFailed)
		metric.Reason = outcome.reason
		d.logger.Warn("Batch delivery failed.",
			"push_job", batch.PushMessageInformationID, "variant", batch.VariantID, "reason", outcome.reason)

		// Best effort: the rejection record is diagnostic, the metric is the
		// source of truth.
		errStatus := upmodel.VariantErrorStatus{
			PushJobID:   batch.PushMessageInformationID,
			VariantID:   batch.VariantID,
			ErrorReason: outcome.reason,
		}
		if err := d.metrics.InsertVariantErrorStatus(ctx, errStatus); err != nil {
			d.logger.Warn("Failed to record variant error status.", "push_job", batch.PushMessageInformationID, "err", err)
		}
	}

	tx.Send(QueueMetrics, broker.Message{
		Body: mustMarshal(metric),
		Properties: map[string]string{
			broker.PropVariantID: batch.VariantID,
			broker.PropPushID:    batch.PushMessageInformationID,
		},
	})
	return nil
}

type outcome struct {
	ok     bool
	reason string
}

// syncCallback lets the worker block until the sender has reported exactly
// one outcome. A second report is ignored.
type syncCallback struct {
	once sync.Once
	ch   chan outcome
}

func newSyncCallback() *syncCallback {
	return &syncCallback{ch: make(chan outcome, 1)}
}

func (c *syncCallback) OnSuccess() {
	c.once.Do(func() { c.ch <- outcome{ok: true} })
}

func (c *syncCallback) OnError(reason string) {
	c.once.Do(func() { c.ch <- outcome{reason: reason} })
}

func (c *syncCallback) await(ctx context.Context) (outcome, error) {
	select {
	case o := <-c.ch:
		return o, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}
