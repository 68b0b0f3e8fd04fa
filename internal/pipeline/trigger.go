package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
)

// TriggerWorker drives the collector. Each trigger delivery runs one
// collection pass for its push job; the trigger only commits once the job has
// converged, otherwise it rolls back and the broker redelivers it after the
// redelivery delay. Exhausted triggers land on the dead-letter queue and the
// job stays visibly incomplete (servedVariants < totalVariants).
type TriggerWorker struct {
	collector *Collector
	logger    *slog.Logger
}

func NewTriggerWorker(collector *Collector, logger *slog.Logger) *TriggerWorker {
	return &TriggerWorker{
		collector: collector,
		logger:    logger.With("component", "TriggerLoop"),
	}
}

// Handle implements HandlerFunc for the trigger queue.
func (w *TriggerWorker) Handle(ctx context.Context, msg *broker.Message, _ broker.Tx) error {
	var t TriggerMetricCollection
	if err := json.Unmarshal(msg.Body, &t); err != nil {
		return fmt.Errorf("malformed trigger: %w", err)
	}

	complete, err := w.collector.CollectPending(ctx, t.PushMessageInformationID)
	if err != nil {
		return err
	}
	if !complete {
		w.logger.Debug("Push job not converged yet, deferring trigger.",
			"push_job", t.PushMessageInformationID, "attempt", msg.Attempt)
		return ErrRetryLater
	}
	return nil
}
