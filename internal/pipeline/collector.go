package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Collector folds per-batch metrics into the persisted push-job aggregate and
// detects variant- and job-level completion.
//
// Batch counting deliberately goes through the broker, not through an
// in-memory counter: the loader commits one durable batch-loaded marker with
// every batch, and the collector consumes those markers in the same
// transaction that consumes the metric. Crashes lose neither side, so the
// per-variant totals converge monotonically toward served == total.
type Collector struct {
	broker     broker.Broker
	store      store.MetricsStore
	cache      *cache.MetricsCache
	completion CompletionListener
	logger     *slog.Logger
}

func NewCollector(b broker.Broker, metrics store.MetricsStore, mc *cache.MetricsCache, completion CompletionListener, logger *slog.Logger) *Collector {
	return &Collector{
		broker:     b,
		store:      metrics,
		cache:      mc,
		completion: completion,
		logger:     logger.With("component", "MetricsCollector"),
	}
}

// CollectPending drains the queued metrics of one push job, one short broker
// transaction per metric, and reports whether every variant has completed.
func (c *Collector) CollectPending(ctx context.Context, pushID string) (bool, error) {
	for {
		tx, err := c.broker.Begin(ctx)
		if err != nil {
			return false, err
		}
		msg, ok := tx.ReceiveNoWait(QueueMetrics, broker.MatchPush(pushID))
		if !ok {
			tx.Rollback()
			break
		}

		var vm VariantMetrics
		if err := json.Unmarshal(msg.Body, &vm); err != nil {
			// A metric we cannot parse will never parse; drop it rather than
			// stall the job behind endless redeliveries.
			c.logger.Error("Dropping malformed variant metric.", "push_job", pushID, "err", err)
			_ = tx.Commit()
			continue
		}

		if err := c.apply(ctx, tx, vm); err != nil {
			tx.Rollback()
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
	}

	p, err := c.store.FindPushMessageInformation(ctx, pushID)
	if err != nil {
		return false, fmt.Errorf("failed to load push message information %s: %w", pushID, err)
	}
	return p.ServedVariants == p.TotalVariants, nil
}

// apply runs the state machine for one metric: fold in freshly committed
// load markers, merge into the per-variant entry, persist, then check the
// completion guard.
func (c *Collector) apply(ctx context.Context, tx broker.Tx, vm VariantMetrics) error {
	p, err := c.store.FindPushMessageInformation(ctx, vm.PushMessageInformationID)
	if err != nil {
		return fmt.Errorf("failed to load push message information %s: %w", vm.PushMessageInformationID, err)
	}

	p.TotalReceivers += vm.Receivers

	// Every marker committed before this transaction counts exactly once.
	loaded := 0
	for {
		if _, ok := tx.ReceiveNoWait(QueueBatchLoaded, broker.MatchVariant(vm.VariantID)); !ok {
			break
		}
		loaded++
	}

	update := upmodel.VariantMetricInformation{
		VariantID:      vm.VariantID,
		Receivers:      vm.Receivers,
		ServedBatches:  vm.ServedBatches,
		TotalBatches:   vm.TotalBatches + loaded,
		DeliveryStatus: upmodel.DeliveryStatus(vm.DeliveryStatus),
		Reason:         vm.Reason,
	}

	merged := p.VariantInformation(vm.VariantID)
	if merged != nil {
		merged.Merge(update)
	} else {
		p.VariantInformations = append(p.VariantInformations, update)
		merged = &p.VariantInformations[len(p.VariantInformations)-1]
	}

	if err := c.store.UpdatePushMessageInformation(ctx, p); err != nil {
		return fmt.Errorf("failed to persist push message information %s: %w", p.ID, err)
	}
	c.cache.AddReceivers(p.AppID, vm.Receivers)

	if merged.TotalBatches != merged.ServedBatches {
		// Not converged yet; the trigger redelivery loop will revisit.
		return nil
	}
	if _, ok := tx.ReceiveNoWait(QueueAllBatchesLoaded, broker.MatchVariant(vm.VariantID)); !ok {
		// Counts match but the loader may still produce more batches.
		return nil
	}

	p.ServedVariants++
	if err := c.store.UpdatePushMessageInformation(ctx, p); err != nil {
		return fmt.Errorf("failed to persist variant completion for %s: %w", p.ID, err)
	}
	c.completion.OnVariantCompleted(p.ID, vm.VariantID)
	if p.ServedVariants == p.TotalVariants {
		c.completion.OnPushMessageCompleted(p.ID)
	}
	return nil
}
