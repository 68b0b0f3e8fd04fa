// Package pipeline contains the queue-connected stages of the push dispatch
// core: the job splitter, the token-loading worker, the batch dispatcher, the
// metrics collector, and the trigger loop that drives the collector to
// completion.
package pipeline

import (
	"time"

	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Shared queues.
const (
	QueueBatchLoaded      = "batch-loaded"
	QueueAllBatchesLoaded = "all-batches-loaded"
	QueueMetrics          = "metrics"
	QueueTrigger          = "trigger-metrics"
	QueueDeadLetter       = "dead-letter"
)

// RedeliveryDelay spaces out trigger redeliveries; it caps the CPU cost of
// the convergence loop.
const RedeliveryDelay = time.Second

// VariantJobQueue names the per-network token-loading queue.
func VariantJobQueue(t upmodel.VariantType) string {
	return "variant-jobs." + string(t)
}

// BatchQueue names the per-network batch dispatch queue.
func BatchQueue(t upmodel.VariantType) string {
	return "batches." + string(t)
}
