package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// TokenLoader pages device tokens out of the store in windows sized by the
// network's sender configuration.
type TokenLoader struct {
	installations store.InstallationStore
	configs       *sender.ConfigRegistry
}

func NewTokenLoader(installations store.InstallationStore, configs *sender.ConfigRegistry) *TokenLoader {
	return &TokenLoader{installations: installations, configs: configs}
}

// LoadNext reads the next window of up to tokensToLoad tokens. An empty first
// page comes back as (no tokens, no cursor, last).
func (l *TokenLoader) LoadNext(ctx context.Context, variantID string, variantType upmodel.VariantType, criteria upmodel.Criteria, cursor string) (store.TokenPage, error) {
	cfg := l.configs.For(variantType)
	return l.installations.FindDeviceTokens(ctx, variantID, criteria, cursor, cfg.TokensToLoad())
}

// LoaderWorker consumes variant jobs: it loads one token window, partitions
// it into batches, and enqueues the batch jobs together with their durable
// load markers. Everything a single invocation produces commits in one broker
// transaction, so a committed batch is always accompanied by its marker.
type LoaderWorker struct {
	loader  *TokenLoader
	configs *sender.ConfigRegistry
	logger  *slog.Logger
}

func NewLoaderWorker(loader *TokenLoader, configs *sender.ConfigRegistry, logger *slog.Logger) *LoaderWorker {
	return &LoaderWorker{
		loader:  loader,
		configs: configs,
		logger:  logger.With("component", "LoaderWorker"),
	}
}

// Handle implements HandlerFunc for the per-network variant-job queues.
func (w *LoaderWorker) Handle(ctx context.Context, msg *broker.Message, tx broker.Tx) error {
	var job VariantJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return fmt.Errorf("malformed variant job: %w", err)
	}
	variantType := upmodel.VariantType(job.VariantType)

	message, err := upmodel.UnmarshalMessage(job.Message)
	if err != nil {
		return fmt.Errorf("malformed message in variant job: %w", err)
	}

	page, err := w.loader.LoadNext(ctx, job.VariantID, variantType, message.Criteria, job.Cursor)
	if err != nil {
		return fmt.Errorf("token load failed for variant %s: %w", job.VariantID, err)
	}

	batchSize := w.configs.For(variantType).BatchSize
	batches := partition(page.Tokens, batchSize)

	variantProps := map[string]string{
		broker.PropVariantID: job.VariantID,
		broker.PropPushID:    job.PushMessageInformationID,
	}

	for i, tokens := range batches {
		batch := BatchJob{
			PushMessageInformationID: job.PushMessageInformationID,
			VariantID:                job.VariantID,
			Message:                  job.Message,
			Tokens:                   tokens,
			LastBatch:                page.Last && i == len(batches)-1,
		}
		tx.Send(BatchQueue(variantType), broker.Message{Body: mustMarshal(batch), Properties: variantProps})
		tx.Send(QueueBatchLoaded, broker.Message{Properties: variantProps})
	}

	if page.Last {
		tx.Send(QueueAllBatchesLoaded, broker.Message{Properties: variantProps})
		if len(batches) == 0 && job.Cursor == "" {
			// A variant with no matching installations produces no batch
			// outcomes, so hand the collector a zero-valued metric it can
			// complete the variant with.
			empty := VariantMetrics{
				PushMessageInformationID: job.PushMessageInformationID,
				VariantID:                job.VariantID,
			}
			tx.Send(QueueMetrics, broker.Message{Body: mustMarshal(empty), Properties: variantProps})
		}
	} else {
		next := job
		next.Cursor = page.Cursor
		tx.Send(VariantJobQueue(variantType), broker.Message{Body: mustMarshal(next), Properties: variantProps})
	}

	trigger := TriggerMetricCollection{PushMessageInformationID: job.PushMessageInformationID}
	tx.Send(QueueTrigger, broker.Message{
		Body:       mustMarshal(trigger),
		Properties: map[string]string{broker.PropPushID: job.PushMessageInformationID},
		// At most one trigger per push job is ever queued; the redelivery
		// loop keeps it alive until the job converges.
		DupID:     job.PushMessageInformationID + ":trigger",
		NotBefore: time.Now().Add(RedeliveryDelay),
	})

	w.logger.Debug("Token window loaded.",
		"push_job", job.PushMessageInformationID, "variant", job.VariantID,
		"tokens", len(page.Tokens), "batches", len(batches), "last", page.Last)
	return nil
}

func partition(tokens []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}
	var out [][]string
	for start := 0; start < len(tokens); start += batchSize {
		end := start + batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[start:end])
	}
	return out
}
