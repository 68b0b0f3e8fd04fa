package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// SubmitMeta captures who handed us the push request.
type SubmitMeta struct {
	IPAddress        string
	ClientIdentifier string
}

// Splitter accepts one push request, persists its aggregate document, and
// expands it into per-variant token-loading jobs.
type Splitter struct {
	broker     broker.Broker
	metrics    store.MetricsStore
	variants   store.VariantStore
	cache      *cache.MetricsCache
	completion CompletionListener
	logger     *slog.Logger
}

func NewSplitter(b broker.Broker, metrics store.MetricsStore, variants store.VariantStore, mc *cache.MetricsCache, completion CompletionListener, logger *slog.Logger) *Splitter {
	return &Splitter{
		broker:     b,
		metrics:    metrics,
		variants:   variants,
		cache:      mc,
		completion: completion,
		logger:     logger.With("component", "JobSplitter"),
	}
}

// Submit splits the message across the application's targeted variants and
// returns the push job id. The aggregate document is persisted before any
// sub-job is enqueued, so the collector always finds it.
func (s *Splitter) Submit(ctx context.Context, appID string, message upmodel.UnifiedPushMessage, meta SubmitMeta) (string, error) {
	variants, err := s.variants.FindVariantsForApplication(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve variants for application %s: %w", appID, err)
	}
	targeted := filterVariants(variants, message.Criteria.Variants)

	raw, err := message.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to serialize push message: %w", err)
	}

	p := &upmodel.PushMessageInformation{
		ID:               uuid.NewString(),
		AppID:            appID,
		RawJSONMessage:   string(raw),
		SubmitDate:       time.Now().UTC(),
		IPAddress:        meta.IPAddress,
		ClientIdentifier: meta.ClientIdentifier,
		TotalVariants:    len(targeted),
	}
	if err := s.metrics.CreatePushMessageInformation(ctx, p); err != nil {
		return "", fmt.Errorf("failed to persist push message information: %w", err)
	}
	s.cache.RecordSubmission(appID)

	if len(targeted) == 0 {
		// Nothing to serve; the job is complete at split time.
		s.logger.Info("Push message targets no variants.", "push_job", p.ID, "app", appID)
		s.completion.OnPushMessageCompleted(p.ID)
		return p.ID, nil
	}

	for _, v := range targeted {
		job := VariantJob{
			PushMessageInformationID: p.ID,
			VariantID:                v.ID,
			VariantType:              string(v.Type),
			Message:                  raw,
		}
		err := s.broker.Send(ctx, VariantJobQueue(v.Type), broker.Message{
			Body: mustMarshal(job),
			Properties: map[string]string{
				broker.PropVariantID: v.ID,
				broker.PropPushID:    p.ID,
			},
			// A second seed enqueue for the same (job, variant) is a no-op.
			DupID: p.ID + ":" + v.ID + ":seed",
		})
		if err != nil {
			return "", fmt.Errorf("failed to enqueue seed job for variant %s: %w", v.ID, err)
		}
	}

	s.logger.Info("Push message split.", "push_job", p.ID, "app", appID, "variants", len(targeted))
	return p.ID, nil
}

// filterVariants applies the submission's variant id allow-list.
func filterVariants(variants []upmodel.Variant, allowList []string) []upmodel.Variant {
	if len(allowList) == 0 {
		return variants
	}
	allowed := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allowed[id] = struct{}{}
	}
	var out []upmodel.Variant
	for _, v := range variants {
		if _, ok := allowed[v.ID]; ok {
			out = append(out, v)
		}
	}
	return out
}
