// Package unifiedpush assembles the push dispatch core: the ingestion
// pipeline, the queue worker pools, and the HTTP read path.
package unifiedpush

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-unifiedpush/internal/api"
	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/ingest"
	"github.com/tinywideclouds/go-unifiedpush/internal/pipeline"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/broker"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
	"github.com/tinywideclouds/go-unifiedpush/unifiedpush/config"
)

// Stores groups the persistence dependencies the pipeline needs.
type Stores struct {
	Installations store.InstallationStore
	Variants      store.VariantStore
	Metrics       store.MetricsStore
}

type Wrapper struct {
	*microservice.BaseServer
	ingestService *messagepipeline.StreamingService[ingest.SendRequest]
	pools         []*pipeline.Pool
	logger        *slog.Logger

	// Splitter is exposed for direct (non-queued) submissions.
	Splitter *pipeline.Splitter
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	b broker.Broker,
	stores Stores,
	senders *sender.Registry,
	metricsCache *cache.MetricsCache,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline stages
	senderConfigs := sender.NewConfigRegistry(senderOverrides(cfg))
	completion := &pipeline.LogCompletionListener{Logger: logger}

	splitter := pipeline.NewSplitter(b, stores.Metrics, stores.Variants, metricsCache, completion, logger)
	loader := pipeline.NewLoaderWorker(pipeline.NewTokenLoader(stores.Installations, senderConfigs), senderConfigs, logger)
	dispatcher := pipeline.NewDispatcher(senders, stores.Variants, stores.Metrics, logger)
	collector := pipeline.NewCollector(b, stores.Metrics, metricsCache, completion, logger)
	trigger := pipeline.NewTriggerWorker(collector, logger)

	var pools []*pipeline.Pool
	for _, t := range senders.Types() {
		pools = append(pools,
			pipeline.NewPool("loader."+string(t), pipeline.VariantJobQueue(t), cfg.Workers.Loader, b, loader.Handle, logger),
			pipeline.NewPool("dispatcher."+string(t), pipeline.BatchQueue(t), cfg.Workers.Dispatcher, b, dispatcher.Handle, logger),
		)
	}
	pools = append(pools,
		pipeline.NewPool("trigger", pipeline.QueueTrigger, cfg.Workers.Trigger, b, trigger.Handle, logger))

	// 3. Ingestion
	ingestService, err := messagepipeline.NewStreamingService[ingest.SendRequest](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumIngestWorkers},
		consumer,
		ingest.SendRequestTransformer,
		ingest.NewProcessor(splitter, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion service: %w", err)
	}

	// 4. API (metrics read path)
	metricsAPI := api.NewMetricsAPI(stores.Metrics, metricsCache, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}
	handle("GET /rest/metrics/messages/application/{id}", metricsAPI.MessagesForApplication)

	mux.Handle("OPTIONS /rest/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight; headers handled by middleware.
	})))

	return &Wrapper{
		BaseServer:    baseServer,
		ingestService: ingestService,
		pools:         pools,
		logger:        logger,
		Splitter:      splitter,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Dispatch pipelines starting...")
	for _, p := range w.pools {
		p.Start(ctx)
	}
	if err := w.ingestService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.ingestService.Stop(ctx); err != nil {
		w.logger.Error("Ingestion shutdown failed.", "err", err)
		finalErr = err
	}
	// Pools drain their in-flight message; uncommitted transactions abort and
	// the broker redelivers on next start.
	for _, p := range w.pools {
		p.Stop()
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

func senderOverrides(cfg *config.Config) map[upmodel.VariantType]sender.Configuration {
	if len(cfg.SenderConfigs) == 0 {
		return nil
	}
	out := make(map[upmodel.VariantType]sender.Configuration, len(cfg.SenderConfigs))
	for platform, sc := range cfg.SenderConfigs {
		out[upmodel.VariantType(platform)] = sender.Configuration{
			BatchSize:     sc.BatchSize,
			BatchesToLoad: sc.BatchesToLoad,
		}
	}
	return out
}
