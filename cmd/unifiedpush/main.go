package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-unifiedpush/internal/broker/membroker"
	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/pipeline"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender/apns"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender/fcm"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender/web"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	fsStore "github.com/tinywideclouds/go-unifiedpush/internal/store/firestore"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
	"github.com/tinywideclouds/go-unifiedpush/unifiedpush"
	"github.com/tinywideclouds/go-unifiedpush/unifiedpush/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-unifiedpush")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores (Variant lookups decorated with Redis) ---
	persistentStore := fsStore.NewStore(fsClient)
	var variantStore store.VariantStore = persistentStore
	logger.Info("Stores initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		variantStore = cache.NewCachedVariantStore(variantStore, redisClient, time.Hour)
		logger.Info("VariantStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Broker ---
	brokerCfg := membroker.Defaults()
	brokerCfg.MaxDeliveries = cfg.TriggerMaxRedeliveries
	brokerCfg.RedeliveryDelay = pipeline.RedeliveryDelay
	brokerCfg.DeadLetterQueue = pipeline.QueueDeadLetter
	b := membroker.New(brokerCfg, logger)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Senders ---
	// APNs and VAPID credentials come from the variant documents; FCM uses
	// the ambient project credentials.
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}

	senders := sender.NewRegistry()
	senders.Register(upmodel.VariantTypeAndroid, fcm.NewSender(fcmMessaging, persistentStore, logger))
	senders.Register(upmodel.VariantTypeIOS, apns.NewSender(apns.NewTokenClient, persistentStore, logger))
	senders.Register(upmodel.VariantTypeWebPush, web.NewSender(persistentStore, logger))

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Ingestion consumer failed", "err", err)
		os.Exit(1)
	}

	service, err := unifiedpush.New(
		cfg,
		consumer,
		b,
		unifiedpush.Stores{
			Installations: persistentStore,
			Variants:      variantStore,
			Metrics:       persistentStore,
		},
		senders,
		cache.NewMetricsCache(),
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := pubsubResource(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topicID := pubsubResource(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := pubsubResource(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func pubsubResource(project, id, kind string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
