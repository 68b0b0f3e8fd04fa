package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// SenderConfig overrides the built-in batch tuning for one push network.
type SenderConfig struct {
	BatchSize     int
	BatchesToLoad int
}

// WorkersConfig sizes the per-stage worker pools.
type WorkersConfig struct {
	Loader     int
	Dispatcher int
	Trigger    int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	Workers                WorkersConfig
	SenderConfigs          map[string]SenderConfig
	TriggerMaxRedeliveries int
	NumIngestWorkers       int

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("TRIGGER_MAX_REDELIVERIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "TRIGGER_MAX_REDELIVERIES", "source", "env")
			cfg.TriggerMaxRedeliveries = n
		}
	}
	if val := os.Getenv("NUM_INGEST_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.NumIngestWorkers = n
		}
	}

	// Worker pool overrides
	if val := os.Getenv("LOADER_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Workers.Loader = n
		}
	}
	if val := os.Getenv("DISPATCHER_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Workers.Dispatcher = n
		}
	}
	if val := os.Getenv("TRIGGER_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Workers.Trigger = n
		}
	}

	// Per-platform batch tuning, e.g. BATCH_SIZE_ANDROID=500
	applySenderOverrides(cfg, logger)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.TriggerMaxRedeliveries <= 0 {
		cfg.TriggerMaxRedeliveries = 10
	}
	if cfg.NumIngestWorkers <= 0 {
		cfg.NumIngestWorkers = 1
	}
	if cfg.Workers.Loader <= 0 {
		cfg.Workers.Loader = 2
	}
	if cfg.Workers.Dispatcher <= 0 {
		cfg.Workers.Dispatcher = 4
	}
	if cfg.Workers.Trigger <= 0 {
		cfg.Workers.Trigger = 2
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// applySenderOverrides reads BATCH_SIZE_<PLATFORM> and
// BATCHES_TO_LOAD_<PLATFORM> for each known platform name.
func applySenderOverrides(cfg *Config, logger *slog.Logger) {
	platforms := []string{"ios", "android", "web_push", "adm", "simple_push", "windows"}
	for _, platform := range platforms {
		suffix := strings.ToUpper(platform)
		sc := cfg.SenderConfigs[platform]
		changed := false
		if val := os.Getenv("BATCH_SIZE_" + suffix); val != "" {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				sc.BatchSize = n
				changed = true
			}
		}
		if val := os.Getenv("BATCHES_TO_LOAD_" + suffix); val != "" {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				sc.BatchesToLoad = n
				changed = true
			}
		}
		if changed {
			logger.Debug("Overriding sender configuration", "platform", platform, "source", "env")
			if cfg.SenderConfigs == nil {
				cfg.SenderConfigs = make(map[string]SenderConfig)
			}
			cfg.SenderConfigs[platform] = sc
		}
	}
}
