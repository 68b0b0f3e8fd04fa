package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlSenderConfig struct {
	BatchSize     int `yaml:"batch_size"`
	BatchesToLoad int `yaml:"batches_to_load"`
}

type YamlWorkersConfig struct {
	Loader     int `yaml:"loader"`
	Dispatcher int `yaml:"dispatcher"`
	Trigger    int `yaml:"trigger"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                      `yaml:"project_id"`
	ListenAddr             string                      `yaml:"listen_addr"`
	TopicID                string                      `yaml:"topic_id"`
	SubscriptionID         string                      `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                      `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig              `yaml:"cors"`
	RedisConfig            YamlRedisConfig             `yaml:"redis"`
	Workers                YamlWorkersConfig           `yaml:"workers"`
	SenderConfigs          map[string]YamlSenderConfig `yaml:"sender_configs"`
	TriggerMaxRedeliveries int                         `yaml:"trigger_max_redeliveries"`
	NumIngestWorkers       int                         `yaml:"num_ingest_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Workers: WorkersConfig{
			Loader:     baseCfg.Workers.Loader,
			Dispatcher: baseCfg.Workers.Dispatcher,
			Trigger:    baseCfg.Workers.Trigger,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		TriggerMaxRedeliveries: baseCfg.TriggerMaxRedeliveries,
		NumIngestWorkers:       baseCfg.NumIngestWorkers,
	}

	if len(baseCfg.SenderConfigs) > 0 {
		cfg.SenderConfigs = make(map[string]SenderConfig, len(baseCfg.SenderConfigs))
		for platform, sc := range baseCfg.SenderConfigs {
			cfg.SenderConfigs[platform] = SenderConfig{
				BatchSize:     sc.BatchSize,
				BatchesToLoad: sc.BatchesToLoad,
			}
		}
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
