package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type OpenSearchConfig struct {
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLSSkipVerify   bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix     string `mapstructure:"index_prefix"`
	ShardCount      int    `mapstructure:"shard_count"`
	ReplicaCount    int    `mapstructure:"replica_count"`
	RefreshInterval string `mapstructure:"refresh_interval"`
}

type ConsumerConfig struct {
	// MaxRetries bounds write attempts per event before the poison
	// policy applies.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the delay between write attempts.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// PoisonPolicy is "skip" (log and advance, the default - this path
	// favors freshness over completeness) or "halt" (stop on the event).
	PoisonPolicy string `mapstructure:"poison_policy"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "driftline-events")
	v.SetDefault("opensearch.shard_count", 1)
	v.SetDefault("opensearch.replica_count", 0)
	v.SetDefault("opensearch.refresh_interval", "1s")
	v.SetDefault("consumer.max_retries", 3)
	v.SetDefault("consumer.retry_backoff", "500ms")
	v.SetDefault("consumer.poison_policy", "skip")
	v.SetDefault("metrics.port", 9101)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/driftline/rowsink")
	}

	v.SetEnvPrefix("ROWSINK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
