package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Ledger source selection for the engine.
const (
	SourceChain = "chain" // direct contract event subscription
	SourceKafka = "kafka" // relay topic consumer
	SourceMock  = "mock"  // canned events for local development
)

// WorkerConfig defines configuration for the synchronization engine's
// apply pipeline.
type WorkerConfig struct {
	Shards             int    `yaml:"shards"`              // Parallel apply partitions (per-batch ordering preserved)
	ShardBuffer        int    `yaml:"shard_buffer"`        // Queued events per shard
	ApplyTimeout       string `yaml:"apply_timeout"`       // Timeout for one atomic apply
	MaxApplyRetries    int    `yaml:"max_apply_retries"`   // Store retry budget before halting a shard
	ApplyRetryDelay    string `yaml:"apply_retry_delay"`   // Initial delay between store retries
	ResubscribeMin     string `yaml:"resubscribe_min"`     // Initial ledger reconnect backoff
	ResubscribeMax     string `yaml:"resubscribe_max"`     // Backoff cap
	CheckpointInterval string `yaml:"checkpoint_interval"` // Resume point persistence cadence
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
		fmt.Printf("Warning: worker.shards not set or invalid, defaulting to %d\n", c.Shards)
	}
	if c.ShardBuffer <= 0 {
		c.ShardBuffer = 256
		fmt.Printf("Warning: worker.shard_buffer not set or invalid, defaulting to %d\n", c.ShardBuffer)
	}
	if c.ApplyTimeout == "" {
		c.ApplyTimeout = "10s"
		fmt.Printf("Warning: worker.apply_timeout not set, defaulting to %s\n", c.ApplyTimeout)
	}
	if c.MaxApplyRetries <= 0 {
		c.MaxApplyRetries = 5
		fmt.Printf("Warning: worker.max_apply_retries not set or invalid, defaulting to %d\n", c.MaxApplyRetries)
	}
	if c.ApplyRetryDelay == "" {
		c.ApplyRetryDelay = "500ms"
		fmt.Printf("Warning: worker.apply_retry_delay not set, defaulting to %s\n", c.ApplyRetryDelay)
	}
	if c.ResubscribeMin == "" {
		c.ResubscribeMin = "1s"
		fmt.Printf("Warning: worker.resubscribe_min not set, defaulting to %s\n", c.ResubscribeMin)
	}
	if c.ResubscribeMax == "" {
		c.ResubscribeMax = "30s"
		fmt.Printf("Warning: worker.resubscribe_max not set, defaulting to %s\n", c.ResubscribeMax)
	}
	if c.CheckpointInterval == "" {
		c.CheckpointInterval = "3s"
		fmt.Printf("Warning: worker.checkpoint_interval not set, defaulting to %s\n", c.CheckpointInterval)
	}
}

// RealtimeConfig defines the WebSocket fan-out endpoint configuration.
type RealtimeConfig struct {
	Path       string `yaml:"path"`        // WebSocket upgrade path
	SendBuffer int    `yaml:"send_buffer"` // Per-session outbound queue
}

// SetDefaults sets reasonable default values for realtime configuration
func (c *RealtimeConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
		fmt.Printf("Warning: realtime.path not set, defaulting to %s\n", c.Path)
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
		fmt.Printf("Warning: realtime.send_buffer not set or invalid, defaulting to %d\n", c.SendBuffer)
	}
}

// EngineConfig defines all configuration for the Synchronization Engine
type EngineConfig struct {
	// Database Configuration
	Database DatabaseConfig `yaml:"database"`

	// Ledger source selection: chain, kafka or mock
	SourceMode string `yaml:"source_mode"`

	// Blockchain Client Configuration (source_mode: chain)
	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path"`

	// Kafka relay consumer (source_mode: kafka)
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`

	// Optional delta firehose producer; disabled when unconfigured
	Firehose KafkaProducerConfig `yaml:"firehose"`

	// Worker Configuration
	Worker WorkerConfig `yaml:"worker"`

	// Realtime fan-out configuration
	Realtime RealtimeConfig `yaml:"realtime"`

	// HTTP listen address for the read API and WebSocket endpoint
	HttpListenAddr string `yaml:"http_listen_addr"`

	// Logging mode: dev or prod
	LogMode string `yaml:"log_mode"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	cfg.Database.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Realtime.SetDefaults()
	cfg.Firehose.SetDefaults()

	if cfg.SourceMode == "" {
		cfg.SourceMode = SourceChain
		fmt.Printf("Warning: source_mode not set, defaulting to %s\n", cfg.SourceMode)
	}
	if cfg.SourceMode == SourceKafka {
		cfg.KafkaConsumer.SetDefaults()
	}
	if cfg.HttpListenAddr == "" {
		cfg.HttpListenAddr = ":8080"
		fmt.Printf("Warning: http_listen_addr not set, defaulting to %s\n", cfg.HttpListenAddr)
	}
	if cfg.LogMode == "" {
		cfg.LogMode = "dev"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the engine configuration
func (c *EngineConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration error: %w", err)
	}
	switch c.SourceMode {
	case SourceChain:
		if c.BlockchainClientConfigPath == "" {
			return fmt.Errorf("source_mode 'chain' requires blockchain_client_config_path")
		}
	case SourceKafka:
		if len(c.KafkaConsumer.Brokers) == 0 || c.KafkaConsumer.Topic == "" || c.KafkaConsumer.GroupID == "" {
			return fmt.Errorf("source_mode 'kafka' requires kafka_consumer brokers, topic and group_id")
		}
	case SourceMock:
	default:
		return fmt.Errorf("unknown source_mode '%s'", c.SourceMode)
	}
	return nil
}
