package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RelayConfig defines all configuration for the chain-to-Kafka relay.
type RelayConfig struct {
	// Blockchain Client Configuration
	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path"`

	// Kafka producer for the relay topic
	KafkaProducer KafkaProducerConfig `yaml:"kafka_producer"`

	// StartSequence is the block height the relay starts from on first run;
	// delivery is at-least-once and the engine dedups downstream.
	StartSequence uint64 `yaml:"start_sequence"`

	// Reconnect backoff bounds
	ResubscribeMin string `yaml:"resubscribe_min"`
	ResubscribeMax string `yaml:"resubscribe_max"`

	// Logging mode: dev or prod
	LogMode string `yaml:"log_mode"`
}

// LoadRelayConfig loads configuration from the specified YAML file path
func LoadRelayConfig(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg RelayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	cfg.KafkaProducer.SetDefaults()
	if cfg.ResubscribeMin == "" {
		cfg.ResubscribeMin = "1s"
	}
	if cfg.ResubscribeMax == "" {
		cfg.ResubscribeMax = "30s"
	}
	if cfg.LogMode == "" {
		cfg.LogMode = "dev"
	}

	if cfg.BlockchainClientConfigPath == "" {
		return nil, fmt.Errorf("relay configuration requires blockchain_client_config_path")
	}
	if !cfg.KafkaProducer.Enabled() {
		return nil, fmt.Errorf("relay configuration requires kafka_producer brokers and topic")
	}
	return &cfg, nil
}
