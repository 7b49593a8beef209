package config

import "fmt"

// KafkaConsumerConfig defines configuration for the Kafka relay-topic consumer
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`            // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`              // Relay topic to consume from
	GroupID           string   `yaml:"group_id"`           // Consumer group ID
	SessionTimeout    string   `yaml:"session_timeout"`    // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"` // Kafka heartbeat interval
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`  // earliest/latest
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		fmt.Printf("Warning: kafka_consumer.session_timeout not set, defaulting to %s\n", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		fmt.Printf("Warning: kafka_consumer.heartbeat_interval not set, defaulting to %s\n", c.HeartbeatInterval)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
		fmt.Printf("Warning: kafka_consumer.auto_offset_reset not set, defaulting to %s\n", c.AutoOffsetReset)
	}
}

// KafkaProducerConfig defines configuration for Kafka producers (the chain
// relay topic and the optional delta firehose).
type KafkaProducerConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout string   `yaml:"batch_timeout"`
	RequiredAcks string   `yaml:"required_acks"` // none/one/all
	Async        bool     `yaml:"async"`
	WriteTimeout string   `yaml:"write_timeout"`
}

// Enabled reports whether this producer section is configured at all.
func (c *KafkaProducerConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// SetDefaults sets reasonable default values for Kafka producer configuration
func (c *KafkaProducerConfig) SetDefaults() {
	if !c.Enabled() {
		return
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == "" {
		c.BatchTimeout = "100ms"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "5s"
	}
}
