package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"agritrace/blockchain/types"
	"agritrace/config"
	"agritrace/internal/logger"
)

// KafkaConsumer implements the Consumer interface over the relay topic. The
// relay keys messages by batch id, so per-batch ordering survives partitioning.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, log *logger.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		log.Warn("invalid session_timeout, using default 30s", "value", cfg.SessionTimeout)
		sessionTimeout = 30 * time.Second
	}

	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		log.Warn("invalid heartbeat_interval, using default 3s", "value", cfg.HeartbeatInterval)
		heartbeatInterval = 3 * time.Second
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          10e3, // 10KB
		MaxBytes:          10e6, // 10MB
		MaxWait:           1 * time.Second,
		CommitInterval:    time.Second,
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}

	switch cfg.AutoOffsetReset {
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	case "earliest", "":
		readerConfig.StartOffset = kafka.FirstOffset
	default:
		log.Warn("unknown auto_offset_reset, using earliest", "value", cfg.AutoOffsetReset)
	}

	r := kafka.NewReader(readerConfig)

	log.Info("kafka relay consumer created",
		"brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)

	return &KafkaConsumer{reader: r, logger: log}, nil
}

// Consume implements the Consumer interface by reading events from Kafka
func (k *KafkaConsumer) Consume(ctx context.Context) (ev *types.LedgerEvent, ack func(success bool), err error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	var event types.LedgerEvent
	if err := json.Unmarshal(kafkaMsg.Value, &event); err != nil {
		k.logger.Warn("failed to deserialize relay message, discarding",
			"offset", kafkaMsg.Offset, "error", err)
		_ = k.reader.CommitMessages(ctx, kafkaMsg) // Commit offset to avoid blocking the partition
		return nil, nil, fmt.Errorf("relay message deserialization failed: %w", err)
	}

	ackCallback := func(success bool) {
		if !success {
			k.logger.Warn("nack received, offset not committed",
				"offset", kafkaMsg.Offset, "delivery_id", event.DeliveryID)
			return
		}
		if err := k.reader.CommitMessages(context.Background(), kafkaMsg); err != nil {
			k.logger.Error("failed to commit offset", "offset", kafkaMsg.Offset, "error", err)
		}
	}

	return &event, ackCallback, nil
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Info("closing kafka relay consumer")
	return k.reader.Close()
}

var _ Consumer = (*KafkaConsumer)(nil)
