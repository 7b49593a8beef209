package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"agritrace/config"
	"agritrace/internal/logger"
	"agritrace/internal/models"
)

// Firehose publishes applied deltas to a Kafka topic for downstream
// integrations (analytics, notification services). It satisfies the engine's
// Publisher contract; a failed publish is the engine's problem to log, never
// to retry against the store.
type Firehose struct {
	writer *kafka.Writer
	logger *logger.Logger
}

func NewFirehose(cfg config.KafkaProducerConfig, log *logger.Logger) (*Firehose, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("firehose configuration incomplete: both brokers and topic are required")
	}

	batchTimeout, err := time.ParseDuration(cfg.BatchTimeout)
	if err != nil {
		batchTimeout = 100 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true, // fire-and-forget by contract
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf("firehose writer error: "+msg, args...))
		}),
	}

	log.Info("delta firehose created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &Firehose{writer: w, logger: log}, nil
}

// Publish sends one applied delta.
func (f *Firehose) Publish(ctx context.Context, d *models.Delta) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to serialize delta for batch %s: %w", d.BatchID, err)
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Key: []byte(d.BatchID), Value: raw}); err != nil {
		return fmt.Errorf("failed to write delta to firehose: %w", err)
	}
	return nil
}

func (f *Firehose) Close() error {
	f.logger.Info("closing delta firehose")
	return f.writer.Close()
}
