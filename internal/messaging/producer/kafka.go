package producer

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

// KafkaProducer implements the Producer interface. Messages are keyed by
// batch id so events for one batch land on one partition in order.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *logger.Logger
	topic  string
}

// NewKafkaProducer creates a new KafkaProducer
func NewKafkaProducer(cfg config.KafkaProducerConfig, log *logger.Logger) (*KafkaProducer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka producer configuration incomplete: both brokers and topic are required")
	}

	batchTimeout, err := time.ParseDuration(cfg.BatchTimeout)
	if err != nil {
		batchTimeout = 100 * time.Millisecond
	}
	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		writeTimeout = 5 * time.Second
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // key by batch id keeps per-batch order

		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,

		RequiredAcks: requiredAcks,
		Async:        cfg.Async,
		WriteTimeout: writeTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf("kafka writer error: "+msg, args...))
		}),
	}

	log.Info("kafka producer created", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return &KafkaProducer{writer: w, logger: log, topic: cfg.Topic}, nil
}

// Publish sends a single ledger event
func (p *KafkaProducer) Publish(ctx context.Context, ev *types.LedgerEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka buffer: %w", err)
	}
	return nil
}

// PublishBatch sends ledger events in batch
func (p *KafkaProducer) PublishBatch(ctx context.Context, evs []*types.LedgerEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(evs))
	for i, ev := range evs {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to batch write to kafka buffer: %w", err)
	}
	return nil
}

func encode(ev *types.LedgerEvent) (kafka.Message, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize ledger event (delivery %s): %w", ev.DeliveryID, err)
	}
	return kafka.Message{Key: []byte(ev.BatchID), Value: raw}, nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	p.logger.Info("closing kafka producer (flushing buffer)")
	return p.writer.Close()
}

var _ Producer = (*KafkaProducer)(nil)
