package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	blockchain "agritrace/blockchain/client"
	"agritrace/config"
	"agritrace/internal/logger"
	"agritrace/internal/messaging/producer"
)

// The relay republishes decoded registry contract events to a Kafka topic,
// giving deployments a durable buffer between the chain node and the engine.
// Delivery is at-least-once; the engine's delivery-id dedup makes it safe.

const relayConfigPath = "./config/relay.defaults.yml"

func main() {
	// 1. Load Relay Config
	relayCfg, err := config.LoadRelayConfig(relayConfigPath)
	if err != nil {
		panic("failed to load relay configuration: " + err.Error())
	}

	log, err := logger.New(relayCfg.LogMode)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()
	log.Info("starting chain-to-kafka relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize dependencies
	src, err := blockchain.NewLedgerSourceFromFile(relayCfg.BlockchainClientConfigPath, log)
	if err != nil {
		log.Fatal("failed to initialize ledger event source", "error", err)
	}
	defer src.Close()

	kafkaProducer, err := producer.NewKafkaProducer(relayCfg.KafkaProducer, log)
	if err != nil {
		log.Fatal("failed to initialize kafka producer", "error", err)
	}
	defer kafkaProducer.Close()

	// 3. Run the relay loop until signalled
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx, relayCfg, src, kafkaProducer, log)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal, stopping relay", "signal", sig.String())
	cancel()
	<-done
	log.Info("relay shut down gracefully")
}

// run pumps chain events into Kafka, resubscribing from the last forwarded
// sequence with capped backoff whenever the stream drops.
func run(ctx context.Context, cfg *config.RelayConfig, src blockchain.LedgerSource, p producer.Producer, log *logger.Logger) {
	backoffMin, err := time.ParseDuration(cfg.ResubscribeMin)
	if err != nil {
		backoffMin = time.Second
	}
	backoffMax, err := time.ParseDuration(cfg.ResubscribeMax)
	if err != nil {
		backoffMax = 30 * time.Second
	}

	checkpoint := cfg.StartSequence
	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := src.Subscribe(ctx, checkpoint)
		if err != nil {
			log.Error("ledger subscription failed, retrying",
				"checkpoint", checkpoint, "backoff", backoff, "error", err)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		log.Info("relaying registry events", "from_sequence", checkpoint)
		backoff = backoffMin
		for ev := range events {
			if err := p.Publish(ctx, ev); err != nil {
				// Leave the checkpoint where it is; the event will be
				// re-fetched on resubscribe and deduped downstream.
				log.Error("failed to relay event, will resubscribe",
					"delivery_id", ev.DeliveryID, "error", err)
				break
			}
			if ev.Sequence > checkpoint {
				checkpoint = ev.Sequence
			}
		}
		if ctx.Err() != nil {
			return
		}

		log.Warn("ledger stream closed, resubscribing", "checkpoint", checkpoint, "backoff", backoff)
		if !sleep(ctx, backoff) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
