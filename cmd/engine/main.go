package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpapi "agritrace/api/http"
	blockchain "agritrace/blockchain/client"
	"agritrace/config"
	"agritrace/internal/logger"
	"agritrace/internal/messaging/consumer"
	"agritrace/internal/messaging/producer"
	"agritrace/processing"
	"agritrace/realtime"
	"agritrace/storage/store"
)

const engineConfigPath = "./config/engine.defaults.yml"

func main() {
	// 1. Load Engine Config
	engineCfg, err := config.LoadEngineConfig(engineConfigPath)
	if err != nil {
		panic("failed to load engine configuration: " + err.Error())
	}

	log, err := logger.New(engineCfg.LogMode)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()
	log.Info("starting synchronization engine service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Projection Store
	dbStore, err := store.NewPostgresStore(ctx, engineCfg.Database.DSN,
		engineCfg.Database.MinConnections, engineCfg.Database.MaxConnections, log)
	if err != nil {
		log.Fatal("failed to initialize projection store", "error", err)
	}
	defer dbStore.Close()

	// 3. Initialize Ledger Event Source
	src, err := buildSource(engineCfg, log)
	if err != nil {
		log.Fatal("failed to initialize ledger event source", "error", err)
	}
	defer src.Close()

	// 4. Realtime hub and optional delta firehose
	hub := realtime.NewHub(log)
	publishers := []processing.Publisher{hub}

	if engineCfg.Firehose.Enabled() {
		firehose, err := producer.NewFirehose(engineCfg.Firehose, log)
		if err != nil {
			log.Fatal("failed to initialize delta firehose", "error", err)
		}
		defer firehose.Close()
		publishers = append(publishers, firehose)
	}

	// 5. Engine
	engine := processing.New(engineCfg.Worker, log, dbStore, src, publishers...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			log.Error("engine stopped with error", "error", err)
		}
	}()

	// 6. HTTP server: read API + WebSocket endpoint
	mux := http.NewServeMux()
	httpapi.NewBatchHandler(dbStore, log).Register(mux)
	mux.Handle(engineCfg.Realtime.Path, realtime.ServeWS(hub, engineCfg.Realtime, log))

	httpServer := &http.Server{
		Addr:        engineCfg.HttpListenAddr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("http server listening", "addr", engineCfg.HttpListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server startup failed", "error", err)
		}
	}()

	// 7. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal, initiating graceful shutdown", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", "error", err)
	}

	wg.Wait()
	log.Info("synchronization engine service shut down gracefully")
}

// buildSource wires the configured ledger event source: a direct contract
// event subscription, the Kafka relay topic, or canned mock events.
func buildSource(cfg *config.EngineConfig, log *logger.Logger) (blockchain.LedgerSource, error) {
	switch cfg.SourceMode {
	case config.SourceChain:
		return blockchain.NewLedgerSourceFromFile(cfg.BlockchainClientConfigPath, log)
	case config.SourceKafka:
		c, err := consumer.NewKafkaConsumer(cfg.KafkaConsumer, log)
		if err != nil {
			return nil, err
		}
		return consumer.NewSource(c, log), nil
	case config.SourceMock:
		return consumer.NewSource(consumer.NewMockConsumer(log), log), nil
	default:
		return nil, errors.New("unknown source_mode: " + cfg.SourceMode)
	}
}
