// Package processing contains the synchronization engine: the single logical
// stream consumer that turns the ledger's at-least-once event stream into
// exactly-once projection updates and post-commit delta publications.
package processing

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	blockchain "agritrace/blockchain/client"
	"agritrace/blockchain/types"
	"agritrace/config"
	"agritrace/internal/logger"
	"agritrace/internal/models"
	"agritrace/projection"
	"agritrace/storage/store"
)

// ErrOutOfOrderEvent reports an event whose delivery id is new but whose
// ledger sequence is strictly below the batch's watermark. State never moves
// backwards; the event is discarded.
var ErrOutOfOrderEvent = errors.New("processing: out-of-order event")

// Publisher receives a delta after its event has been persisted. Publication
// is best-effort: a failed publish is logged and dropped, never retried
// against the store, because clients can always recover current state with a
// projection query.
type Publisher interface {
	Publish(ctx context.Context, d *models.Delta) error
}

// Engine subscribes to the ledger event source, deduplicates, applies the
// reducer through the store's atomic apply unit and publishes the resulting
// deltas. Events are partitioned across shard workers by batch id, so one
// batch's events apply strictly in order while independent batches proceed
// concurrently.
type Engine struct {
	workerConfig       config.WorkerConfig
	applyTimeout       time.Duration
	retryDelay         time.Duration
	backoffMin         time.Duration
	backoffMax         time.Duration
	checkpointInterval time.Duration

	logger     *logger.Logger
	store      store.Store
	source     blockchain.LedgerSource
	publishers []Publisher

	shards   []chan *types.LedgerEvent
	halted   []atomic.Bool
	progress *progressTracker
	wg       sync.WaitGroup
}

// New creates a new Engine instance
func New(cfg config.WorkerConfig, log *logger.Logger, s store.Store, src blockchain.LedgerSource, pubs ...Publisher) *Engine {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.ShardBuffer <= 0 {
		cfg.ShardBuffer = 256
	}

	parse := func(field, value, fallback string) time.Duration {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Warn("invalid duration in worker config, using default",
				"field", field, "value", value, "default", fallback)
			d, _ = time.ParseDuration(fallback)
		}
		return d
	}

	e := &Engine{
		workerConfig:       cfg,
		applyTimeout:       parse("apply_timeout", cfg.ApplyTimeout, "10s"),
		retryDelay:         parse("apply_retry_delay", cfg.ApplyRetryDelay, "500ms"),
		backoffMin:         parse("resubscribe_min", cfg.ResubscribeMin, "1s"),
		backoffMax:         parse("resubscribe_max", cfg.ResubscribeMax, "30s"),
		checkpointInterval: parse("checkpoint_interval", cfg.CheckpointInterval, "3s"),
		logger:             log,
		store:              s,
		source:             src,
		publishers:         pubs,
		shards:             make([]chan *types.LedgerEvent, cfg.Shards),
		halted:             make([]atomic.Bool, cfg.Shards),
		progress:           newProgressTracker(cfg.Shards),
	}
	for i := range e.shards {
		e.shards[i] = make(chan *types.LedgerEvent, cfg.ShardBuffer)
	}
	return e
}

// Run consumes until ctx is cancelled. It returns after all shard workers
// have drained their queues; an in-flight atomic apply always completes.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting synchronization engine",
		"shards", e.workerConfig.Shards, "shard_buffer", e.workerConfig.ShardBuffer)

	for i := range e.shards {
		e.wg.Add(1)
		go func(shardID int) {
			defer e.wg.Done()
			e.runShard(ctx, shardID)
		}(i)
	}

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		e.flushCheckpoints(ctx)
	}()

	err := e.consume(ctx)

	for _, ch := range e.shards {
		close(ch)
	}
	e.wg.Wait()
	<-flusherDone
	e.saveCheckpoint()
	e.logger.Info("synchronization engine stopped")
	return err
}

// flushCheckpoints periodically persists the resume point so a hard crash
// costs at most one flush interval of redelivered (and deduped) events.
func (e *Engine) flushCheckpoints(ctx context.Context) {
	t := time.NewTicker(e.checkpointInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.saveCheckpoint()
		}
	}
}

func (e *Engine) saveCheckpoint() {
	seq := e.progress.resumePoint()
	ctx, cancel := context.WithTimeout(context.Background(), e.applyTimeout)
	defer cancel()
	if err := e.store.SaveCheckpoint(ctx, seq); err != nil {
		e.logger.Warn("failed to persist checkpoint", "sequence", seq, "error", err)
	}
}

// consume subscribes from the resume point and dispatches events to shards,
// resubscribing with capped exponential backoff whenever the stream drops.
// The persisted checkpoint seeds the first subscription; reconnects resume
// from live dispatch progress, never from genesis and never past an
// unapplied event.
func (e *Engine) consume(ctx context.Context) error {
	backoff := e.backoffMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		saved, err := e.store.Checkpoint(ctx)
		if err != nil {
			e.logger.Error("failed to read checkpoint, retrying", "error", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, e.backoffMax)
			continue
		}
		e.progress.observe(saved)
		checkpoint := e.progress.resumePoint()

		events, err := e.source.Subscribe(ctx, checkpoint)
		if err != nil {
			e.logger.Error("ledger subscription failed, retrying",
				"checkpoint", checkpoint, "backoff", backoff, "error", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, e.backoffMax)
			continue
		}

		e.logger.Info("ledger subscription established", "checkpoint", checkpoint)
		received := false
		for ev := range events {
			received = true
			e.dispatch(ctx, ev)
		}
		if ctx.Err() != nil {
			return nil
		}

		// Stream closed underneath us: ledger disconnect.
		if received {
			backoff = e.backoffMin
		}
		e.logger.Warn("ledger stream closed, resubscribing from checkpoint", "backoff", backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, e.backoffMax)
	}
}

func (e *Engine) dispatch(ctx context.Context, ev *types.LedgerEvent) {
	shardID := e.shardFor(ev.BatchID)
	if e.halted[shardID].Load() {
		// The shard hit its store retry budget and stopped; dropping
		// here is deliberate, the operational alert already fired.
		e.logger.Error("dropping event for halted shard",
			"shard", shardID, "batch_id", ev.BatchID, "delivery_id", ev.DeliveryID)
		return
	}
	// Recorded before the hand-off so the resume point cannot pass this
	// sequence until the shard reports it applied.
	e.progress.dispatched(shardID, ev.Sequence)
	select {
	case e.shards[shardID] <- ev:
	case <-ctx.Done():
	}
}

func (e *Engine) shardFor(batchID string) int {
	h := fnv.New32a()
	h.Write([]byte(batchID))
	return int(h.Sum32() % uint32(len(e.shards)))
}

func (e *Engine) runShard(ctx context.Context, shardID int) {
	log := e.logger.With("shard", shardID)
	for ev := range e.shards[shardID] {
		if e.processEvent(ctx, log, ev) {
			e.progress.applied(shardID)
			continue
		}
		if ctx.Err() == nil {
			e.halted[shardID].Store(true)
			log.Error("ALERT: shard halted after exhausting store retries; its pending events pin the checkpoint and are redelivered on restart")
		}
		// Keep draining so the dispatcher never blocks. Drained events stay
		// pending in the tracker, so the resume point never passes them.
		for range e.shards[shardID] {
		}
		return
	}
}

// processEvent runs the dedup-reduce-persist-publish pipeline for one event.
// It returns false when the event was not fully handled: the store retry
// budget ran out (the shard must halt) or shutdown interrupted a retry wait
// (the event stays pending and is redelivered on restart). Every per-event
// error is logged and skipped so one bad batch never blocks the others.
func (e *Engine) processEvent(ctx context.Context, log *logger.Logger, ev *types.LedgerEvent) bool {
	if !models.ValidEventType(ev.Type) {
		log.Error("skipping event with unknown type",
			"type", ev.Type, "batch_id", ev.BatchID, "delivery_id", ev.DeliveryID)
		return true
	}
	rec := ev.Record()

	reduceFn := func(prior *models.BatchProjection) (*models.BatchProjection, error) {
		if prior != nil && rec.LedgerSequence < prior.LastAppliedSequence {
			return nil, ErrOutOfOrderEvent
		}
		return projection.Reduce(prior, rec)
	}

	delay := e.retryDelay
	for attempt := 1; ; attempt++ {
		// Applies run on their own context so engine shutdown never
		// abandons a persist halfway.
		applyCtx, cancel := context.WithTimeout(context.Background(), e.applyTimeout)
		next, err := e.store.ApplyEvent(applyCtx, rec, reduceFn)
		cancel()

		switch {
		case err == nil:
			log.Debug("event applied",
				"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID,
				"type", rec.EventType, "watermark", next.LastAppliedSequence)
			e.publish(rec)
			return true

		case errors.Is(err, store.ErrDuplicateDelivery):
			log.Debug("skipping duplicate delivery",
				"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID)
			return true

		case errors.Is(err, ErrOutOfOrderEvent):
			log.Warn("discarding out-of-order event",
				"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID,
				"sequence", rec.LedgerSequence)
			return true

		case isIntegrityErr(err):
			log.Error("data integrity violation, event skipped",
				"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID,
				"type", rec.EventType, "sequence", rec.LedgerSequence, "error", err)
			return true

		default:
			// Projection store unavailable or timed out.
			if attempt >= e.workerConfig.MaxApplyRetries {
				log.Error("store apply failed, retry budget exhausted",
					"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID,
					"attempts", attempt, "error", err)
				return false
			}
			log.Warn("store apply failed, retrying",
				"delivery_id", rec.DeliveryID, "attempt", attempt, "delay", delay, "error", err)
			if !sleep(ctx, delay) {
				log.Warn("shutdown during store retry, event will be redelivered",
					"delivery_id", rec.DeliveryID, "batch_id", rec.BatchID)
				return false
			}
			delay = nextBackoff(delay, e.backoffMax)
		}
	}
}

// publish notifies every publisher after a successful persist. Failures are
// logged and dropped: a missed realtime notification leaves clients
// eventually consistent via a fresh projection query, never corrupted.
func (e *Engine) publish(rec *models.EventRecord) {
	d := &models.Delta{
		BatchID:        rec.BatchID,
		Type:           rec.EventType,
		Payload:        rec.Payload,
		LedgerSequence: rec.LedgerSequence,
	}
	for _, p := range e.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Publish(ctx, d); err != nil {
			e.logger.Warn("delta publish failed",
				"batch_id", d.BatchID, "type", d.Type, "error", err)
		}
		cancel()
	}
}

func isIntegrityErr(err error) bool {
	var invalid *projection.InvalidTransitionError
	var dup *projection.DuplicateCreationError
	return errors.As(err, &invalid) || errors.As(err, &dup)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
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
