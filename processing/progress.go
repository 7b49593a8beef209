package processing

import "sync"

// progressTracker derives the safe resume sequence from dispatch and apply
// progress across shards. Sequences arrive in non-decreasing stream order;
// each shard applies its own queue in FIFO order. The resume point is
// therefore the lowest sequence still sitting unapplied in any shard queue,
// or the highest dispatched sequence once everything has drained. Resuming
// there can redeliver applied events, which dedup absorbs, but can never
// skip an unapplied one.
type progressTracker struct {
	mu      sync.Mutex
	pending [][]uint64
	highest uint64
}

func newProgressTracker(shards int) *progressTracker {
	return &progressTracker{pending: make([][]uint64, shards)}
}

// observe raises the high mark to a checkpoint recovered from the store.
func (p *progressTracker) observe(seq uint64) {
	p.mu.Lock()
	if seq > p.highest {
		p.highest = seq
	}
	p.mu.Unlock()
}

// dispatched records an event handed to a shard queue. Must be called before
// the shard can possibly finish applying it.
func (p *progressTracker) dispatched(shard int, seq uint64) {
	p.mu.Lock()
	p.pending[shard] = append(p.pending[shard], seq)
	if seq > p.highest {
		p.highest = seq
	}
	p.mu.Unlock()
}

// applied retires the oldest pending sequence of a shard.
func (p *progressTracker) applied(shard int) {
	p.mu.Lock()
	if q := p.pending[shard]; len(q) > 0 {
		p.pending[shard] = q[1:]
	}
	p.mu.Unlock()
}

// resumePoint returns the sequence a fresh subscription must start from.
func (p *progressTracker) resumePoint() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	low := p.highest
	for _, q := range p.pending {
		if len(q) > 0 && q[0] < low {
			low = q[0]
		}
	}
	return low
}
