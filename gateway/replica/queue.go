package replica

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/interaction-gateway/gateway/store"
)

var errQueueFull = errors.New("replication queue full")

// QueueConfig sizes the background replication queue.
type QueueConfig struct {
	Size    int
	Workers int
}

// Queue hands committed interactions to background workers so that
// admissions never wait on secondaries. When the queue is full the
// interaction is recorded as a failure for every secondary instead.
type Queue struct {
	writer  *ReplicaWriter
	pending chan store.Interaction

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewQueue starts cfg.Workers workers draining into w.
func NewQueue(w *ReplicaWriter, cfg QueueConfig, logger zerolog.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	q := &Queue{
		writer:  w,
		pending: make(chan store.Interaction, cfg.Size),
		logger:  logger.With().Str("component", "replica_queue").Logger(),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Replicate enqueues interaction and returns immediately.
func (q *Queue) Replicate(ctx context.Context, interaction store.Interaction) {
	if len(q.writer.secondaries) == 0 {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.writer.recordFailures(context.WithoutCancel(ctx), interaction, 0, errQueueFull)
		return
	}
	select {
	case q.pending <- interaction:
	default:
		q.logger.Warn().Str("interaction_id", interaction.InteractionID).Msg("replication queue full, dropping")
		q.writer.recordFailures(context.WithoutCancel(ctx), interaction, 0, errQueueFull)
	}
}

// Stop stops accepting work and waits for queued interactions to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()

	started := time.Now()
	q.wg.Wait()
	q.logger.Debug().Dur("drained_in", time.Since(started)).Msg("replication queue stopped")
}

func (q *Queue) work() {
	defer q.wg.Done()
	for interaction := range q.pending {
		q.writer.Replicate(context.Background(), interaction)
	}
}
