package event

import (
	"context"
	"sync"
	"time"

	"github.com/Wuchinator/beacon-analytics/internal/metrics"
	"go.uber.org/zap"
)

// Publisher mirrors persisted events to an external stream.
type Publisher interface {
	SendMessage(ctx context.Context, key string, value any) error
}

type stopper interface {
	Stop() bool
}

// Buffer queues validated events in memory and persists them after a fixed delay.
//
// The first Enqueue after the buffer was emptied arms a single-shot timer. Later
// enqueues ride along until the timer fires and sweeps the whole queue. Each swept
// event is written on its own: a failed write is logged and dropped, it is never
// retried and never blocks the rest of the batch.
type Buffer struct {
	mu     sync.Mutex
	events []*Event
	timer  stopper
	// generation invalidates a timer that fired after Flush already swept its batch.
	generation uint64

	// flushMu serialises sweep+persist so batches land in enqueue order.
	flushMu sync.Mutex

	delay     time.Duration
	repo      Repository
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	afterFunc func(d time.Duration, f func()) stopper
}

type BufferOption func(*Buffer)

// WithPublisher mirrors every persisted event to p, keyed by fingerprint.
func WithPublisher(p Publisher) BufferOption {
	return func(b *Buffer) {
		b.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) BufferOption {
	return func(b *Buffer) {
		b.metrics = m
	}
}

func NewBuffer(repo Repository, delay time.Duration, logger *zap.Logger, opts ...BufferOption) *Buffer {
	b := &Buffer{
		delay:  delay,
		repo:   repo,
		logger: logger,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends an event and arms the flush timer if none is pending.
func (b *Buffer) Enqueue(e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, e)
	b.metrics.SetBufferDepth(len(b.events))

	if b.timer == nil {
		gen := b.generation
		b.timer = b.afterFunc(b.delay, func() {
			b.onTimer(gen)
		})
	}
}

// Len returns the number of events waiting to be flushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Buffer) onTimer(gen uint64) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	batch := b.sweepLocked()
	b.mu.Unlock()

	b.persist(context.Background(), batch)
}

// Flush synchronously persists everything currently buffered, bypassing the timer.
// It is meant for shutdown and returns once the batch has been written.
func (b *Buffer) Flush(ctx context.Context) int {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	batch := b.sweepLocked()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.logger.Info("Forced flush", zap.Int("events", len(batch)))
	}
	return b.persist(ctx, batch)
}

// sweepLocked takes the queue and clears the timer handle so the next Enqueue rearms.
func (b *Buffer) sweepLocked() []*Event {
	batch := b.events
	b.events = nil
	b.timer = nil
	b.generation++
	b.metrics.SetBufferDepth(0)
	return batch
}

// persist writes the batch in order and returns how many events were stored.
func (b *Buffer) persist(ctx context.Context, batch []*Event) int {
	if len(batch) == 0 {
		return 0
	}
	start := time.Now()

	stored := 0
	for _, e := range batch {
		if _, err := b.repo.InsertEvent(ctx, e); err != nil {
			b.metrics.EventFailed()
			b.logger.Error("Failed to persist event",
				zap.String("event_id", e.ID.String()),
				zap.Error(err),
			)
			continue
		}
		stored++
		b.metrics.EventPersisted()

		if err := b.repo.UpsertActiveVisitor(ctx, e.Fingerprint, e.PagePath, e.Country, e.CreatedAt); err != nil {
			b.logger.Error("Failed to update active visitor",
				zap.String("event_id", e.ID.String()),
				zap.Error(err),
			)
		}

		if b.publisher != nil {
			// Events of one visitor go to one partition.
			if err := b.publisher.SendMessage(ctx, e.Fingerprint, e); err != nil {
				b.metrics.PublishFailed()
				b.logger.Warn("Failed to mirror event",
					zap.String("event_id", e.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	b.metrics.ObserveFlush(time.Since(start))
	b.logger.Debug("Buffer flushed",
		zap.Int("total", len(batch)),
		zap.Int("stored", stored),
	)
	return stored
}
