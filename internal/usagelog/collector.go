package usagelog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Collector to persist records.
type BatchInserter interface {
	BatchInsert(ctx context.Context, recs []Record) error
}

// FlushFunc is notified after every flush attempt with the batch size and the
// store error, if any.
type FlushFunc func(n int, err error)

// Collector buffers log records in memory and periodically flushes them to the
// store in batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Record
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	onFlush       FlushFunc
	done          chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a new Collector that flushes to the given store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		store:         store,
		buffer:        make([]Record, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// OnFlush registers fn to be called after each flush. Call before Start.
func (c *Collector) OnFlush(fn FlushFunc) {
	c.onFlush = fn
}

// Start flushes buffered records on a timer. It blocks until Stop is called
// or the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Add buffers a record. A full buffer is flushed immediately.
func (c *Collector) Add(rec Record) {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, rec)
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush()
	}
}

// Pending returns the number of buffered, unflushed records.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// flush drains the buffer into the store. Errors are logged, not returned, so
// callers of Add are never blocked on a failing database.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Record, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush log records", "count", len(batch), "error", err)
	}
	if c.onFlush != nil {
		c.onFlush(len(batch), err)
	}
}

// Stop signals Start to exit after a final flush. It is safe to call twice.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
