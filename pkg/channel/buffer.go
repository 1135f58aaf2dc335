package channel

import (
	"sync"
	"time"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// Flush triggers, used as the metric label and passed to the flush callback.
const (
	TriggerSize        = "size"
	TriggerTimer       = "timer"
	TriggerManual      = "manual"
	TriggerReconfigure = "reconfigure"
)

// FlushFunc receives a drained batch. It is always invoked outside the
// buffer's lock, so it may call back into Add.
type FlushFunc func(batch []*telemetry.Record, trigger string)

// Buffer accumulates records until either the batch-size limit is reached or
// the flush interval elapses, whichever comes first. Every record added lands
// in exactly one flushed batch. A generation counter ties each scheduled
// timer to the batch it was armed for, so a timer firing after its batch was
// already flushed by size is a no-op.
type Buffer struct {
	mu         sync.Mutex
	items      []*telemetry.Record
	max        int
	timeout    time.Duration
	generation uint64
	timer      *time.Timer
	flush      FlushFunc
}

// NewBuffer constructs a buffer. max must be at least 1; timeout at least a
// millisecond.
func NewBuffer(max int, timeout time.Duration, flush FlushFunc) *Buffer {
	if max < 1 {
		max = 1
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return &Buffer{max: max, timeout: timeout, flush: flush}
}

// Add appends a record. The first record of a fresh batch arms the flush
// timer; reaching the size limit flushes immediately.
func (b *Buffer) Add(rec *telemetry.Record) {
	b.mu.Lock()
	b.items = append(b.items, rec)
	if len(b.items) >= b.max {
		batch := b.drainLocked()
		b.mu.Unlock()
		b.flush(batch, TriggerSize)
		return
	}
	if len(b.items) == 1 {
		gen := b.generation
		b.timer = time.AfterFunc(b.timeout, func() { b.timerFlush(gen) })
	}
	b.mu.Unlock()
}

// Flush drains whatever is buffered right now.
func (b *Buffer) Flush() {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch, TriggerManual)
	}
}

// Len reports the number of currently buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Reconfigure applies new limits. A non-empty buffer is flushed at once when
// either limit got stricter, so records never wait out an interval longer
// than the one currently configured.
func (b *Buffer) Reconfigure(max int, timeout time.Duration) {
	if max < 1 {
		max = 1
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	b.mu.Lock()
	stricter := max < b.max || timeout < b.timeout
	b.max = max
	b.timeout = timeout
	var batch []*telemetry.Record
	if len(b.items) >= b.max || (stricter && len(b.items) > 0) {
		batch = b.drainLocked()
	}
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch, TriggerReconfigure)
	}
}

// timerFlush runs when the armed interval elapses. A generation mismatch
// means the batch this timer was armed for is already gone.
func (b *Buffer) timerFlush(gen uint64) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	batch := b.drainLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch, TriggerTimer)
	}
}

// drainLocked takes the current batch and invalidates any armed timer. The
// caller must hold the lock.
func (b *Buffer) drainLocked() []*telemetry.Record {
	batch := b.items
	b.items = nil
	b.generation++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}
