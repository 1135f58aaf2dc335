package channel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// batchCollector records every flushed batch for inspection.
type batchCollector struct {
	mu       sync.Mutex
	batches  [][]*telemetry.Record
	triggers []string
}

func (c *batchCollector) flush(batch []*telemetry.Record, trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	c.triggers = append(c.triggers, trigger)
}

func (c *batchCollector) records() []*telemetry.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []*telemetry.Record
	for _, b := range c.batches {
		all = append(all, b...)
	}
	return all
}

func (c *batchCollector) snapshot() ([][]*telemetry.Record, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]*telemetry.Record(nil), c.batches...), append([]string(nil), c.triggers...)
}

func TestBufferFlushesAtSizeLimit(t *testing.T) {
	col := &batchCollector{}
	b := NewBuffer(3, time.Hour, col.flush)

	b.Add(telemetry.NewSpan("a"))
	b.Add(telemetry.NewSpan("b"))
	batches, _ := col.snapshot()
	assert.Empty(t, batches)

	b.Add(telemetry.NewSpan("c"))
	batches, triggers := col.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, []string{TriggerSize}, triggers)
	assert.Equal(t, 0, b.Len())
}

func TestBufferFlushesOnTimer(t *testing.T) {
	col := &batchCollector{}
	b := NewBuffer(100, 30*time.Millisecond, col.flush)

	b.Add(telemetry.NewSpan("a"))
	b.Add(telemetry.NewSpan("b"))

	require.Eventually(t, func() bool {
		batches, _ := col.snapshot()
		return len(batches) == 1
	}, 2*time.Second, 5*time.Millisecond)

	batches, triggers := col.snapshot()
	assert.Len(t, batches[0], 2)
	assert.Equal(t, []string{TriggerTimer}, triggers)
}

func TestStaleTimerDoesNotDoubleFlush(t *testing.T) {
	col := &batchCollector{}
	b := NewBuffer(2, 30*time.Millisecond, col.flush)

	// The size flush drains the batch the timer was armed for.
	b.Add(telemetry.NewSpan("a"))
	b.Add(telemetry.NewSpan("b"))

	time.Sleep(80 * time.Millisecond)
	batches, triggers := col.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{TriggerSize}, triggers)
}

func TestManualFlushDrainsAndEmptyFlushIsSilent(t *testing.T) {
	col := &batchCollector{}
	b := NewBuffer(100, time.Hour, col.flush)

	b.Flush()
	batches, _ := col.snapshot()
	assert.Empty(t, batches)

	b.Add(telemetry.NewSpan("a"))
	b.Flush()
	batches, triggers := col.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{TriggerManual}, triggers)
}

func TestReconfigureFlushesWhenContentsExceedNewLimit(t *testing.T) {
	col := &batchCollector{}
	b := NewBuffer(100, time.Hour, col.flush)

	b.Add(telemetry.NewSpan("a"))
	b.Add(telemetry.NewSpan("b"))
	b.Add(telemetry.NewSpan("c"))

	b.Reconfigure(2, time.Hour)
	batches, triggers := col.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, []string{TriggerReconfigure}, triggers)

	// The new limit applies to subsequent batches.
	b.Add(telemetry.NewSpan("d"))
	b.Add(telemetry.NewSpan("e"))
	batches, _ = col.snapshot()
	assert.Len(t, batches, 2)
}

func TestEveryRecordIsFlushedExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 10).Draw(t, "max")
		total := rapid.IntRange(0, 100).Draw(t, "total")

		col := &batchCollector{}
		b := NewBuffer(max, time.Hour, col.flush)

		want := make(map[string]int, total)
		for i := 0; i < total; i++ {
			name := fmt.Sprintf("record-%d", i)
			want[name]++
			b.Add(telemetry.NewSpan(name))
		}
		b.Flush()

		got := make(map[string]int)
		for _, rec := range col.records() {
			got[rec.Name]++
		}
		if len(got) != len(want) {
			t.Fatalf("flushed %d distinct records, want %d", len(got), len(want))
		}
		for name, n := range want {
			if got[name] != n {
				t.Fatalf("record %q flushed %d times, want %d", name, got[name], n)
			}
		}
	})
}
