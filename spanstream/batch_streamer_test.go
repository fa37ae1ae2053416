package spanstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchStreamerFlushesOnSize(t *testing.T) {
	h := newHarness(t)
	b, err := NewBatchStreamer(h.options(100), 3, 5*time.Second)
	require.NoError(t, err)
	b.Connect("run", nil)
	stream := h.dialer.Last()

	b.Write(testSpan("a"))
	b.Write(testSpan("b"))
	assert.Empty(t, stream.Written())

	b.Write(testSpan("c"))
	assert.Equal(t, []int{3}, batchSizes(stream, h.schema))
	assert.Equal(t, []string{"a", "b", "c"}, h.traceIDs(stream))
	assert.Equal(t, 3, h.count(metricSent))

	// the interval timer was cancelled by the flush
	h.clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, stream.Written(), 1)
}

func TestBatchStreamerFlushesOnInterval(t *testing.T) {
	h := newHarness(t)
	b, err := NewBatchStreamer(h.options(100), 3, 5*time.Second)
	require.NoError(t, err)
	b.Connect("run", nil)
	stream := h.dialer.Last()

	b.Write(testSpan("lonely"))
	h.clock.Advance(5*time.Second - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, stream.Written())

	h.clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return len(stream.Written()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1}, batchSizes(stream, h.schema))
	assert.Equal(t, 0, b.QueueLen())
}

func TestBatchStreamerSendsQueueInChunks(t *testing.T) {
	h := newHarness(t)
	b, err := NewBatchStreamer(h.options(100), 3, 5*time.Second)
	require.NoError(t, err)

	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		b.Write(testSpan(id))
	}
	assert.Equal(t, 7, b.QueueLen())

	b.Connect("run", nil)
	stream := h.dialer.Last()
	assert.Equal(t, []int{3, 3, 1}, batchSizes(stream, h.schema))
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, h.traceIDs(stream))
	assert.Equal(t, 0, b.QueueLen())
}

func TestBatchStreamerBackpressure(t *testing.T) {
	h := newHarness(t)
	b, err := NewBatchStreamer(h.options(100), 2, 5*time.Second)
	require.NoError(t, err)
	b.Connect("run", nil)
	stream := h.dialer.Last()

	stream.SetBackpressure(true)
	b.Write(testSpan("a"))
	b.Write(testSpan("b"))
	require.Equal(t, []int{2}, batchSizes(stream, h.schema))

	b.Write(testSpan("c"))
	b.Write(testSpan("d"))
	b.Write(testSpan("e"))
	assert.Len(t, stream.Written(), 1)
	assert.Equal(t, 3, b.QueueLen())

	stream.Drain()
	assert.Equal(t, []int{2, 2, 1}, batchSizes(stream, h.schema))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, h.traceIDs(stream))
}

func TestBatchStreamerQueueOverflow(t *testing.T) {
	h := newHarness(t)
	b, err := NewBatchStreamer(h.options(4), 2, 5*time.Second)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Write(testSpan("t"))
	}

	assert.Equal(t, 4, b.QueueLen())
	assert.Equal(t, 1, h.count(metricDropped))
	assert.Equal(t, 5, h.count(metricSeen))
}
