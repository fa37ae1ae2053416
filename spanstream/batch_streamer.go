package spanstream

import (
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/protobuf/types/dynamicpb"
)

// BatchStreamer groups spans into batches. A batch is sent when it reaches
// batchSize or when the oldest unsent span has waited batchInterval.
type BatchStreamer struct {
	*core

	batchSize     int
	batchInterval time.Duration
	timer         clockwork.Timer
}

var _ SpanStreamer = (*BatchStreamer)(nil)

func NewBatchStreamer(opts Options, batchSize int, batchInterval time.Duration) (*BatchStreamer, error) {
	c, err := newCore(opts)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchInterval <= 0 {
		batchInterval = DefaultBatchInterval
	}
	b := &BatchStreamer{
		core:          c,
		batchSize:     batchSize,
		batchInterval: batchInterval,
	}
	c.sendQueue = b.sendQueueLocked
	opts.Connection.Subscribe(c)
	return b, nil
}

func (b *BatchStreamer) Write(span Span) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Increment(metricSeen)
	if !b.enqueueLocked(span) {
		return
	}
	defer func() { b.metrics.Gauge(metricQueueSize, len(b.queue)) }()

	if !b.writable {
		return
	}
	if len(b.queue) >= b.batchSize {
		b.sendQueueLocked()
		return
	}
	if b.timer == nil {
		var t clockwork.Timer
		t = b.clock.AfterFunc(b.batchInterval, func() { b.intervalElapsed(t) })
		b.timer = t
	}
}

func (b *BatchStreamer) intervalElapsed(t clockwork.Timer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != t {
		// a flush already replaced this timer
		return
	}
	b.timer = nil
	if b.writable {
		b.sendQueueLocked()
		b.metrics.Gauge(metricQueueSize, len(b.queue))
	}
}

// sendQueueLocked sends the queue in batchSize chunks until it is empty or
// the stream pushes back.
func (b *BatchStreamer) sendQueueLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	for b.writable && len(b.queue) > 0 {
		spans := b.popLocked(b.batchSize)
		msgs := make([]*dynamicpb.Message, 0, len(spans))
		for _, span := range spans {
			msgs = append(msgs, span.StreamingSpan(b.schema))
		}
		b.sendLocked(b.schema.NewSpanBatch(msgs), len(spans))
	}
}
