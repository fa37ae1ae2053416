package spans

import (
	"container/heap"
	"slices"
)

// eventHeap is a min-heap of span events ordered by priority.
// Implements container/heap.Interface.
type eventHeap []*SpanEvent

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*SpanEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// reservoir keeps the highest priority span events up to its limit.
type reservoir struct {
	limit  int
	seen   int
	events eventHeap
}

func newReservoir(limit int) *reservoir {
	return &reservoir{limit: limit}
}

// minPriority is the priority an event must reach to be admitted. It is 0
// until the reservoir is full.
func (r *reservoir) minPriority() float64 {
	if len(r.events) < r.limit || len(r.events) == 0 {
		return 0
	}
	return r.events[0].priority
}

// add offers e to the reservoir, evicting the lowest priority event when it
// is full. It reports whether e was kept.
func (r *reservoir) add(e *SpanEvent) bool {
	r.seen++
	return r.insert(e)
}

func (r *reservoir) insert(e *SpanEvent) bool {
	if r.limit <= 0 {
		return false
	}
	if len(r.events) < r.limit {
		heap.Push(&r.events, e)
		return true
	}
	if e.priority <= r.events[0].priority {
		return false
	}
	r.events[0] = e
	heap.Fix(&r.events, 0)
	return true
}

// setLimit changes the capacity, dropping the lowest priority events if the
// reservoir is now over it.
func (r *reservoir) setLimit(limit int) {
	r.limit = limit
	for len(r.events) > max(limit, 0) {
		heap.Pop(&r.events)
	}
}

// merge folds a previous harvest back in.
func (r *reservoir) merge(o *reservoir) {
	r.seen += o.seen
	for _, e := range o.events {
		r.insert(e)
	}
}

func (r *reservoir) len() int {
	return len(r.events)
}

// toSlice returns the events, highest priority first.
func (r *reservoir) toSlice() []*SpanEvent {
	sorted := make(eventHeap, len(r.events))
	copy(sorted, r.events)
	out := make([]*SpanEvent, 0, len(sorted))
	for sorted.Len() > 0 {
		out = append(out, heap.Pop(&sorted).(*SpanEvent))
	}
	// heap pops lowest first
	slices.Reverse(out)
	return out
}
