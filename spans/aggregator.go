package spans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/types"
)

const (
	metricEventsSeen = "Supportability/SpanEvent/TotalEventsSeen"
	metricEventsSent = "Supportability/SpanEvent/TotalEventsSent"
	metricDiscarded  = "Supportability/SpanEvent/Discarded"
)

// EventAggregator collects span events for a run.
type EventAggregator interface {
	Start() error
	Stop() error
	// AddSegment records seg as a span event and reports whether it was kept.
	AddSegment(seg Segment, parentID string, isRoot bool) bool
	// Send delivers what has been collected since the last Send.
	Send(ctx context.Context) error
	Reconfigure(reply *types.ConnectReply)
}

var _ EventAggregator = (*Aggregator)(nil)

// Aggregator keeps the highest priority span events in a reservoir and sends
// them to the collector once per harvest period.
type Aggregator struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"genericMetrics"`
	Clock   clockwork.Clock `inject:""`
	Sender  types.Sender    `inject:""`

	runID     string
	limit     int
	reservoir *reservoir
	mut       sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

func (a *Aggregator) Start() error {
	a.Logger.Debug().Logf("Starting span event aggregator")
	defer func() { a.Logger.Debug().Logf("Finished starting span event aggregator") }()

	for _, m := range []metrics.Metadata{
		{Name: metricEventsSeen, Type: metrics.Counter, Description: "span events offered to the reservoir"},
		{Name: metricEventsSent, Type: metrics.Counter, Description: "span events sent to the collector"},
		{Name: metricDiscarded, Type: metrics.Counter, Description: "span events that did not fit in the reservoir"},
	} {
		a.Metrics.Register(m)
	}

	a.mut.Lock()
	if a.reservoir == nil {
		a.limit = a.Config.GetSpanEventsConfig().MaxSamplesStored
		a.reservoir = newReservoir(a.limit)
	}
	a.mut.Unlock()

	period := a.Config.GetHarvestPeriod()
	if period <= 0 {
		return nil
	}
	a.done = make(chan struct{})
	a.wg.Add(1)
	go a.harvestLoop(period)
	return nil
}

func (a *Aggregator) Stop() error {
	if a.done != nil {
		close(a.done)
		a.wg.Wait()
		a.done = nil
	}
	return nil
}

func (a *Aggregator) harvestLoop(period time.Duration) {
	defer a.wg.Done()

	ticker := a.Clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), period)
			if err := a.Send(ctx); err != nil {
				a.Logger.Warn().Logf("span event harvest failed: %v", err)
			}
			cancel()
		}
	}
}

// Reconfigure applies the run id and span event limit from a connect reply.
func (a *Aggregator) Reconfigure(reply *types.ConnectReply) {
	a.mut.Lock()
	defer a.mut.Unlock()

	a.runID = reply.RunID
	if limit, ok := reply.SpanEventLimit(); ok {
		a.limit = limit
		if a.reservoir != nil {
			a.reservoir.setLimit(limit)
		}
	}
}

// AddSegment offers seg to the reservoir. Before Start there is no
// reservoir and every segment is dropped.
func (a *Aggregator) AddSegment(seg Segment, parentID string, isRoot bool) bool {
	a.mut.Lock()
	defer a.mut.Unlock()

	if a.reservoir == nil {
		a.Logger.Trace().WithString("segment", seg.Name()).Logf("span event aggregator has not started; dropping span")
		return false
	}
	a.Metrics.Increment(metricEventsSeen)
	if seg.Transaction().Priority() < a.reservoir.minPriority() {
		a.reservoir.seen++
		a.Metrics.Increment(metricDiscarded)
		return false
	}
	kept := a.reservoir.add(FromSegment(seg, parentID, isRoot))
	if !kept {
		a.Metrics.Increment(metricDiscarded)
	}
	return kept
}

// Len returns the number of events waiting to be sent.
func (a *Aggregator) Len() int {
	a.mut.Lock()
	defer a.mut.Unlock()

	if a.reservoir == nil {
		return 0
	}
	return a.reservoir.len()
}

// Send swaps in an empty reservoir and sends the old one as
// [runID, {reservoir_size, events_seen}, events]. A failed send puts the
// events back.
func (a *Aggregator) Send(ctx context.Context) error {
	a.mut.Lock()
	if a.reservoir == nil || a.reservoir.len() == 0 {
		a.mut.Unlock()
		return nil
	}
	harvested := a.reservoir
	a.reservoir = newReservoir(a.limit)
	runID := a.runID
	a.mut.Unlock()

	events := harvested.toSlice()
	payload, err := json.Marshal([]any{
		runID,
		map[string]int{
			"reservoir_size": harvested.limit,
			"events_seen":    harvested.seen,
		},
		events,
	})
	if err != nil {
		return fmt.Errorf("unable to serialize span events: %w", err)
	}

	if _, err := a.Sender.Send(ctx, types.MethodSpanEventData, payload); err != nil {
		a.mut.Lock()
		a.reservoir.merge(harvested)
		a.mut.Unlock()
		return fmt.Errorf("unable to send span events: %w", err)
	}

	a.Metrics.Count(metricEventsSent, len(events))
	a.Logger.Debug().WithFields(map[string]interface{}{
		"events":        len(events),
		"payload_bytes": len(payload),
	}).Logf("sent span events")
	return nil
}
