package agentmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/stats"
	"github.com/spanwire/agentcore/types"
)

// Aggregator owns the live metric collection and hands it to the collector
// once per harvest period.
type Aggregator struct {
	Config     config.Config   `inject:""`
	Logger     logger.Logger   `inject:""`
	Clock      clockwork.Clock `inject:""`
	Sender     types.Sender    `inject:""`
	Mapper     *Mapper         `inject:""`
	Normalizer NameNormalizer  `inject:"metricNormalizer"`

	runID   string
	apdexT  time.Duration
	metrics *Metrics
	mut     sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

func (a *Aggregator) Start() error {
	a.Logger.Debug().Logf("Starting agent metrics aggregator")
	defer func() { a.Logger.Debug().Logf("Finished starting agent metrics aggregator") }()

	if a.Mapper == nil {
		a.Mapper = NewMapper()
	}
	a.mut.Lock()
	a.apdexT = a.Config.GetApdexT()
	a.metrics = a.newMetrics()
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
			if err := a.Harvest(ctx); err != nil {
				a.Logger.Warn().Logf("metric harvest failed: %v", err)
			}
			cancel()
		}
	}
}

// must be called with a.mut held
func (a *Aggregator) newMetrics() *Metrics {
	return NewMetrics(a.Clock, a.apdexT, a.Mapper, a.Normalizer)
}

// Reconfigure applies the run id and apdex threshold from a connect reply.
func (a *Aggregator) Reconfigure(reply *types.ConnectReply) {
	a.mut.Lock()
	defer a.mut.Unlock()

	a.runID = reply.RunID
	if t := reply.ApdexT(); t > 0 {
		a.apdexT = t
		if a.metrics != nil {
			a.metrics.apdexT = t
		}
	}
}

// Update runs fn against the live collection while holding the lock.
func (a *Aggregator) Update(fn func(m *Metrics)) {
	a.mut.Lock()
	defer a.mut.Unlock()

	fn(a.metrics)
}

func (a *Aggregator) IncrementCallCount(name string, n int64) {
	a.Update(func(m *Metrics) {
		m.GetOrCreateMetric(name, "").IncrementCallCount(n)
	})
}

func (a *Aggregator) RecordValue(name string, value float64) {
	a.Update(func(m *Metrics) {
		m.GetOrCreateMetric(name, "").RecordValue(value)
	})
}

// Snapshot returns a copy of the unscoped metric, if it exists.
func (a *Aggregator) Snapshot(name string, scope string) (stats.Stats, bool) {
	a.mut.Lock()
	defer a.mut.Unlock()

	s := a.metrics.GetMetric(name, scope)
	if s == nil {
		return stats.Stats{}, false
	}
	return *s, true
}

// Harvest swaps in a fresh collection and sends the old one as
// [runID, startSeconds, endSeconds, metrics]. If the send fails the
// harvested data is merged back so the next harvest carries it.
func (a *Aggregator) Harvest(ctx context.Context) error {
	a.mut.Lock()
	harvested := a.metrics
	a.metrics = a.newMetrics()
	runID := a.runID
	a.mut.Unlock()

	if harvested.Empty() {
		return nil
	}

	end := a.Clock.Now()
	payload, err := json.Marshal([]any{
		runID,
		unixSeconds(harvested.Started()),
		unixSeconds(end),
		harvested,
	})
	if err != nil {
		return fmt.Errorf("unable to serialize metrics: %w", err)
	}

	resp, err := a.Sender.Send(ctx, types.MethodMetricData, payload)
	if err != nil {
		a.mut.Lock()
		a.metrics.Merge(harvested, true)
		a.mut.Unlock()
		return fmt.Errorf("unable to send metrics: %w", err)
	}

	if len(resp) > 0 {
		var ids []MetricID
		if err := json.Unmarshal(resp, &ids); err != nil {
			a.Logger.Debug().Logf("ignoring unparseable metric id mapping: %v", err)
		} else {
			a.Mapper.Load(ids)
		}
	}
	a.Logger.Debug().WithField("payload_bytes", len(payload)).Logf("harvested agent metrics")
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
