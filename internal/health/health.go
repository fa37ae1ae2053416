package health

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
)

// Subsystems register with the tracker and then report whether they are ready.
// A subsystem registered with a timeout must keep reporting at least that
// often or it (and the agent as a whole) is no longer alive. A zero timeout
// tracks readiness only.

// Recorder is used by subsystems to report their own state.
type Recorder interface {
	Register(subsystem string, timeout time.Duration)
	Unregister(subsystem string)
	Ready(subsystem string, ready bool)
}

// Reporter reads back the state of the agent.
type Reporter interface {
	IsAlive() bool
	IsReady() bool
}

const (
	metricReady = "Supportability/Agent/Health/Ready"
	metricAlive = "Supportability/Agent/Health/Alive"
)

type subsystemState struct {
	timeout    time.Duration
	lastReport time.Time
	reported   bool
	ready      bool
	alive      bool
}

// Health tracks the readiness of the agent's subsystems.
type Health struct {
	Clock   clockwork.Clock `inject:""`
	Metrics metrics.Metrics `inject:"genericMetrics"`
	Logger  logger.Logger   `inject:""`

	subsystems map[string]*subsystemState
	mut        sync.Mutex
}

var (
	_ Recorder = (*Health)(nil)
	_ Reporter = (*Health)(nil)
)

func (h *Health) Start() error {
	// null collaborators make the tracker usable in tests without a graph
	if h.Logger == nil {
		h.Logger = &logger.NullLogger{}
	}
	if h.Metrics == nil {
		h.Metrics = &metrics.NullMetrics{}
	}
	if h.Clock == nil {
		h.Clock = clockwork.NewRealClock()
	}
	h.Metrics.Register(metrics.Metadata{Name: metricReady, Type: metrics.Gauge, Description: "1 when every subsystem is ready"})
	h.Metrics.Register(metrics.Metadata{Name: metricAlive, Type: metrics.Gauge, Description: "1 when every subsystem reported within its timeout"})

	h.mut.Lock()
	h.subsystems = make(map[string]*subsystemState)
	h.mut.Unlock()
	return nil
}

func (h *Health) Stop() error {
	return nil
}

// Register adds a subsystem. It starts out alive and not ready; the timeout
// only applies once the subsystem has reported for the first time.
func (h *Health) Register(subsystem string, timeout time.Duration) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.subsystems[subsystem] = &subsystemState{timeout: timeout, alive: true}
	h.Logger.Debug().WithFields(map[string]any{
		"subsystem": subsystem,
		"timeout":   timeout,
	}).Logf("registered health subsystem")
}

// Unregister forgets a subsystem. Later reports from it are ignored.
func (h *Health) Unregister(subsystem string) {
	h.mut.Lock()
	defer h.mut.Unlock()

	delete(h.subsystems, subsystem)
}

// Ready records a report from a subsystem.
func (h *Health) Ready(subsystem string, ready bool) {
	h.mut.Lock()
	defer h.mut.Unlock()

	s, ok := h.subsystems[subsystem]
	if !ok {
		h.Logger.Debug().WithString("subsystem", subsystem).Logf("ignoring health report from unregistered subsystem")
		return
	}
	if s.ready != ready {
		h.Logger.Info().WithFields(map[string]any{
			"subsystem": subsystem,
			"ready":     ready,
		}).Logf("subsystem readiness changed")
	}
	s.ready = ready
	s.reported = true
	s.lastReport = h.Clock.Now()
	s.alive = true

	h.Metrics.Gauge(metricReady, boolGauge(h.checkReady()))
	h.Metrics.Gauge(metricAlive, boolGauge(h.checkAlive()))
}

// IsAlive is false when any subsystem with a timeout has gone quiet for
// longer than that timeout.
func (h *Health) IsAlive() bool {
	h.mut.Lock()
	defer h.mut.Unlock()

	return h.checkAlive()
}

// IsReady is true when at least one subsystem is registered and every
// registered subsystem is alive and reported ready.
func (h *Health) IsReady() bool {
	h.mut.Lock()
	defer h.mut.Unlock()

	return h.checkReady()
}

// must be called with h.mut held
func (h *Health) checkAlive() bool {
	now := h.Clock.Now()
	alive := true
	for name, s := range h.subsystems {
		if s.timeout <= 0 || !s.reported {
			continue
		}
		if now.Sub(s.lastReport) > s.timeout {
			if s.alive {
				h.Logger.Error().WithString("subsystem", name).Logf("subsystem stopped reporting")
				s.alive = false
			}
			alive = false
		}
	}
	return alive
}

// must be called with h.mut held
func (h *Health) checkReady() bool {
	if len(h.subsystems) == 0 {
		return false
	}
	if !h.checkAlive() {
		return false
	}
	for _, s := range h.subsystems {
		if !s.ready {
			return false
		}
	}
	return true
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
