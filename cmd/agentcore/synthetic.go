package main

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/app"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/spans"
)

var syntheticPaths = []string{
	"/users/%d",
	"/users/%d/orders",
	"/static/app-%d.js",
	"/health",
}

// syntheticSpans feeds made-up transactions through the naming engine and the
// span pipeline so the agent can be exercised without an instrumented app.
type syntheticSpans struct {
	App    *app.App        `inject:""`
	Logger logger.Logger   `inject:""`
	Clock  clockwork.Clock `inject:""`

	// PerSecond is the number of transactions generated each second.
	PerSecond int

	done chan struct{}
	wg   sync.WaitGroup
}

func (s *syntheticSpans) Start() error {
	if s.PerSecond <= 0 {
		return nil
	}
	s.Logger.Info().WithField("per_second", s.PerSecond).Logf("generating synthetic spans")
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.Clock.NewTicker(time.Second / time.Duration(s.PerSecond)))
	return nil
}

func (s *syntheticSpans) Stop() error {
	if s.done != nil {
		close(s.done)
		s.wg.Wait()
		s.done = nil
	}
	return nil
}

func (s *syntheticSpans) run(ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.transaction()
		}
	}
}

// transaction records a root segment for a random path and one external
// call beneath it.
func (s *syntheticSpans) transaction() {
	path := fmt.Sprintf(syntheticPaths[rand.IntN(len(syntheticPaths))], rand.IntN(1000))
	url := s.App.NormalizeURL(path)
	if url.Ignore {
		return
	}
	name := s.App.NormalizeTransaction("WebTransaction/" + url.Value)
	if name.Ignore {
		return
	}

	now := s.Clock.Now()
	txn := &spans.TransactionData{
		TxnID:       newID(),
		TxnTraceID:  uuid.NewString(),
		TxnPriority: rand.Float64() + 1,
		TxnSampled:  true,
	}
	root := &spans.SegmentData{
		SegmentID:   newID(),
		SegmentName: name.Value,
		Txn:         txn,
		StartTime:   now,
		Elapsed:     time.Duration(rand.IntN(200)+10) * time.Millisecond,
		AgentAttrs:  map[string]any{"request.uri": path},
	}
	external := &spans.SegmentData{
		SegmentID:   newID(),
		SegmentName: "External/backend.example.com/GET",
		Txn:         txn,
		StartTime:   now.Add(2 * time.Millisecond),
		Elapsed:     root.Elapsed / 2,
	}
	s.App.RecordSegment(root, "", true)
	s.App.RecordSegment(external, root.SegmentID, false)
}

// newID returns a 16 hex digit id.
func newID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}
