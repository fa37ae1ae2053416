package spans

import "time"

// Transaction is the tracer's view of the transaction that owns a segment.
type Transaction interface {
	ID() string
	TraceID() string
	Priority() float64
	Sampled() bool
}

// Segment is one timed operation inside a transaction.
type Segment interface {
	ID() string
	Name() string
	Transaction() Transaction
	Start() time.Time
	Duration() time.Duration
	// Attributes are the agent attributes destined for span events.
	Attributes() map[string]any
	// CustomAttributes are the user attributes destined for span events.
	CustomAttributes() map[string]any
}

// TransactionData is a plain Transaction.
type TransactionData struct {
	TxnID       string
	TxnTraceID  string
	TxnPriority float64
	TxnSampled  bool
}

func (t *TransactionData) ID() string        { return t.TxnID }
func (t *TransactionData) TraceID() string   { return t.TxnTraceID }
func (t *TransactionData) Priority() float64 { return t.TxnPriority }
func (t *TransactionData) Sampled() bool     { return t.TxnSampled }

// SegmentData is a plain Segment.
type SegmentData struct {
	SegmentID   string
	SegmentName string
	Txn         Transaction
	StartTime   time.Time
	Elapsed     time.Duration
	AgentAttrs  map[string]any
	UserAttrs   map[string]any
}

func (s *SegmentData) ID() string                       { return s.SegmentID }
func (s *SegmentData) Name() string                     { return s.SegmentName }
func (s *SegmentData) Transaction() Transaction         { return s.Txn }
func (s *SegmentData) Start() time.Time                 { return s.StartTime }
func (s *SegmentData) Duration() time.Duration          { return s.Elapsed }
func (s *SegmentData) Attributes() map[string]any       { return s.AgentAttrs }
func (s *SegmentData) CustomAttributes() map[string]any { return s.UserAttrs }
