// Package spans turns tracer segments into span events and collects them,
// either in a priority reservoir harvested in bulk or by streaming them to a
// trace observer.
package spans

import (
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/spanwire/agentcore/internal/tracepb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxAttributeBytes = 255
	maxStatementBytes = 2000

	truncationMarker = "..."
)

type Category string

const (
	CategoryGeneric   Category = "generic"
	CategoryHTTP      Category = "http"
	CategoryDatastore Category = "datastore"
)

// CategoryOf classifies a segment by its name.
func CategoryOf(name string) Category {
	switch {
	case strings.HasPrefix(name, "External/"):
		return CategoryHTTP
	case strings.HasPrefix(name, "Datastore/"):
		return CategoryDatastore
	default:
		return CategoryGeneric
	}
}

// SpanEvent is one span: intrinsics set by the agent plus user and agent
// attributes.
type SpanEvent struct {
	Intrinsics      map[string]any
	UserAttributes  map[string]any
	AgentAttributes map[string]any

	priority float64
}

// FromSegment builds the span event for seg. parentID is empty for a span
// without a parent; isRoot marks the transaction's entry point.
func FromSegment(seg Segment, parentID string, isRoot bool) *SpanEvent {
	txn := seg.Transaction()
	category := CategoryOf(seg.Name())

	e := &SpanEvent{
		Intrinsics: map[string]any{
			"type":          "Span",
			"traceId":       txn.TraceID(),
			"guid":          seg.ID(),
			"transactionId": txn.ID(),
			"sampled":       txn.Sampled(),
			"priority":      txn.Priority(),
			"name":          seg.Name(),
			"timestamp":     seg.Start().UnixMilli(),
			"duration":      seg.Duration().Seconds(),
			"category":      string(category),
		},
		UserAttributes:  truncateAttributes(seg.CustomAttributes()),
		AgentAttributes: truncateAttributes(seg.Attributes()),
		priority:        txn.Priority(),
	}
	if parentID != "" {
		e.Intrinsics["parentId"] = parentID
	}
	if isRoot {
		e.Intrinsics["nr.entryPoint"] = true
	}

	switch category {
	case CategoryHTTP:
		e.Intrinsics["span.kind"] = "client"
		e.Intrinsics["component"] = componentOf(seg.Name(), 1)
	case CategoryDatastore:
		e.Intrinsics["span.kind"] = "client"
		e.Intrinsics["component"] = componentOf(seg.Name(), 2)
		if stmt, ok := seg.Attributes()["db.statement"].(string); ok {
			e.AgentAttributes["db.statement"] = Truncate(stmt, maxStatementBytes)
		}
	}
	return e
}

// componentOf picks a path segment out of a segment name, e.g. the host of
// External/host/path or the product of Datastore/statement/Postgres/table.
func componentOf(name string, index int) string {
	parts := strings.Split(name, "/")
	if index < len(parts) {
		return parts[index]
	}
	return ""
}

func (e *SpanEvent) Priority() float64 {
	return e.priority
}

func (e *SpanEvent) TraceID() string {
	id, _ := e.Intrinsics["traceId"].(string)
	return id
}

// StreamingSpan converts the event to the trace observer's wire form.
func (e *SpanEvent) StreamingSpan(schema *tracepb.Schema) *dynamicpb.Message {
	return schema.NewSpan(e.TraceID(), e.Intrinsics, e.UserAttributes, e.AgentAttributes)
}

// MarshalJSON writes the collector form [intrinsics, user, agent].
func (e *SpanEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]map[string]any{
		nonNil(e.Intrinsics),
		nonNil(e.UserAttributes),
		nonNil(e.AgentAttributes),
	})
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func truncateAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			v = Truncate(s, maxAttributeBytes)
		}
		out[k] = v
	}
	return out
}

// Truncate shortens s to at most limit bytes, ending in "..." when cut. It
// never splits a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
