package tracepb

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Attributes is a flat set of span attributes. Values must be strings, bools,
// integers or floats; anything else is sent as its string form.
type Attributes map[string]any

// NewSpan builds a Span message.
func (s *Schema) NewSpan(traceID string, intrinsics, user, agent Attributes) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.Span)
	fields := s.Span.Fields()
	m.Set(fields.ByName("trace_id"), protoreflect.ValueOfString(traceID))
	s.setAttributes(m, fields.ByName("intrinsics"), intrinsics)
	s.setAttributes(m, fields.ByName("user_attributes"), user)
	s.setAttributes(m, fields.ByName("agent_attributes"), agent)
	return m
}

// NewSpanBatch wraps spans built by NewSpan into a SpanBatch message.
func (s *Schema) NewSpanBatch(spans []*dynamicpb.Message) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.SpanBatch)
	list := m.Mutable(s.SpanBatch.Fields().ByName("spans")).List()
	for _, span := range spans {
		list.Append(protoreflect.ValueOfMessage(span))
	}
	return m
}

func (s *Schema) NewRecordStatus(seen uint64) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.RecordStatus)
	m.Set(s.RecordStatus.Fields().ByName("messages_seen"), protoreflect.ValueOfUint64(seen))
	return m
}

func (s *Schema) MessagesSeen(m protoreflect.Message) uint64 {
	return m.Get(s.RecordStatus.Fields().ByName("messages_seen")).Uint()
}

func (s *Schema) setAttributes(m *dynamicpb.Message, fd protoreflect.FieldDescriptor, attrs Attributes) {
	if len(attrs) == 0 {
		return
	}
	mp := m.Mutable(fd).Map()
	for k, v := range attrs {
		if v == nil {
			continue
		}
		val := mp.NewValue()
		setAttributeValue(val.Message(), v)
		mp.Set(protoreflect.ValueOfString(k).MapKey(), val)
	}
}

func setAttributeValue(av protoreflect.Message, v any) {
	fields := av.Descriptor().Fields()
	switch t := v.(type) {
	case string:
		av.Set(fields.ByName("string_value"), protoreflect.ValueOfString(t))
	case bool:
		av.Set(fields.ByName("bool_value"), protoreflect.ValueOfBool(t))
	case int:
		av.Set(fields.ByName("int_value"), protoreflect.ValueOfInt64(int64(t)))
	case int32:
		av.Set(fields.ByName("int_value"), protoreflect.ValueOfInt64(int64(t)))
	case int64:
		av.Set(fields.ByName("int_value"), protoreflect.ValueOfInt64(t))
	case uint32:
		av.Set(fields.ByName("int_value"), protoreflect.ValueOfInt64(int64(t)))
	case uint64:
		av.Set(fields.ByName("int_value"), protoreflect.ValueOfInt64(int64(t)))
	case float32:
		av.Set(fields.ByName("double_value"), protoreflect.ValueOfFloat64(float64(t)))
	case float64:
		av.Set(fields.ByName("double_value"), protoreflect.ValueOfFloat64(t))
	default:
		av.Set(fields.ByName("string_value"), protoreflect.ValueOfString(fmt.Sprint(t)))
	}
}

// DecodedSpan is the plain Go form of a Span message.
type DecodedSpan struct {
	TraceID         string
	Intrinsics      Attributes
	UserAttributes  Attributes
	AgentAttributes Attributes
}

// DecodeSpan reads a Span message back into Go values.
func (s *Schema) DecodeSpan(m protoreflect.Message) DecodedSpan {
	fields := s.Span.Fields()
	return DecodedSpan{
		TraceID:         m.Get(fields.ByName("trace_id")).String(),
		Intrinsics:      decodeAttributes(m, fields.ByName("intrinsics")),
		UserAttributes:  decodeAttributes(m, fields.ByName("user_attributes")),
		AgentAttributes: decodeAttributes(m, fields.ByName("agent_attributes")),
	}
}

// DecodeSpanBatch reads every span out of a SpanBatch message.
func (s *Schema) DecodeSpanBatch(m protoreflect.Message) []DecodedSpan {
	list := m.Get(s.SpanBatch.Fields().ByName("spans")).List()
	spans := make([]DecodedSpan, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		spans = append(spans, s.DecodeSpan(list.Get(i).Message()))
	}
	return spans
}

func decodeAttributes(m protoreflect.Message, fd protoreflect.FieldDescriptor) Attributes {
	attrs := Attributes{}
	m.Get(fd).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		av := v.Message()
		which := av.WhichOneof(av.Descriptor().Oneofs().ByName("value"))
		if which == nil {
			return true
		}
		val := av.Get(which)
		switch which.Kind() {
		case protoreflect.StringKind:
			attrs[k.String()] = val.String()
		case protoreflect.BoolKind:
			attrs[k.String()] = val.Bool()
		case protoreflect.Int64Kind:
			attrs[k.String()] = val.Int()
		case protoreflect.DoubleKind:
			attrs[k.String()] = val.Float()
		}
		return true
	})
	return attrs
}
