package tracepb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

func TestLoad(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, PackageName+".Span", string(s.Span.FullName()))
	assert.True(t, s.Span.Fields().ByName("intrinsics").IsMap())

	methods := s.Service.Methods()
	require.Equal(t, 2, methods.Len())
	for i := 0; i < methods.Len(); i++ {
		assert.True(t, methods.Get(i).IsStreamingClient())
		assert.True(t, methods.Get(i).IsStreamingServer())
	}

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestSpanRoundTrip(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	span := s.NewSpan("trace-1",
		Attributes{"type": "Span", "sampled": true, "priority": 1.25, "timestamp": int64(1700000000000)},
		Attributes{"customer": "acme", "skipped": nil},
		Attributes{"http.statusCode": 200, "weird": []int{1}},
	)

	b, err := proto.Marshal(span)
	require.NoError(t, err)

	back := dynamicpb.NewMessage(s.Span)
	require.NoError(t, proto.Unmarshal(b, back))

	decoded := s.DecodeSpan(back)
	assert.Equal(t, "trace-1", decoded.TraceID)
	assert.Equal(t, Attributes{"type": "Span", "sampled": true, "priority": 1.25, "timestamp": int64(1700000000000)}, decoded.Intrinsics)
	assert.Equal(t, Attributes{"customer": "acme"}, decoded.UserAttributes)
	assert.Equal(t, Attributes{"http.statusCode": int64(200), "weird": "[1]"}, decoded.AgentAttributes)
}

func TestSpanBatch(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	batch := s.NewSpanBatch([]*dynamicpb.Message{
		s.NewSpan("a", nil, nil, nil),
		s.NewSpan("b", Attributes{"guid": "1"}, nil, nil),
	})
	b, err := proto.Marshal(batch)
	require.NoError(t, err)

	back := dynamicpb.NewMessage(s.SpanBatch)
	require.NoError(t, proto.Unmarshal(b, back))

	spans := s.DecodeSpanBatch(back)
	require.Len(t, spans, 2)
	assert.Equal(t, "a", spans[0].TraceID)
	assert.Empty(t, spans[0].Intrinsics)
	assert.Equal(t, "b", spans[1].TraceID)
	assert.Equal(t, "1", spans[1].Intrinsics["guid"])
}

func TestRecordStatus(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(42), s.MessagesSeen(s.NewRecordStatus(42)))
	assert.Equal(t, "RecordSpanBatch", StreamDesc(RecordSpanBatchMethod).StreamName)
	assert.Equal(t, "RecordSpan", StreamDesc(RecordSpanMethod).StreamName)
}
