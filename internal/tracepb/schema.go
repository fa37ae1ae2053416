// Package tracepb holds the trace observer ingest schema. The descriptors are
// assembled at runtime and messages are built with dynamicpb, so no generated
// code is needed.
package tracepb

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	PackageName = "com.newrelic.trace.v1"
	ServiceName = PackageName + ".IngestService"

	RecordSpanMethod      = "/" + ServiceName + "/RecordSpan"
	RecordSpanBatchMethod = "/" + ServiceName + "/RecordSpanBatch"
)

// Schema is the loaded ingest service definition.
type Schema struct {
	File           protoreflect.FileDescriptor
	Span           protoreflect.MessageDescriptor
	SpanBatch      protoreflect.MessageDescriptor
	AttributeValue protoreflect.MessageDescriptor
	RecordStatus   protoreflect.MessageDescriptor
	Service        protoreflect.ServiceDescriptor
}

var (
	loadOnce sync.Once
	loaded   *Schema
	loadErr  error
)

// Load builds the schema the first time it is called and returns the same
// result afterwards.
func Load() (*Schema, error) {
	loadOnce.Do(func() {
		loaded, loadErr = buildFile()
	})
	return loaded, loadErr
}

func buildFile() (*Schema, error) {
	fd, err := protodesc.NewFile(fileProto(), nil)
	if err != nil {
		return nil, fmt.Errorf("building %s descriptors: %w", PackageName, err)
	}

	s := &Schema{
		File:           fd,
		Span:           fd.Messages().ByName("Span"),
		SpanBatch:      fd.Messages().ByName("SpanBatch"),
		AttributeValue: fd.Messages().ByName("AttributeValue"),
		RecordStatus:   fd.Messages().ByName("RecordStatus"),
		Service:        fd.Services().ByName("IngestService"),
	}
	if s.Span == nil || s.SpanBatch == nil || s.AttributeValue == nil || s.RecordStatus == nil || s.Service == nil {
		return nil, fmt.Errorf("incomplete %s schema", PackageName)
	}
	return s, nil
}

// StreamDesc describes the bidirectional stream used for a method.
func StreamDesc(method string) *grpc.StreamDesc {
	name := "RecordSpan"
	if method == RecordSpanBatchMethod {
		name = "RecordSpanBatch"
	}
	return &grpc.StreamDesc{
		StreamName:    name,
		ClientStreams: true,
		ServerStreams: true,
	}
}

func fileProto() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	typeName := func(msg string) *string { return proto.String("." + PackageName + "." + msg) }

	attrValue := &descriptorpb.DescriptorProto{
		Name: proto.String("AttributeValue"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: proto.String("string_value"), JsonName: proto.String("stringValue"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(), OneofIndex: proto.Int32(0)},
			{Name: proto.String("bool_value"), JsonName: proto.String("boolValue"), Number: proto.Int32(2), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(), OneofIndex: proto.Int32(0)},
			{Name: proto.String("int_value"), JsonName: proto.String("intValue"), Number: proto.Int32(3), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(), OneofIndex: proto.Int32(0)},
			{Name: proto.String("double_value"), JsonName: proto.String("doubleValue"), Number: proto.Int32(4), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE.Enum(), OneofIndex: proto.Int32(0)},
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("value")}},
	}

	mapEntry := func(name string) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{
			Name: proto.String(name),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: proto.String("key"), JsonName: proto.String("key"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
				{Name: proto.String("value"), JsonName: proto.String("value"), Number: proto.Int32(2), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(), TypeName: typeName("AttributeValue")},
			},
			Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
		}
	}
	mapField := func(name, jsonName, entry string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(jsonName),
			Number:   proto.Int32(number),
			Label:    repeated,
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: typeName("Span." + entry),
		}
	}

	span := &descriptorpb.DescriptorProto{
		Name: proto.String("Span"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: proto.String("trace_id"), JsonName: proto.String("traceId"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
			mapField("intrinsics", "intrinsics", "IntrinsicsEntry", 2),
			mapField("user_attributes", "userAttributes", "UserAttributesEntry", 3),
			mapField("agent_attributes", "agentAttributes", "AgentAttributesEntry", 4),
		},
		NestedType: []*descriptorpb.DescriptorProto{
			mapEntry("IntrinsicsEntry"),
			mapEntry("UserAttributesEntry"),
			mapEntry("AgentAttributesEntry"),
		},
	}

	spanBatch := &descriptorpb.DescriptorProto{
		Name: proto.String("SpanBatch"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: proto.String("spans"), JsonName: proto.String("spans"), Number: proto.Int32(1), Label: repeated, Type: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(), TypeName: typeName("Span")},
		},
	}

	recordStatus := &descriptorpb.DescriptorProto{
		Name: proto.String("RecordStatus"),
		Field: []*descriptorpb.FieldDescriptorProto{
			{Name: proto.String("messages_seen"), JsonName: proto.String("messagesSeen"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_UINT64.Enum()},
		},
	}

	service := &descriptorpb.ServiceDescriptorProto{
		Name: proto.String("IngestService"),
		Method: []*descriptorpb.MethodDescriptorProto{
			{Name: proto.String("RecordSpan"), InputType: typeName("Span"), OutputType: typeName("RecordStatus"), ClientStreaming: proto.Bool(true), ServerStreaming: proto.Bool(true)},
			{Name: proto.String("RecordSpanBatch"), InputType: typeName("SpanBatch"), OutputType: typeName("RecordStatus"), ClientStreaming: proto.Bool(true), ServerStreaming: proto.Bool(true)},
		},
	}

	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String("infinite_tracing.proto"),
		Package:     proto.String(PackageName),
		Syntax:      proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{attrValue, span, spanBatch, recordStatus},
		Service:     []*descriptorpb.ServiceDescriptorProto{service},
	}
}
