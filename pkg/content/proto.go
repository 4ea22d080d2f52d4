// ABOUTME: Conversion between content values and google.protobuf.Struct
// ABOUTME: Used by the gRPC transport to carry documents without generated stubs

package content

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// ToProto converts v into a protobuf Value
func ToProto(v Value) *structpb.Value {
	switch v.kind {
	case KindBool:
		return structpb.NewBoolValue(v.b)
	case KindNumber:
		return structpb.NewNumberValue(v.n)
	case KindString:
		return structpb.NewStringValue(v.s)
	case KindList:
		items := make([]*structpb.Value, len(v.list))
		for i, item := range v.list {
			items[i] = ToProto(item)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items})
	case KindMap:
		return structpb.NewStructValue(mapToStruct(v.m))
	}
	return structpb.NewNullValue()
}

// FromProto converts a protobuf Value. A nil pointer converts to Null.
func FromProto(pv *structpb.Value) Value {
	if pv == nil {
		return Null()
	}

	switch k := pv.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue)
	case *structpb.Value_NumberValue:
		return Number(k.NumberValue)
	case *structpb.Value_StringValue:
		return String(k.StringValue)
	case *structpb.Value_ListValue:
		src := k.ListValue.GetValues()
		items := make([]Value, len(src))
		for i, item := range src {
			items[i] = FromProto(item)
		}
		return Value{kind: KindList, list: items}
	case *structpb.Value_StructValue:
		return Value{kind: KindMap, m: structToMap(k.StructValue)}
	}
	return Null()
}

// DocumentToStruct converts a Document into a protobuf Struct
func DocumentToStruct(d Document) *structpb.Struct {
	return mapToStruct(d)
}

// DocumentFromStruct converts a protobuf Struct into a Document
func DocumentFromStruct(s *structpb.Struct) Document {
	return Document(structToMap(s))
}

func mapToStruct(m map[string]Value) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(m))
	for k, v := range m {
		fields[k] = ToProto(v)
	}
	return &structpb.Struct{Fields: fields}
}

func structToMap(s *structpb.Struct) map[string]Value {
	fields := s.GetFields()
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = FromProto(v)
	}
	return out
}
