package grpcauth

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/kennelguard"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MessageAttributes adapts a unary request to kennelguard.RequestAttributes.
//
// RouteParam and QueryParam read the lower-cased name from incoming
// metadata. BodyField reads a top-level scalar field of the request message,
// matched by JSON name first and proto name second.
type MessageAttributes struct {
	md  metadata.MD
	msg proto.Message
}

var _ kennelguard.RequestAttributes = MessageAttributes{}

// NewMessageAttributes wraps incoming metadata and the request message. req
// may be nil or a non-protobuf value, in which case BodyField is always "".
func NewMessageAttributes(md metadata.MD, req any) MessageAttributes {
	msg, _ := req.(proto.Message)
	return MessageAttributes{md: md, msg: msg}
}

func (a MessageAttributes) RouteParam(name string) string {
	return firstValue(a.md, name)
}

func (a MessageAttributes) QueryParam(name string) string {
	return firstValue(a.md, name)
}

func (a MessageAttributes) BodyField(name string) string {
	if a.msg == nil {
		return ""
	}
	m := a.msg.ProtoReflect()
	if !m.IsValid() {
		return ""
	}
	fields := m.Descriptor().Fields()
	fd := fields.ByJSONName(name)
	if fd == nil {
		fd = fields.ByName(protoreflect.Name(name))
	}
	if fd == nil || fd.IsList() || fd.IsMap() || !m.Has(fd) {
		return ""
	}

	v := m.Get(fd)
	switch fd.Kind() {
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(v.Int(), 10)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10)
	default:
		return ""
	}
}

func firstValue(md metadata.MD, key string) string {
	for _, v := range md.Get(strings.ToLower(key)) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
