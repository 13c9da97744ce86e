// Package protocodec lets a vstream registry carry generated protobuf
// messages. A message travels as an Object item whose payload is its
// deterministic wire encoding, named by the message's full name.
package protocodec

import (
	"reflect"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/kungfusheep/vstream"
)

var messageType = reflect.TypeFor[proto.Message]()

// Resolver is a vstream.Resolver for pointers to generated messages
type Resolver struct {
	// Types resolves message names on decode. Nil means protoregistry.GlobalTypes.
	Types *protoregistry.Types

	codec messageCodec
}

// New returns a Resolver using the global type registry
func New() *Resolver {
	return &Resolver{
		codec: messageCodec{
			marshal:   proto.MarshalOptions{Deterministic: true},
			unmarshal: proto.UnmarshalOptions{},
		},
	}
}

// Register adds a Resolver to reg
func Register(reg *vstream.Registry) *Resolver {
	r := New()
	reg.AddResolver(r)
	return r
}

func (r *Resolver) types() *protoregistry.Types {
	if r.Types == nil {
		return protoregistry.GlobalTypes
	}
	return r.Types
}

// ResolveCodec claims t when it is a pointer to a generated message
func (r *Resolver) ResolveCodec(t reflect.Type) (vstream.Codec, string, bool) {
	if t.Kind() != reflect.Pointer || !t.Implements(messageType) {
		return nil, "", false
	}
	msg, ok := reflect.New(t.Elem()).Interface().(proto.Message)
	if !ok {
		return nil, "", false
	}
	return r.codec, string(msg.ProtoReflect().Descriptor().FullName()), true
}

// ResolveName maps a message full name to its Go pointer type
func (r *Resolver) ResolveName(name string) (reflect.Type, bool) {
	fn := protoreflect.FullName(name)
	if !fn.IsValid() {
		return nil, false
	}
	mt, err := r.types().FindMessageByName(fn)
	if err != nil {
		return nil, false
	}
	return reflect.TypeOf(mt.Zero().Interface()), true
}

type messageCodec struct {
	marshal   proto.MarshalOptions
	unmarshal proto.UnmarshalOptions
}

func (m messageCodec) EncodeValue(c *vstream.SerializerContext, v reflect.Value) error {
	msg, ok := v.Interface().(proto.Message)
	if !ok {
		return vstream.Errorf(vstream.ErrTypeResolution, "%s is not a proto.Message", v.Type())
	}
	b, err := m.marshal.Marshal(msg)
	if err != nil {
		return vstream.Errorf(vstream.ErrConfig, "marshal %s: %w", v.Type(), err)
	}
	return c.WriteBytes(b)
}

func (m messageCodec) DecodeValue(c *vstream.DeserializerContext, v reflect.Value) error {
	b, err := c.ReadBytes()
	if err != nil {
		return err
	}
	ptr := reflect.New(v.Type().Elem())
	if err := m.unmarshal.Unmarshal(b, ptr.Interface().(proto.Message)); err != nil {
		return vstream.Errorf(vstream.ErrMalformed, "unmarshal %s: %w", v.Type(), err)
	}
	v.Set(ptr)
	return nil
}
