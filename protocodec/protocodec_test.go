package protocodec_test

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/kungfusheep/vstream"
	"github.com/kungfusheep/vstream/protocodec"
)

func registry(t *testing.T) *vstream.Registry {
	t.Helper()
	reg := vstream.NewRegistry()
	protocodec.Register(reg)
	return reg
}

func TestMessagesUnderAny(t *testing.T) {
	reg := registry(t)
	ts := timestamppb.New(time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC))
	in := []any{wrapperspb.String("hi"), ts, wrapperspb.String("hi")}

	for _, opts := range [][]vstream.Option{
		{vstream.WithRegistry(reg)},
		{vstream.WithRegistry(reg), vstream.WithObjectCache(16), vstream.WithTypeCache(16)},
		{vstream.WithRegistry(reg), vstream.WithVersion(vstream.Version1)},
	} {
		var buf bytes.Buffer
		require.NoError(t, vstream.Serialize(context.Background(), &buf, in, opts...))

		out, err := vstream.Deserialize(context.Background(), &buf, opts...)
		require.NoError(t, err)
		list, ok := out.([]any)
		require.True(t, ok)
		require.Len(t, list, 3)
		assert.True(t, proto.Equal(wrapperspb.String("hi"), list[0].(proto.Message)))
		assert.True(t, proto.Equal(ts, list[1].(proto.Message)))
		assert.True(t, proto.Equal(wrapperspb.String("hi"), list[2].(proto.Message)))
	}
}

func TestTypedMessage(t *testing.T) {
	reg := registry(t)
	enc, err := vstream.NewEncoder[*wrapperspb.Int64Value](vstream.WithRegistry(reg))
	require.NoError(t, err)
	data, err := enc.MarshalBytes(wrapperspb.Int64(-7))
	require.NoError(t, err)

	dec, err := vstream.NewDecoder[*wrapperspb.Int64Value](vstream.WithRegistry(reg))
	require.NoError(t, err)
	var out *wrapperspb.Int64Value
	require.NoError(t, dec.Unmarshal(data, &out))
	assert.True(t, proto.Equal(wrapperspb.Int64(-7), out))
}

func TestResolverNames(t *testing.T) {
	r := protocodec.New()

	_, name, ok := r.ResolveCodec(reflect.TypeFor[*wrapperspb.StringValue]())
	require.True(t, ok)
	assert.Equal(t, "google.protobuf.StringValue", name)

	_, _, ok = r.ResolveCodec(reflect.TypeFor[wrapperspb.StringValue]())
	assert.False(t, ok)
	_, _, ok = r.ResolveCodec(reflect.TypeFor[*bytes.Buffer]())
	assert.False(t, ok)

	typ, ok := r.ResolveName("google.protobuf.Timestamp")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[*timestamppb.Timestamp](), typ)

	_, ok = r.ResolveName("not a name")
	assert.False(t, ok)
	_, ok = r.ResolveName("example.v1.Missing")
	assert.False(t, ok)
}

func TestResolverCustomTypes(t *testing.T) {
	r := protocodec.New()
	r.Types = new(protoregistry.Types)

	_, ok := r.ResolveName("google.protobuf.StringValue")
	assert.False(t, ok)
}

func TestCorruptMessage(t *testing.T) {
	reg := registry(t)
	enc, err := vstream.NewEncoder[*wrapperspb.StringValue](vstream.WithRegistry(reg))
	require.NoError(t, err)
	data, err := enc.MarshalBytes(wrapperspb.String("hello"))
	require.NoError(t, err)

	// the message is the tail of the stream, give its first field an invalid wire type
	data[len(data)-7] = 0x0F

	dec, err := vstream.NewDecoder[*wrapperspb.StringValue](vstream.WithRegistry(reg))
	require.NoError(t, err)
	var out *wrapperspb.StringValue
	assert.ErrorIs(t, dec.Unmarshal(data, &out), vstream.ErrMalformed)
}
