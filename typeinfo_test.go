package vstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeInfoString(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeFor[int32](), "int32"},
		{reflect.TypeFor[uint64](), "uint64"},
		{reflect.TypeFor[int](), "int64"},
		{reflect.TypeFor[[]byte](), "[]byte"},
		{reflect.TypeFor[[]int32](), "[]int32"},
		{reflect.TypeFor[map[string][]float64](), "map[string][]float64"},
		{reflect.TypeFor[[2][3]int8](), "[2,3]int8"},
		{reflect.TypeFor[any](), "any"},
		{reflect.TypeFor[[]any](), "[]any"},
		{reflect.TypeFor[uuid.UUID](), "uuid.UUID"},
		{reflect.TypeFor[io.Reader](), "io.Reader"},
		{reflect.TypeFor[reflect.Type](), "reflect.Type"},
		{reflect.TypeFor[Decimal](), "decimal"},
		{reflect.TypeFor[tagged](), "example.com/tagged.Tagged"},
		{reflect.TypeFor[*tagged](), "example.com/tagged.Tagged"},
		{reflect.TypeFor[celsius](), "example.com/temp.Celsius"},
		{reflect.TypeFor[pair[int32, string]](), "example.com/pair.Pair`2[int32,string]"},
		{reflect.TypeFor[[]pair[int32, string]](), "[]example.com/pair.Pair`2[int32,string]"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			info, err := TypeInfoOf(tt.typ, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.String())
		})
	}
}

func TestTypeInfoBytes(t *testing.T) {
	info, err := TypeInfoOf(reflect.TypeFor[[]int32](), nil)
	require.NoError(t, err)
	b, err := MarshalTypeInfo(info)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x0C, 0x01, 0x04}, b)

	info, err = TypeInfoOf(reflect.TypeFor[map[string]any](), nil)
	require.NoError(t, err)
	b, err = MarshalTypeInfo(info)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x0D, 0x02, 0x09, 0x0F, 0x02, 0x03, 0x61, 0x6E, 0x79, 0x00}, b)

	info, err = TypeInfoOf(reflect.TypeFor[[2][3]int8](), nil)
	require.NoError(t, err)
	b, err = MarshalTypeInfo(info)
	require.NoError(t, err)
	// element, rank-1, then the lengths
	assert.Equal(t, []byte{0x02, 0x01, 0x0B, 0x02, 0x01, 0x02, 0x02, 0x02, 0x03}, b)
}

func TestTypeInfoRoundTrip(t *testing.T) {
	reg := testRegistry(t)

	for _, typ := range []reflect.Type{
		reflect.TypeFor[bool](),
		reflect.TypeFor[string](),
		reflect.TypeFor[[]string](),
		reflect.TypeFor[map[int64][]uuid.UUID](),
		reflect.TypeFor[[4][1][2]float32](),
		reflect.TypeFor[any](),
		reflect.TypeFor[map[string]any](),
		reflect.TypeFor[point](),
		reflect.TypeFor[order](),
		reflect.TypeFor[pair[int32, string]](),
		reflect.TypeFor[[]celsius](),
		reflect.TypeFor[reflect.Type](),
		reflect.TypeFor[Decimal](),
	} {
		t.Run(typ.String(), func(t *testing.T) {
			info, err := TypeInfoOf(typ, reg)
			require.NoError(t, err)
			b, err := info.MarshalBinary()
			require.NoError(t, err)

			var got SerializedTypeInfo
			require.NoError(t, got.UnmarshalBinary(b))
			assert.Equal(t, info.String(), got.String())

			resolved, err := got.ToType(reg)
			require.NoError(t, err)
			assert.Equal(t, typ, resolved)
		})
	}
}

func TestTypeInfoStreamResolvesToReader(t *testing.T) {
	info, err := TypeInfoOf(reflect.TypeFor[*bytes.Reader](), nil)
	require.NoError(t, err)
	assert.Equal(t, KindStream, info.ObjectType)
	resolved, err := info.ToType(NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[io.Reader](), resolved)
}

func nestedSlice(levels int) reflect.Type {
	t := reflect.TypeFor[int32]()
	for range levels {
		t = reflect.SliceOf(t)
	}
	return t
}

func TestTypeInfoDepth(t *testing.T) {
	info, err := TypeInfoOf(nestedSlice(MaxTypeInfoDepth-1), nil)
	require.NoError(t, err)
	b, err := MarshalTypeInfo(info)
	require.NoError(t, err)
	_, err = UnmarshalTypeInfo(b)
	require.NoError(t, err)

	_, err = TypeInfoOf(nestedSlice(MaxTypeInfoDepth), nil)
	assert.ErrorIs(t, err, ErrRecursion)

	// one more level than the encoder allows
	forged := append([]byte{0x02, 0x01, 0x0C, 0x01}, b[2:]...)
	_, err = UnmarshalTypeInfo(forged)
	assert.ErrorIs(t, err, ErrRecursion)
}

func TestTypeInfoUnmarshalRequiresFreshInstance(t *testing.T) {
	b, err := MarshalTypeInfo(&SerializedTypeInfo{ObjectType: KindInt})
	require.NoError(t, err)

	var info SerializedTypeInfo
	require.NoError(t, info.UnmarshalBinary(b))
	assert.Equal(t, "int32", info.String())
	assert.ErrorIs(t, info.UnmarshalBinary(b), ErrConfig)
}

func TestTypeInfoGenericDefinition(t *testing.T) {
	def := &SerializedTypeInfo{
		ObjectType:              KindObject,
		Name:                    "example.com/pair.Pair",
		IsGenericTypeDefinition: true,
		GenericParameterCount:   2,
	}
	assert.Equal(t, "example.com/pair.Pair`2", def.String())

	b, err := MarshalTypeInfo(def)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFE), b[len(b)-1])

	got, err := UnmarshalTypeInfo(b)
	require.NoError(t, err)
	assert.True(t, got.IsGenericTypeDefinition)
	assert.Equal(t, 2, got.GenericParameterCount)
	assert.Empty(t, got.GenericArguments)
	assert.Equal(t, "example.com/pair.Pair`2", got.String())

	_, err = got.ToType(testRegistry(t))
	assert.ErrorIs(t, err, ErrTypeResolution)
}

func TestTypeInfoHashReference(t *testing.T) {
	reg := testRegistry(t)
	name, err := reg.NameOf(reflect.TypeFor[point]())
	require.NoError(t, err)
	hash := TypeHash(name)

	data := []byte{0x02, 0x01, byte(KindSerializable | FlagCached), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(data[3:], hash)

	info, err := UnmarshalTypeInfo(data)
	require.NoError(t, err)
	assert.True(t, info.IsCachedReference())
	assert.Equal(t, hash, info.Hash)
	assert.Equal(t, fmt.Sprintf("#%x", hash), info.String())

	typ, err := info.ToType(reg)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[point](), typ)

	unknown := &SerializedTypeInfo{ObjectType: KindSerializable | FlagCached, Hash: hash + 1}
	_, err = unknown.ToType(reg)
	assert.ErrorIs(t, err, ErrTypeResolution)
}

func TestTypeInfoRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind error
	}{
		{"newer format", []byte{0x02, 0x02, 0x04}, ErrVersion},
		{"null kind", []byte{0x02, 0x01, 0x00}, ErrMalformed},
		{"empty flag", []byte{0x02, 0x01, 0x24}, ErrMalformed},
		{"last item type", []byte{0x02, 0x01, 0x1E}, ErrMalformed},
		{"missing name", []byte{0x02, 0x01, 0x0F, 0x01}, ErrMalformed},
		{"truncated", []byte{0x02, 0x01, 0x0C, 0x01}, ErrMalformed},
		{"trailing", []byte{0x02, 0x01, 0x04, 0x04}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalTypeInfo(tt.data)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestTypeInfoUnregisteredName(t *testing.T) {
	info := &SerializedTypeInfo{ObjectType: KindSerializable, Name: "example.com/nowhere.Gone"}
	_, err := info.ToType(NewRegistry())
	assert.ErrorIs(t, err, ErrTypeResolution)

	wrong := &SerializedTypeInfo{ObjectType: KindSerializable, Name: "time.Time"}
	_, err = wrong.ToType(NewRegistry())
	assert.ErrorIs(t, err, ErrTypeResolution)
}

func TestTypeInfoArrayBounds(t *testing.T) {
	byteElem := &SerializedTypeInfo{ObjectType: KindByte | FlagUnsigned}
	array := func(elem *SerializedTypeInfo, lengths ...int) *SerializedTypeInfo {
		return &SerializedTypeInfo{ObjectType: KindArray, ElementType: elem, ArrayRank: len(lengths), ArrayLengths: lengths}
	}

	tests := []struct {
		name string
		info *SerializedTypeInfo
		ok   bool
	}{
		{"small", array(byteElem, 4, 4), true},
		{"at the element limit", array(byteElem, MaxArrayElements), true},
		{"over the element limit", array(byteElem, MaxArrayElements+1), false},
		{"huge", array(byteElem, 1<<34), false},
		{"product over the limit", array(byteElem, 1<<11, 1<<10), false},
		{"zero sized leaves still count", array(byteElem, 1<<30, 0), false},
		{"nested descriptors", array(array(byteElem, 1<<10), 1<<11), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.info.ToType(NewRegistry())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMalformed)
			}
		})
	}
}
