package vstream

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int32
}

func (*point) ObjectVersion() int { return 1 }

func (p *point) SerializeTo(c *SerializerContext) error {
	if err := WriteNumber(c, p.X); err != nil {
		return err
	}
	return WriteNumber(c, p.Y)
}

func (p *point) DeserializeFrom(c *DeserializerContext, version int) (err error) {
	if p.X, err = ReadNumber[int32](c); err != nil {
		return err
	}
	p.Y, err = ReadNumber[int32](c)
	return err
}

// node is a Serializable linked list, each node one nesting level
type node struct {
	Value int32
	Next  *node
}

func (*node) ObjectVersion() int { return 1 }

func (n *node) SerializeTo(c *SerializerContext) error {
	if err := WriteNumber(c, n.Value); err != nil {
		return err
	}
	return WriteValue(c, n.Next)
}

func (n *node) DeserializeFrom(c *DeserializerContext, version int) (err error) {
	if n.Value, err = ReadNumber[int32](c); err != nil {
		return err
	}
	n.Next, err = ReadValue[*node](c)
	return err
}

func chain(n int) *node {
	var head *node
	for i := range n {
		head = &node{Value: int32(i), Next: head}
	}
	return head
}

// tagged gained Weight in object version 2
type tagged struct {
	Label  string
	Tags   []string
	Weight *int32
}

func (*tagged) ObjectVersion() int { return 2 }

func (g *tagged) SerializeTo(c *SerializerContext) error {
	if err := c.WriteStringCached(g.Label); err != nil {
		return err
	}
	if err := WriteValue(c, g.Tags); err != nil {
		return err
	}
	return WriteNullableNumber(c, g.Weight)
}

func (g *tagged) DeserializeFrom(c *DeserializerContext, version int) (err error) {
	if g.Label, err = c.ReadStringCached(); err != nil {
		return err
	}
	if g.Tags, err = ReadList[string](c); err != nil {
		return err
	}
	if version >= 2 {
		g.Weight, err = ReadNullableNumber[int32](c)
	}
	return err
}

// order travels as a plain Object
type order struct {
	ID   string
	Qty  int32
	Tags []string
}

type celsius struct {
	Deg float64
}

var celsiusCodec = CodecFuncs{
	Encode: func(c *SerializerContext, v reflect.Value) error {
		return WriteNumber(c, v.Interface().(celsius).Deg)
	},
	Decode: func(c *DeserializerContext, v reflect.Value) error {
		d, err := ReadNumber[float64](c)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(celsius{Deg: d}))
		return nil
	},
}

type pair[K comparable, V any] struct {
	Key   K
	Value V
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterType[point](reg, ""))
	require.NoError(t, RegisterType[node](reg, ""))
	require.NoError(t, RegisterType[tagged](reg, "example.com/tagged.Tagged"))
	require.NoError(t, RegisterType[order](reg, ""))
	require.NoError(t, reg.RegisterCodec(reflect.TypeFor[celsius](), "example.com/temp.Celsius", celsiusCodec))
	require.NoError(t, reg.RegisterGeneric(reflect.TypeFor[pair[int32, string]](), "example.com/pair.Pair",
		reflect.TypeFor[int32](), reflect.TypeFor[string]()))
	return reg
}

func int32Ptr(v int32) *int32 { return &v }
