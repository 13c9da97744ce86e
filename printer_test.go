package vstream

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSprintCachedList(t *testing.T) {
	data := marshal(t, []string{"ab", "ab"}, WithObjectCache(16))

	out, err := Sprint(data, reflect.TypeFor[[]string](), WithObjectCache(16))
	require.NoError(t, err)
	assert.Equal(t, `vstream stream, protocol version 3
┐ 0002 List []string (stored in slot 0)
│ ├ 0005 String string (stored in slot 1): "ab"
│ ├ 000a Cached string (cache slot 1): "ab"
`, out)
}

func TestSprintDynamicItems(t *testing.T) {
	data := serialize(t, []any{nil, []int32{}})

	out, err := Sprint(data, nil)
	require.NoError(t, err)
	assert.Equal(t, `vstream stream, protocol version 3
┐ 0002 List []interface {}
│ ├ 0011 Null: null
│ ├ 0012 List|Empty []int32: []
`, out)
}

func TestSprintSerializable(t *testing.T) {
	reg := testRegistry(t)
	data := marshal(t, point{X: 1, Y: 2}, WithRegistry(reg))

	out, err := Sprint(data, reflect.TypeFor[point](), WithRegistry(reg))
	require.NoError(t, err)
	assert.Equal(t, "vstream stream, protocol version 3\n┐ 0002 Serializable *vstream.point\n", out)
}

func TestSprintReportsErrors(t *testing.T) {
	out, err := Sprint([]byte{0x02, 0x03, 0x0C, 0x02, 0x05}, reflect.TypeFor[[]string]())
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, out, "protocol version 3")
}

func TestValueString(t *testing.T) {
	long := make([]byte, 40)
	assert.Equal(t, "null", valueString(reflect.Value{}))
	assert.Equal(t, `"x"`, valueString(reflect.ValueOf("x")))
	assert.Equal(t, "0102", valueString(reflect.ValueOf([]byte{1, 2})))
	assert.Contains(t, valueString(reflect.ValueOf(long)), "(40 bytes)")
	assert.Equal(t, "int32", valueString(reflect.ValueOf(reflect.TypeFor[int32]())))
	assert.Equal(t, "42", valueString(reflect.ValueOf(int32(42))))
}
