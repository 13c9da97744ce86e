package vstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectTypeString(t *testing.T) {
	tests := []struct {
		tag  ObjectType
		want string
	}{
		{KindInt, "Int"},
		{KindInt | FlagUnsigned | FlagEmpty, "Int|Unsigned|Empty"},
		{KindString | FlagEmpty, "String|Empty"},
		{KindCached, "Cached"},
		{KindSerializable | FlagCached, "Serializable|Cached"},
		{KindBasicTypeInfo, "BasicTypeInfo"},
		{ObjectType(25), "invalid ObjectType(0x19)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.tag.String())
	}
}

func TestObjectTypePredicates(t *testing.T) {
	for _, k := range []ObjectType{KindSerializable, KindStream, KindStruct, KindObject} {
		assert.True(t, k.NeedsName(), "%s", k)
	}
	for _, k := range []ObjectType{KindList, KindDict, KindArray, KindInt, KindString} {
		assert.False(t, k.NeedsName(), "%s", k)
	}

	for _, k := range []ObjectType{KindList, KindDict, KindStruct, KindObject, KindSerializable} {
		assert.True(t, k.IsGeneric(), "%s", k)
	}
	assert.False(t, KindArray.IsGeneric())
	assert.True(t, KindArray.IsArray())
	assert.False(t, KindStream.IsGeneric())

	for _, k := range []ObjectType{KindByte, KindShort, KindInt, KindLong, KindFloat, KindDouble, KindDecimal} {
		assert.True(t, (k | FlagEmpty).IsNumber(), "%s", k)
	}
	assert.False(t, KindBool.IsNumber())

	assert.True(t, KindString.cacheable())
	assert.True(t, KindSerializable.cacheable())
	assert.False(t, KindStream.cacheable())
	assert.False(t, KindInt.cacheable())

	tag := KindLong | FlagUnsigned | FlagEmpty
	assert.Equal(t, KindLong, tag.RemoveFlags())
	assert.True(t, tag.IsEmpty())
	assert.True(t, tag.IsUnsigned())
	assert.False(t, tag.IsCached())
}

func TestObjectTypeValid(t *testing.T) {
	valid := []ObjectType{
		KindNull, KindCached, KindBool | FlagEmpty, KindInt | FlagUnsigned | FlagEmpty,
		KindString | FlagEmpty, KindList | FlagEmpty, KindStream, KindType, KindLastItemType,
		KindSerializable | FlagCached,
	}
	for _, tag := range valid {
		assert.True(t, tag.Valid(), "%s", tag)
	}

	invalid := []ObjectType{
		KindNull | FlagEmpty, KindString | FlagUnsigned, KindStream | FlagEmpty,
		KindSerializable | FlagEmpty, KindType | FlagCached, ObjectType(19), ObjectType(29),
	}
	for _, tag := range invalid {
		assert.False(t, tag.Valid(), "%#02x", uint8(tag))
	}
}

func TestNumberTypeString(t *testing.T) {
	assert.Equal(t, "Zero", NumZero.String())
	assert.Equal(t, "IsNull", NumIsNull.String())
	assert.Equal(t, "Short|Unsigned|MaxValue", (NumShort | NumUnsigned | NumMaxValue).String())
	assert.Equal(t, "Long|MinValue", (NumLong | NumMinValue).String())
	assert.Equal(t, "invalid NumberType(0x0f)", NumberType(0x0F).String())
}

func TestNumberTypeValid(t *testing.T) {
	assert.True(t, NumZero.Valid())
	assert.True(t, NumIsNull.Valid())
	assert.True(t, (NumInt | NumUnsigned).Valid())
	assert.True(t, (NumDecimal | NumMaxValue).Valid())

	assert.False(t, NumNone.Valid())
	assert.False(t, (NumFloat | NumUnsigned).Valid())
	assert.False(t, (NumInt | NumMinValue | NumMaxValue).Valid())
	assert.False(t, (NumInt | NumIsNull).Valid())
	assert.False(t, NumberType(9).Valid())

	assert.True(t, (NumByte | NumMinValue).IsTerminal())
	assert.False(t, NumByte.IsTerminal())
	assert.Equal(t, NumShort|NumUnsigned, (NumShort | NumUnsigned | NumMaxValue).RemoveValueFlags())
}

func TestSequenceType(t *testing.T) {
	assert.Equal(t, "Cached|SmallIndex", (SeqCached | SeqSmallIndex).String())
	assert.True(t, SeqNotCached.Valid())
	assert.False(t, SequenceType(3).Valid())
	assert.False(t, SeqSmallIndex.Valid())
}
