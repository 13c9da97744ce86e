// Package vstream implements a versioned, self-describing binary object
// serialization format with value and type caching.
package vstream

import (
	"fmt"
	"strings"
)

// ObjectType classifies an encoded item. The low five bits carry the base
// kind, the high three bits are encoding modifiers.
type ObjectType uint8

const (
	KindNull         ObjectType = 0
	KindBool         ObjectType = 1
	KindByte         ObjectType = 2
	KindShort        ObjectType = 3
	KindInt          ObjectType = 4
	KindLong         ObjectType = 5
	KindFloat        ObjectType = 6
	KindDouble       ObjectType = 7
	KindDecimal      ObjectType = 8
	KindString       ObjectType = 9
	KindBytes        ObjectType = 10
	KindArray        ObjectType = 11
	KindList         ObjectType = 12
	KindDict         ObjectType = 13
	KindStruct       ObjectType = 14
	KindObject       ObjectType = 15
	KindSerializable ObjectType = 16
	KindStream       ObjectType = 17
	KindType         ObjectType = 18
	// pseudo kinds, never describe a value on their own
	KindLastItemType  ObjectType = 30
	KindBasicTypeInfo ObjectType = 31
	// maximum base value 31 (5-bit limit)
	KindMask ObjectType = 0b00011111

	FlagEmpty    ObjectType = 1 << 5 // zero-equivalent value, no payload
	FlagUnsigned ObjectType = 1 << 6 // numeric kind is unsigned
	FlagCached   ObjectType = 1 << 7 // a cache reference follows instead of a payload

	// KindCached is the item tag for a value cache reference.
	KindCached = FlagCached

	flagMask = FlagEmpty | FlagUnsigned | FlagCached
)

var kindNames = [...]string{
	KindNull:          "Null",
	KindBool:          "Bool",
	KindByte:          "Byte",
	KindShort:         "Short",
	KindInt:           "Int",
	KindLong:          "Long",
	KindFloat:         "Float",
	KindDouble:        "Double",
	KindDecimal:       "Decimal",
	KindString:        "String",
	KindBytes:         "Bytes",
	KindArray:         "Array",
	KindList:          "List",
	KindDict:          "Dict",
	KindStruct:        "Struct",
	KindObject:        "Object",
	KindSerializable:  "Serializable",
	KindStream:        "Stream",
	KindType:          "Type",
	KindLastItemType:  "LastItemType",
	KindBasicTypeInfo: "BasicTypeInfo",
}

func (t ObjectType) String() string {
	if t == KindCached {
		return "Cached"
	}

	base := t.RemoveFlags()
	name := ""
	if int(base) < len(kindNames) {
		name = kindNames[base]
	}
	if name == "" {
		return fmt.Sprintf("invalid ObjectType(%#02x)", uint8(t))
	}

	var sb strings.Builder
	sb.WriteString(name)
	if t&FlagUnsigned != 0 {
		sb.WriteString("|Unsigned")
	}
	if t&FlagEmpty != 0 {
		sb.WriteString("|Empty")
	}
	if t&FlagCached != 0 {
		sb.WriteString("|Cached")
	}
	return sb.String()
}

// RemoveFlags returns the base kind
func (t ObjectType) RemoveFlags() ObjectType { return t & KindMask }

// IsEmpty reports whether the Empty flag is set
func (t ObjectType) IsEmpty() bool { return t&FlagEmpty != 0 }

// IsUnsigned reports whether the Unsigned flag is set
func (t ObjectType) IsUnsigned() bool { return t&FlagUnsigned != 0 }

// IsCached reports whether the Cached flag is set
func (t ObjectType) IsCached() bool { return t&FlagCached != 0 }

// IsNumber reports whether the base kind is numeric
func (t ObjectType) IsNumber() bool {
	switch t.RemoveFlags() {
	case KindByte, KindShort, KindInt, KindLong, KindFloat, KindDouble, KindDecimal:
		return true
	}
	return false
}

// IsGeneric reports whether a type descriptor of this kind carries a generic
// argument section.
func (t ObjectType) IsGeneric() bool {
	switch t.RemoveFlags() {
	case KindList, KindDict, KindStruct, KindObject, KindSerializable:
		return true
	}
	return false
}

// IsArray reports whether a type descriptor of this kind carries an element
// type and a rank.
func (t ObjectType) IsArray() bool { return t.RemoveFlags() == KindArray }

// NeedsName reports whether a type descriptor of this kind carries a type name.
func (t ObjectType) NeedsName() bool {
	switch t.RemoveFlags() {
	case KindSerializable, KindStream, KindStruct, KindObject:
		return true
	}
	return false
}

// cacheable kinds take part in the value cache
func (t ObjectType) cacheable() bool {
	switch t.RemoveFlags() {
	case KindString, KindBytes, KindArray, KindList, KindDict, KindStruct, KindObject, KindSerializable:
		return true
	}
	return false
}

// Valid reports whether the base kind is defined and the flag combination is
// one the format allows.
func (t ObjectType) Valid() bool {
	flags := t & flagMask
	switch t.RemoveFlags() {
	case KindNull:
		return flags == 0 || flags == FlagCached
	case KindByte, KindShort, KindInt, KindLong:
		return flags&^(FlagEmpty|FlagUnsigned) == 0
	case KindBool, KindFloat, KindDouble, KindDecimal, KindString, KindBytes,
		KindArray, KindList, KindDict, KindStruct, KindObject, KindLastItemType:
		return flags&^FlagEmpty == 0
	case KindSerializable:
		return flags == 0 || flags == FlagCached
	case KindStream, KindType, KindBasicTypeInfo:
		return flags == 0
	}
	return false
}

// NumberType classifies an encoded number. The low nibble carries the
// container width, the high nibble carries value flags.
type NumberType uint8

const (
	NumNone    NumberType = 0
	NumZero    NumberType = 1
	NumByte    NumberType = 2
	NumShort   NumberType = 3
	NumInt     NumberType = 4
	NumLong    NumberType = 5
	NumFloat   NumberType = 6
	NumDouble  NumberType = 7
	NumDecimal NumberType = 8
	NumMask    NumberType = 0b00001111

	NumUnsigned NumberType = 1 << 4
	NumMinValue NumberType = 1 << 5 // the source type's minimum, no payload
	NumMaxValue NumberType = 1 << 6 // the source type's maximum, no payload
	NumIsNull   NumberType = 1 << 7 // null number, no payload
)

var numberNames = [...]string{
	NumNone:    "None",
	NumZero:    "Zero",
	NumByte:    "Byte",
	NumShort:   "Short",
	NumInt:     "Int",
	NumLong:    "Long",
	NumFloat:   "Float",
	NumDouble:  "Double",
	NumDecimal: "Decimal",
}

func (n NumberType) String() string {
	if n == NumIsNull {
		return "IsNull"
	}
	base := n.Base()
	if int(base) >= len(numberNames) {
		return fmt.Sprintf("invalid NumberType(%#02x)", uint8(n))
	}

	var sb strings.Builder
	sb.WriteString(numberNames[base])
	if n&NumUnsigned != 0 {
		sb.WriteString("|Unsigned")
	}
	if n&NumMinValue != 0 {
		sb.WriteString("|MinValue")
	}
	if n&NumMaxValue != 0 {
		sb.WriteString("|MaxValue")
	}
	if n&NumIsNull != 0 {
		sb.WriteString("|IsNull")
	}
	return sb.String()
}

// Base returns the container kind without any flag
func (n NumberType) Base() NumberType { return n & NumMask }

// RemoveValueFlags strips MinValue and MaxValue
func (n NumberType) RemoveValueFlags() NumberType { return n &^ (NumMinValue | NumMaxValue) }

// IsTerminal reports whether no payload follows the tag
func (n NumberType) IsTerminal() bool {
	return n == NumZero || n&(NumMinValue|NumMaxValue|NumIsNull) != 0
}

// Valid reports whether the byte is a defined number tag
func (n NumberType) Valid() bool {
	if n == NumIsNull || n == NumZero {
		return true
	}
	if n&NumIsNull != 0 {
		return false
	}
	if n&NumMinValue != 0 && n&NumMaxValue != 0 {
		return false
	}
	switch n.Base() {
	case NumByte, NumShort, NumInt, NumLong:
		return true
	case NumFloat, NumDouble, NumDecimal:
		return n&NumUnsigned == 0
	}
	return false
}

// payloadSize is the container width in bytes. legacyShort selects the
// int-wide Short payload written by protocol versions 1 and 2.
func (n NumberType) payloadSize(legacyShort bool) int {
	switch n.Base() {
	case NumByte:
		return 1
	case NumShort:
		if legacyShort {
			return 4
		}
		return 2
	case NumInt, NumFloat:
		return 4
	case NumLong, NumDouble:
		return 8
	case NumDecimal:
		return 16
	}
	return 0
}

// SequenceType is the marker byte of the caching protocol.
type SequenceType uint8

const (
	SeqNull      SequenceType = 0
	SeqNotCached SequenceType = 1
	SeqCached    SequenceType = 2
	// SeqSmallIndex marks a one byte cache index in a two byte index context
	SeqSmallIndex SequenceType = 1 << 2
)

func (s SequenceType) String() string {
	switch s {
	case SeqNull:
		return "Null"
	case SeqNotCached:
		return "NotCached"
	case SeqCached:
		return "Cached"
	case SeqCached | SeqSmallIndex:
		return "Cached|SmallIndex"
	}
	return fmt.Sprintf("invalid SequenceType(%#02x)", uint8(s))
}

// Valid reports whether the byte is a defined sequence marker
func (s SequenceType) Valid() bool {
	switch s {
	case SeqNull, SeqNotCached, SeqCached, SeqCached | SeqSmallIndex:
		return true
	}
	return false
}
