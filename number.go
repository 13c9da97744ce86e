package vstream

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/shopspring/decimal"
)

// Number is the set of Go numeric types the compaction codec accepts
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// numKind identifies the Go-side type of a number, independent of the
// container it travels in.
type numKind uint8

const (
	nkInvalid numKind = iota
	nkInt8
	nkInt16
	nkInt32
	nkInt64
	nkInt
	nkUint8
	nkUint16
	nkUint32
	nkUint64
	nkUint
	nkFloat32
	nkFloat64
	nkDecimal
)

var decimalType = reflect.TypeOf(Decimal{})

func numKindOf(t reflect.Type) numKind {
	if t == decimalType {
		return nkDecimal
	}
	switch t.Kind() {
	case reflect.Int8:
		return nkInt8
	case reflect.Int16:
		return nkInt16
	case reflect.Int32:
		return nkInt32
	case reflect.Int64:
		return nkInt64
	case reflect.Int:
		return nkInt
	case reflect.Uint8:
		return nkUint8
	case reflect.Uint16:
		return nkUint16
	case reflect.Uint32:
		return nkUint32
	case reflect.Uint64:
		return nkUint64
	case reflect.Uint:
		return nkUint
	case reflect.Float32:
		return nkFloat32
	case reflect.Float64:
		return nkFloat64
	}
	return nkInvalid
}

func (k numKind) signed() bool   { return k >= nkInt8 && k <= nkInt }
func (k numKind) unsigned() bool { return k >= nkUint8 && k <= nkUint }
func (k numKind) float() bool    { return k == nkFloat32 || k == nkFloat64 }

// container is the number tag base a value of this kind uses for its own
// minimum and maximum
func (k numKind) container() NumberType {
	switch k {
	case nkInt8:
		return NumByte
	case nkUint8:
		return NumByte | NumUnsigned
	case nkInt16:
		return NumShort
	case nkUint16:
		return NumShort | NumUnsigned
	case nkInt32:
		return NumInt
	case nkUint32:
		return NumInt | NumUnsigned
	case nkInt64, nkInt:
		return NumLong
	case nkUint64, nkUint:
		return NumLong | NumUnsigned
	case nkFloat32:
		return NumFloat
	case nkFloat64:
		return NumDouble
	case nkDecimal:
		return NumDecimal
	}
	return NumNone
}

func (k numKind) signedRange() (int64, int64) {
	switch k {
	case nkInt8:
		return math.MinInt8, math.MaxInt8
	case nkInt16:
		return math.MinInt16, math.MaxInt16
	case nkInt32:
		return math.MinInt32, math.MaxInt32
	case nkInt:
		return math.MinInt, math.MaxInt
	}
	return math.MinInt64, math.MaxInt64
}

func (k numKind) unsignedMax() uint64 {
	switch k {
	case nkUint8:
		return math.MaxUint8
	case nkUint16:
		return math.MaxUint16
	case nkUint32:
		return math.MaxUint32
	case nkUint:
		return math.MaxUint
	}
	return math.MaxUint64
}

// numeric carries one number. Exactly one of i, u, f, d is meaningful,
// selected by kind.
type numeric struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
	d    Decimal
}

// numericOf extracts a numeric from a reflect value of a numeric kind
func numericOf(v reflect.Value) (numeric, bool) {
	k := numKindOf(v.Type())
	switch {
	case k == nkInvalid:
		return numeric{}, false
	case k == nkDecimal:
		return numeric{kind: k, d: v.Interface().(Decimal)}, true
	case k.signed():
		return numeric{kind: k, i: v.Int()}, true
	case k.unsigned():
		return numeric{kind: k, u: v.Uint()}, true
	}
	return numeric{kind: k, f: v.Float()}, true
}

func numericOfAny(v any) (numeric, bool) {
	if v == nil {
		return numeric{}, false
	}
	return numericOf(reflect.ValueOf(v))
}

// zeroOf, minOf and maxOf synthesize terminal tag values in the requested kind
func zeroOf(k numKind) numeric { return numeric{kind: k} }

func minOf(k numKind) numeric {
	switch {
	case k.signed():
		lo, _ := k.signedRange()
		return numeric{kind: k, i: lo}
	case k.unsigned():
		return numeric{kind: k}
	case k == nkFloat32:
		return numeric{kind: k, f: -math.MaxFloat32}
	case k == nkFloat64:
		return numeric{kind: k, f: -math.MaxFloat64}
	}
	return numeric{kind: nkDecimal, d: MinDecimal}
}

func maxOf(k numKind) numeric {
	switch {
	case k.signed():
		_, hi := k.signedRange()
		return numeric{kind: k, i: hi}
	case k.unsigned():
		return numeric{kind: k, u: k.unsignedMax()}
	case k == nkFloat32:
		return numeric{kind: k, f: math.MaxFloat32}
	case k == nkFloat64:
		return numeric{kind: k, f: math.MaxFloat64}
	}
	return numeric{kind: nkDecimal, d: MaxDecimal}
}

// smallestNormalFloat32 is the smallest positive normal float32
const smallestNormalFloat32 = 0x1p-126

// fitsFloat32 reports whether f survives a float32 round trip exactly as a
// normal, finite value
func fitsFloat32(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if math.Abs(f) > math.MaxFloat32 {
		return false
	}
	f32 := float32(f)
	if float64(f32) != f {
		return false
	}
	return f == 0 || math.Abs(f) >= smallestNormalFloat32
}

// appendNumber appends the compact tag and payload of n to b. legacyShort
// selects the int-wide Short payload of protocol versions 1 and 2.
func appendNumber(b []byte, n numeric, legacyShort bool) []byte {
	switch {
	case n.kind.signed():
		x := n.i
		lo, hi := n.kind.signedRange()
		switch {
		case x == 0:
			return append(b, byte(NumZero))
		case x == lo:
			return append(b, byte(n.kind.container()|NumMinValue))
		case x == hi:
			return append(b, byte(n.kind.container()|NumMaxValue))
		case x >= math.MinInt8 && x <= math.MaxInt8:
			return append(b, byte(NumByte), byte(int8(x)))
		case x > 0 && x <= math.MaxUint8:
			return append(b, byte(NumByte|NumUnsigned), byte(x))
		case x >= math.MinInt16 && x <= math.MaxInt16:
			return appendShort(b, NumShort, uint64(x), legacyShort)
		case x > 0 && x <= math.MaxUint16:
			return appendShort(b, NumShort|NumUnsigned, uint64(x), legacyShort)
		case x >= math.MinInt32 && x <= math.MaxInt32:
			return binary.LittleEndian.AppendUint32(append(b, byte(NumInt)), uint32(int32(x)))
		case x > 0 && x <= math.MaxUint32:
			return binary.LittleEndian.AppendUint32(append(b, byte(NumInt|NumUnsigned)), uint32(x))
		}
		return binary.LittleEndian.AppendUint64(append(b, byte(NumLong)), uint64(x))

	case n.kind.unsigned():
		x := n.u
		switch {
		case x == 0:
			return append(b, byte(NumZero))
		case x == n.kind.unsignedMax():
			return append(b, byte(n.kind.container()|NumMaxValue))
		case x <= math.MaxUint8:
			return append(b, byte(NumByte|NumUnsigned), byte(x))
		case x <= math.MaxUint16:
			return appendShort(b, NumShort|NumUnsigned, x, legacyShort)
		case x <= math.MaxUint32:
			return binary.LittleEndian.AppendUint32(append(b, byte(NumInt|NumUnsigned)), uint32(x))
		}
		return binary.LittleEndian.AppendUint64(append(b, byte(NumLong|NumUnsigned)), x)

	case n.kind == nkFloat32:
		f := float32(n.f)
		switch {
		case math.Float32bits(f) == 0:
			return append(b, byte(NumZero))
		case f == -math.MaxFloat32:
			return append(b, byte(NumFloat|NumMinValue))
		case f == math.MaxFloat32:
			return append(b, byte(NumFloat|NumMaxValue))
		}
		return binary.LittleEndian.AppendUint32(append(b, byte(NumFloat)), math.Float32bits(f))

	case n.kind == nkFloat64:
		f := n.f
		switch {
		case math.Float64bits(f) == 0:
			return append(b, byte(NumZero))
		case f == -math.MaxFloat64:
			return append(b, byte(NumDouble|NumMinValue))
		case f == math.MaxFloat64:
			return append(b, byte(NumDouble|NumMaxValue))
		case fitsFloat32(f):
			return binary.LittleEndian.AppendUint32(append(b, byte(NumFloat)), math.Float32bits(float32(f)))
		}
		return binary.LittleEndian.AppendUint64(append(b, byte(NumDouble)), math.Float64bits(f))

	case n.kind == nkDecimal:
		switch n.d {
		case Decimal{}:
			return append(b, byte(NumZero))
		case MinDecimal:
			return append(b, byte(NumDecimal|NumMinValue))
		case MaxDecimal:
			return append(b, byte(NumDecimal|NumMaxValue))
		}
		return n.d.appendBytes(append(b, byte(NumDecimal)))
	}

	panic(fmt.Sprintf("appendNumber: invalid numeric kind %d", n.kind))
}

func appendShort(b []byte, tag NumberType, bits uint64, legacyShort bool) []byte {
	b = append(b, byte(tag))
	if legacyShort {
		if tag&NumUnsigned != 0 {
			return binary.LittleEndian.AppendUint32(b, uint32(bits))
		}
		return binary.LittleEndian.AppendUint32(b, uint32(int32(int64(bits))))
	}
	return binary.LittleEndian.AppendUint16(b, uint16(bits))
}

// decodeContainer interprets a payload of the width implied by tag
func decodeContainer(tag NumberType, payload []byte, legacyShort bool) (numeric, error) {
	unsigned := tag&NumUnsigned != 0
	switch tag.Base() {
	case NumByte:
		if unsigned {
			return numeric{kind: nkUint64, u: uint64(payload[0])}, nil
		}
		return numeric{kind: nkInt64, i: int64(int8(payload[0]))}, nil
	case NumShort:
		if legacyShort {
			v := binary.LittleEndian.Uint32(payload)
			if unsigned {
				return numeric{kind: nkUint64, u: uint64(v)}, nil
			}
			return numeric{kind: nkInt64, i: int64(int32(v))}, nil
		}
		v := binary.LittleEndian.Uint16(payload)
		if unsigned {
			return numeric{kind: nkUint64, u: uint64(v)}, nil
		}
		return numeric{kind: nkInt64, i: int64(int16(v))}, nil
	case NumInt:
		v := binary.LittleEndian.Uint32(payload)
		if unsigned {
			return numeric{kind: nkUint64, u: uint64(v)}, nil
		}
		return numeric{kind: nkInt64, i: int64(int32(v))}, nil
	case NumLong:
		v := binary.LittleEndian.Uint64(payload)
		if unsigned {
			return numeric{kind: nkUint64, u: v}, nil
		}
		return numeric{kind: nkInt64, i: int64(v)}, nil
	case NumFloat:
		return numeric{kind: nkFloat32, f: float64(math.Float32frombits(binary.LittleEndian.Uint32(payload)))}, nil
	case NumDouble:
		return numeric{kind: nkFloat64, f: math.Float64frombits(binary.LittleEndian.Uint64(payload))}, nil
	case NumDecimal:
		d, err := decimalFromBytes(payload)
		return numeric{kind: nkDecimal, d: d}, err
	}
	return numeric{}, malformedf("invalid number tag %#02x", uint8(tag))
}

// naturalKind is the kind a container decodes to when the caller does not
// ask for a specific one
func naturalKind(tag NumberType) numKind {
	unsigned := tag&NumUnsigned != 0
	switch tag.Base() {
	case NumByte:
		if unsigned {
			return nkUint8
		}
		return nkInt8
	case NumShort:
		if unsigned {
			return nkUint16
		}
		return nkInt16
	case NumInt:
		if unsigned {
			return nkUint32
		}
		return nkInt32
	case NumLong:
		if unsigned {
			return nkUint64
		}
		return nkInt64
	case NumFloat:
		return nkFloat32
	case NumDouble:
		return nkFloat64
	case NumDecimal:
		return nkDecimal
	}
	return nkInt64
}

// convertNumber converts a decoded container value into the requested kind,
// failing if the value does not fit.
func convertNumber(src numeric, to numKind) (numeric, error) {
	out := numeric{kind: to}
	switch {
	case to.signed():
		lo, hi := to.signedRange()
		var x int64
		switch {
		case src.kind.signed():
			x = src.i
		case src.kind.unsigned():
			if src.u > math.MaxInt64 {
				return out, rangeError(src, to)
			}
			x = int64(src.u)
		case src.kind.float():
			if src.f != math.Trunc(src.f) || src.f < -0x1p63 || src.f >= 0x1p63 {
				return out, rangeError(src, to)
			}
			x = int64(src.f)
		case src.kind == nkDecimal:
			v, ok := src.d.Int64()
			if !ok {
				return out, rangeError(src, to)
			}
			x = v
		}
		if x < lo || x > hi {
			return out, rangeError(src, to)
		}
		out.i = x

	case to.unsigned():
		var x uint64
		switch {
		case src.kind.signed():
			if src.i < 0 {
				return out, rangeError(src, to)
			}
			x = uint64(src.i)
		case src.kind.unsigned():
			x = src.u
		case src.kind.float():
			if src.f != math.Trunc(src.f) || src.f < 0 || src.f >= 0x1p64 {
				return out, rangeError(src, to)
			}
			x = uint64(src.f)
		case src.kind == nkDecimal:
			v, ok := src.d.Uint64()
			if !ok {
				return out, rangeError(src, to)
			}
			x = v
		}
		if x > to.unsignedMax() {
			return out, rangeError(src, to)
		}
		out.u = x

	case to.float():
		switch {
		case src.kind.signed():
			out.f = float64(src.i)
		case src.kind.unsigned():
			out.f = float64(src.u)
		case src.kind.float():
			out.f = src.f
		case src.kind == nkDecimal:
			out.f = src.d.Float64()
		}
		if to == nkFloat32 && !math.IsInf(out.f, 0) && math.Abs(out.f) > math.MaxFloat32 {
			return out, rangeError(src, to)
		}

	case to == nkDecimal:
		switch {
		case src.kind.signed():
			out.d = DecimalFromInt64(src.i)
		case src.kind.unsigned():
			out.d = DecimalFromUint64(src.u)
		case src.kind.float():
			if math.IsNaN(src.f) || math.IsInf(src.f, 0) {
				return out, rangeError(src, to)
			}
			d, err := FromDecimal(decimal.NewFromFloat(src.f))
			if err != nil {
				return out, rangeError(src, to)
			}
			out.d = d
		case src.kind == nkDecimal:
			out.d = src.d
		}

	default:
		return out, configf("invalid numeric target kind %d", to)
	}
	return out, nil
}

func rangeError(src numeric, to numKind) error {
	return malformedf("number %s out of range for %s", src, to)
}

// resolveNumber turns a tag and its payload into a value of kind to. For a
// terminal tag the payload is ignored and may be nil.
func resolveNumber(tag NumberType, payload []byte, to numKind, legacyShort bool) (numeric, error) {
	if to == nkInvalid {
		to = naturalKind(tag)
	}
	switch {
	case tag == NumZero:
		return zeroOf(to), nil
	case tag&NumMinValue != 0:
		return minOf(to), nil
	case tag&NumMaxValue != 0:
		return maxOf(to), nil
	}
	src, err := decodeContainer(tag, payload, legacyShort)
	if err != nil {
		return numeric{}, err
	}
	return convertNumber(src, to)
}

func (k numKind) String() string {
	switch k {
	case nkInt8:
		return "int8"
	case nkInt16:
		return "int16"
	case nkInt32:
		return "int32"
	case nkInt64:
		return "int64"
	case nkInt:
		return "int"
	case nkUint8:
		return "uint8"
	case nkUint16:
		return "uint16"
	case nkUint32:
		return "uint32"
	case nkUint64:
		return "uint64"
	case nkUint:
		return "uint"
	case nkFloat32:
		return "float32"
	case nkFloat64:
		return "float64"
	case nkDecimal:
		return "decimal"
	}
	return "invalid"
}

func (n numeric) String() string {
	switch {
	case n.kind.signed():
		return fmt.Sprint(n.i)
	case n.kind.unsigned():
		return fmt.Sprint(n.u)
	case n.kind.float():
		return fmt.Sprint(n.f)
	case n.kind == nkDecimal:
		return n.d.String()
	}
	return "<invalid>"
}

// value returns n as a Go value of its kind
func (n numeric) value() any {
	switch n.kind {
	case nkInt8:
		return int8(n.i)
	case nkInt16:
		return int16(n.i)
	case nkInt32:
		return int32(n.i)
	case nkInt64:
		return n.i
	case nkInt:
		return int(n.i)
	case nkUint8:
		return uint8(n.u)
	case nkUint16:
		return uint16(n.u)
	case nkUint32:
		return uint32(n.u)
	case nkUint64:
		return n.u
	case nkUint:
		return uint(n.u)
	case nkFloat32:
		return float32(n.f)
	case nkFloat64:
		return n.f
	case nkDecimal:
		return n.d
	}
	return nil
}

// setTo stores n into v, whose kind must match n.kind
func (n numeric) setTo(v reflect.Value) {
	switch {
	case n.kind.signed():
		v.SetInt(n.i)
	case n.kind.unsigned():
		v.SetUint(n.u)
	case n.kind.float():
		v.SetFloat(n.f)
	case n.kind == nkDecimal:
		v.Set(reflect.ValueOf(n.d))
	}
}

// EncodeNumber returns the compact tag and payload of v, which must be a Go
// numeric value or a Decimal. The payload is nil for terminal tags.
func EncodeNumber(v any) (NumberType, []byte, error) {
	n, ok := numericOfAny(v)
	if !ok {
		return NumNone, nil, configf("unsupported number type %T", v)
	}
	b := appendNumber(nil, n, false)
	if len(b) == 1 {
		return NumberType(b[0]), nil, nil
	}
	return NumberType(b[0]), b[1:], nil
}

// DecodeNumber decodes a tag and payload produced by EncodeNumber into T.
func DecodeNumber[T Number](tag NumberType, payload []byte) (T, error) {
	var zero T
	if !tag.Valid() || tag == NumIsNull {
		return zero, malformedf("invalid number tag %#02x", uint8(tag))
	}
	if !tag.IsTerminal() && len(payload) != tag.payloadSize(false) {
		return zero, malformedf("number tag %s needs %d payload bytes, got %d", tag, tag.payloadSize(false), len(payload))
	}
	out := reflect.New(reflect.TypeOf(zero)).Elem()
	n, err := resolveNumber(tag, payload, numKindOf(out.Type()), false)
	if err != nil {
		return zero, err
	}
	n.setTo(out)
	return out.Interface().(T), nil
}
