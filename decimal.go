package vstream

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimal is a 128-bit decimal floating point value: a 96-bit unsigned
// coefficient, a power-of-ten scale between 0 and 28 and a sign. The layout
// matches the wire encoding: Lo, Mid, Hi, Flags, each little endian.
type Decimal struct {
	Lo, Mid, Hi uint32
	Flags       uint32 // bits 16-23 scale, bit 31 sign
}

const (
	decimalScaleShift = 16
	decimalScaleMask  = 0x00FF0000
	decimalSignMask   = 0x80000000
	decimalMaxScale   = 28
	decimalSize       = 16
)

var (
	// MaxDecimal is 79228162514264337593543950335
	MaxDecimal = Decimal{Lo: 0xFFFFFFFF, Mid: 0xFFFFFFFF, Hi: 0xFFFFFFFF}
	// MinDecimal is -79228162514264337593543950335
	MinDecimal = Decimal{Lo: 0xFFFFFFFF, Mid: 0xFFFFFFFF, Hi: 0xFFFFFFFF, Flags: decimalSignMask}

	maxCoefficient = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
)

// NewDecimal builds a Decimal from a signed coefficient and a scale, i.e. the
// value coef * 10^-scale.
func NewDecimal(coef *big.Int, scale int) (Decimal, error) {
	if scale < 0 || scale > decimalMaxScale {
		return Decimal{}, fmt.Errorf("decimal scale %d out of range [0,%d]", scale, decimalMaxScale)
	}
	abs := new(big.Int).Abs(coef)
	if abs.Cmp(maxCoefficient) > 0 {
		return Decimal{}, fmt.Errorf("decimal coefficient %s exceeds 96 bits", coef)
	}

	var words [12]byte
	abs.FillBytes(words[:])
	d := Decimal{
		Hi:    binary.BigEndian.Uint32(words[0:4]),
		Mid:   binary.BigEndian.Uint32(words[4:8]),
		Lo:    binary.BigEndian.Uint32(words[8:12]),
		Flags: uint32(scale) << decimalScaleShift,
	}
	if coef.Sign() < 0 {
		d.Flags |= decimalSignMask
	}
	return d, nil
}

// DecimalFromInt64 converts an integer exactly
func DecimalFromInt64(v int64) Decimal {
	d, _ := NewDecimal(big.NewInt(v), 0)
	return d
}

// DecimalFromUint64 converts an unsigned integer exactly
func DecimalFromUint64(v uint64) Decimal {
	d, _ := NewDecimal(new(big.Int).SetUint64(v), 0)
	return d
}

// ParseDecimal parses a decimal literal such as "-12.345"
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, err
	}
	return FromDecimal(d)
}

// FromDecimal converts a shopspring decimal, failing when it cannot be
// represented without loss.
func FromDecimal(d decimal.Decimal) (Decimal, error) {
	coef := d.Coefficient()
	exp := int(d.Exponent())
	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	return NewDecimal(coef, -exp)
}

// Coefficient returns the signed 96-bit coefficient
func (d Decimal) Coefficient() *big.Int {
	var words [12]byte
	binary.BigEndian.PutUint32(words[0:4], d.Hi)
	binary.BigEndian.PutUint32(words[4:8], d.Mid)
	binary.BigEndian.PutUint32(words[8:12], d.Lo)
	coef := new(big.Int).SetBytes(words[:])
	if d.Negative() {
		coef.Neg(coef)
	}
	return coef
}

// Scale returns the power-of-ten divisor exponent
func (d Decimal) Scale() int { return int(d.Flags&decimalScaleMask) >> decimalScaleShift }

// Negative reports whether the sign bit is set
func (d Decimal) Negative() bool { return d.Flags&decimalSignMask != 0 }

// IsZero reports whether the coefficient is zero, regardless of sign and scale
func (d Decimal) IsZero() bool { return d.Lo == 0 && d.Mid == 0 && d.Hi == 0 }

// Valid reports whether the flags word holds only a legal scale and sign
func (d Decimal) Valid() bool {
	return d.Flags&^(decimalScaleMask|decimalSignMask) == 0 && d.Scale() <= decimalMaxScale
}

// ToDecimal converts to a shopspring decimal without loss
func (d Decimal) ToDecimal() decimal.Decimal {
	return decimal.NewFromBigInt(d.Coefficient(), -int32(d.Scale()))
}

// Cmp compares numerically: -1, 0 or +1
func (d Decimal) Cmp(o Decimal) int { return d.ToDecimal().Cmp(o.ToDecimal()) }

// Float64 returns the nearest float64
func (d Decimal) Float64() float64 { return d.ToDecimal().InexactFloat64() }

// Int64 returns the value as an int64 when it is integral and in range
func (d Decimal) Int64() (int64, bool) {
	v := d.ToDecimal()
	if !v.IsInteger() {
		return 0, false
	}
	b := v.BigInt()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Uint64 returns the value as a uint64 when it is integral and in range
func (d Decimal) Uint64() (uint64, bool) {
	v := d.ToDecimal()
	if !v.IsInteger() {
		return 0, false
	}
	b := v.BigInt()
	if !b.IsUint64() {
		return 0, false
	}
	return b.Uint64(), true
}

func (d Decimal) String() string { return d.ToDecimal().String() }

func (d Decimal) appendBytes(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, d.Lo)
	b = binary.LittleEndian.AppendUint32(b, d.Mid)
	b = binary.LittleEndian.AppendUint32(b, d.Hi)
	return binary.LittleEndian.AppendUint32(b, d.Flags)
}

func decimalFromBytes(b []byte) (Decimal, error) {
	d := Decimal{
		Lo:    binary.LittleEndian.Uint32(b[0:4]),
		Mid:   binary.LittleEndian.Uint32(b[4:8]),
		Hi:    binary.LittleEndian.Uint32(b[8:12]),
		Flags: binary.LittleEndian.Uint32(b[12:16]),
	}
	if !d.Valid() {
		return Decimal{}, malformedf("invalid decimal flags %#08x", d.Flags)
	}
	return d, nil
}
