package vstream

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Object payloads use CBOR Core Deterministic Encoding, so equal values give
// equal bytes and therefore equal cache fingerprints.
var (
	objectEncMode cbor.EncMode
	objectDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	objectEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("vstream: CBOR encoder initialization failed: " + err.Error())
	}

	objectDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("vstream: CBOR decoder initialization failed: " + err.Error())
	}
}

// writeObject encodes a plain struct as a length-prefixed CBOR document
func (c *SerializerContext) writeObject(v reflect.Value) error {
	b, err := objectEncMode.Marshal(v.Interface())
	if err != nil {
		return configf("encode %s: %w", v.Type(), err)
	}
	return writeBytes(c.w, c.frame, b, nil)
}

func (c *DeserializerContext) readObject(t reflect.Type) (reflect.Value, error) {
	b, err := readBytes(c.r, c.frame, nil)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t)
	if err := objectDecMode.Unmarshal(b, out.Interface()); err != nil {
		return reflect.Value{}, malformedf("decode %s: %w", t, err)
	}
	return out.Elem(), nil
}

// writeFixedStruct encodes a fixed-size value with its little endian layout
func (c *SerializerContext) writeFixedStruct(p *typePlan, v reflect.Value) error {
	buf := NewBufferFromPoolWithCap(p.size)
	defer buf.ReturnToPool()
	if err := binary.Write(buf, binary.LittleEndian, v.Interface()); err != nil {
		return configf("encode %s: %w", v.Type(), err)
	}
	return c.w.write(buf.Bytes)
}

func (c *DeserializerContext) readFixedStruct(p *typePlan) (reflect.Value, error) {
	scratch := rent(p.size)
	defer giveBack(scratch)
	if err := c.r.readFull(*scratch); err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(p.typ)
	if err := binary.Read(bytes.NewReader(*scratch), binary.LittleEndian, out.Interface()); err != nil {
		return reflect.Value{}, malformedf("decode %s: %w", p.typ, err)
	}
	return out.Elem(), nil
}
