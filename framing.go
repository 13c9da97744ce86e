package vstream

import (
	"math"
	"reflect"
)

// framing isolates everything that differs between protocol versions. One
// is selected per context from the stream version.
type framing interface {
	version() int
	// legacyShort reports whether Short number payloads are int wide
	legacyShort() bool
	// caching reports whether the value and type caches take part
	caching() bool

	writeLength(w *writer, n int) error
	readLength(r *reader) (int, error)

	writeNullableNumber(w *writer, n numeric, present bool) error
	readNullableNumber(r *reader, to numKind) (numeric, bool, error)

	writeItem(c *SerializerContext, v reflect.Value, static reflect.Type, last *reflect.Type) error
	readItem(c *DeserializerContext, static reflect.Type, last *reflect.Type) (reflect.Value, error)
}

func framingFor(version int) (framing, error) {
	switch version {
	case Version1, Version2:
		return legacyFraming{v: version}, nil
	case CurrentVersion:
		return currentFraming{}, nil
	}
	if version > CurrentVersion {
		return nil, versionf("protocol version %d, max supported %d", version, CurrentVersion)
	}
	return nil, malformedf("invalid protocol version %d", version)
}

// currentFraming is protocol version 3: tagged items, caching, Empty and
// LastItemType elision, IsNull numbers.
type currentFraming struct{}

func (currentFraming) version() int      { return CurrentVersion }
func (currentFraming) legacyShort() bool { return false }
func (currentFraming) caching() bool     { return true }

func (currentFraming) writeLength(w *writer, n int) error { return writeCompact(w, n) }
func (currentFraming) readLength(r *reader) (int, error)  { return readCompact(r) }

func (currentFraming) writeNullableNumber(w *writer, n numeric, present bool) error {
	if !present {
		return w.writeByte(byte(NumIsNull))
	}
	return writeNumber(w, n, false)
}

func (currentFraming) readNullableNumber(r *reader, to numKind) (numeric, bool, error) {
	n, null, err := readNumber(r, to, false)
	return n, !null, err
}

// legacyFraming is protocol versions 1 and 2: bool-framed nullables, count
// prefixed containers, no caching. Version 1 writes lengths as fixed int32.
type legacyFraming struct {
	v int
}

func (f legacyFraming) version() int    { return f.v }
func (legacyFraming) legacyShort() bool { return true }
func (legacyFraming) caching() bool     { return false }

func (f legacyFraming) writeLength(w *writer, n int) error {
	if f.v == Version1 {
		if n > math.MaxInt32 {
			return configf("length %d exceeds the version 1 limit", n)
		}
		return w.writeUint32(uint32(int32(n)))
	}
	return writeCompact(w, n)
}

func (f legacyFraming) readLength(r *reader) (int, error) {
	if f.v == Version1 {
		v, err := r.readUint32()
		if err != nil {
			return 0, err
		}
		if int32(v) < 0 {
			return 0, malformedf("negative length %d", int32(v))
		}
		return int(int32(v)), nil
	}
	return readCompact(r)
}

func (legacyFraming) writeNullableNumber(w *writer, n numeric, present bool) error {
	if err := w.writeBool(present); err != nil || !present {
		return err
	}
	return writeNumber(w, n, true)
}

func (legacyFraming) readNullableNumber(r *reader, to numKind) (numeric, bool, error) {
	present, err := r.readBool()
	if err != nil || !present {
		return numeric{}, false, err
	}
	n, null, err := readNumber(r, to, true)
	if err == nil && null {
		err = malformedf("null number tag inside a present legacy number")
	}
	return n, true, err
}

// writeNumber writes the compact form of n
func writeNumber(w *writer, n numeric, legacyShort bool) error {
	scratch := rent(smallScratch)
	defer giveBack(scratch)
	return w.write(appendNumber((*scratch)[:0], n, legacyShort))
}

// readNumber reads a compact number into kind to. null reports an IsNull tag.
func readNumber(r *reader, to numKind, legacyShort bool) (n numeric, null bool, err error) {
	b, err := r.readByte()
	if err != nil {
		return numeric{}, false, err
	}
	tag := NumberType(b)
	if !tag.Valid() {
		return numeric{}, false, malformedf("invalid number tag %#02x at offset %d", b, r.n-1)
	}
	if tag == NumIsNull {
		return numeric{}, true, nil
	}

	var payload []byte
	if !tag.IsTerminal() {
		scratch := rent(tag.payloadSize(legacyShort))
		defer giveBack(scratch)
		if err := r.readFull(*scratch); err != nil {
			return numeric{}, false, err
		}
		payload = *scratch
	}
	n, err = resolveNumber(tag, payload, to, legacyShort)
	return n, false, err
}

// writeCompact writes a non-negative count or small integer
func writeCompact(w *writer, n int) error {
	return writeNumber(w, numeric{kind: nkInt, i: int64(n)}, false)
}

// readCompact reads a count written by writeCompact
func readCompact(r *reader) (int, error) {
	n, null, err := readNumber(r, nkInt, false)
	if err != nil {
		return 0, err
	}
	if null {
		return 0, malformedf("null number where a length was expected")
	}
	if n.i < 0 {
		return 0, malformedf("negative length %d", n.i)
	}
	return int(n.i), nil
}

func writeCompactString(w *writer, s string) error {
	if err := writeCompact(w, len(s)); err != nil {
		return err
	}
	return w.write([]byte(s))
}

func readCompactString(r *reader, o *FieldOptions) (string, error) {
	n, err := readCompact(r)
	if err != nil {
		return "", err
	}
	if err := o.check(n); err != nil {
		return "", err
	}
	b, err := r.readBytes(n)
	return string(b), err
}

// writeString and readString use the framing's length prefix
func writeString(w *writer, f framing, s string, o *FieldOptions) error {
	if err := o.check(len(s)); err != nil {
		return err
	}
	if err := f.writeLength(w, len(s)); err != nil {
		return err
	}
	return w.write([]byte(s))
}

func readString(r *reader, f framing, o *FieldOptions) (string, error) {
	b, err := readBytes(r, f, o)
	return string(b), err
}

func writeBytes(w *writer, f framing, b []byte, o *FieldOptions) error {
	if err := o.check(len(b)); err != nil {
		return err
	}
	if err := f.writeLength(w, len(b)); err != nil {
		return err
	}
	return w.write(b)
}

func readBytes(r *reader, f framing, o *FieldOptions) ([]byte, error) {
	n, err := f.readLength(r)
	if err != nil {
		return nil, err
	}
	if err := o.check(n); err != nil {
		return nil, err
	}
	return r.readBytes(n)
}
