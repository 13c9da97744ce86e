package vstream

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// reader performs the fixed-width primitive reads on a byte source with
// position tracking. Each call checks for cancellation before touching the
// source.
type reader struct {
	ctx context.Context
	r   io.Reader
	n   int64 // bytes consumed so far
}

func newReader(ctx context.Context, r io.Reader) *reader {
	return &reader{ctx: ctx, r: r}
}

// readFull fills p completely or fails. A short source is a truncated frame.
func (r *reader) readFull(p []byte) error {
	if err := r.ctx.Err(); err != nil {
		return &SerializerError{Kind: ErrIO, Err: err}
	}
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return malformedf("truncated payload at offset %d: need %d bytes, got %d", r.n-int64(n), len(p), n)
		}
		return &SerializerError{Kind: ErrIO, Err: err}
	}
	return nil
}

// readFixed rents a scratch buffer of size bytes, fills it from the source
// and hands it to decode.
func (r *reader) readFixed(size int, decode func([]byte)) error {
	scratch := rent(size)
	defer giveBack(scratch)
	if err := r.readFull(*scratch); err != nil {
		return err
	}
	decode(*scratch)
	return nil
}

// readByte extracts the next byte
func (r *reader) readByte() (v byte, err error) {
	err = r.readFixed(1, func(b []byte) { v = b[0] })
	return v, err
}

// readBool interprets a byte as boolean, anything but 0 and 1 is malformed
func (r *reader) readBool() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, malformedf("invalid boolean byte %#02x at offset %d", b, r.n-1)
}

// readUint16 decodes 2 bytes little endian
func (r *reader) readUint16() (v uint16, err error) {
	err = r.readFixed(2, func(b []byte) { v = binary.LittleEndian.Uint16(b) })
	return v, err
}

// readUint32 decodes 4 bytes little endian
func (r *reader) readUint32() (v uint32, err error) {
	err = r.readFixed(4, func(b []byte) { v = binary.LittleEndian.Uint32(b) })
	return v, err
}

// readUint64 decodes 8 bytes little endian
func (r *reader) readUint64() (v uint64, err error) {
	err = r.readFixed(8, func(b []byte) { v = binary.LittleEndian.Uint64(b) })
	return v, err
}

// readFloat32 decodes a float32 from its IEEE 754 bits
func (r *reader) readFloat32() (float32, error) {
	v, err := r.readUint32()
	return math.Float32frombits(v), err
}

// readFloat64 decodes a float64 from its IEEE 754 bits
func (r *reader) readFloat64() (float64, error) {
	v, err := r.readUint64()
	return math.Float64frombits(v), err
}

// readDecimal decodes the four 32-bit words of a Decimal
func (r *reader) readDecimal() (Decimal, error) {
	var raw [decimalSize]byte
	if err := r.readFixed(decimalSize, func(b []byte) { copy(raw[:], b) }); err != nil {
		return Decimal{}, err
	}
	return decimalFromBytes(raw[:])
}

// readBytes reads exactly n bytes into a fresh slice. Large frames are
// read chunk by chunk so a forged length cannot force one huge allocation
// ahead of the data actually arriving.
func (r *reader) readBytes(n int) ([]byte, error) {
	if n <= chunkSize {
		b := make([]byte, n)
		return b, r.readFull(b)
	}

	out := make([]byte, 0, chunkSize)
	chunk := rent(chunkSize)
	defer giveBack(chunk)
	for remaining := n; remaining > 0; {
		step := min(remaining, chunkSize)
		if err := r.readFull((*chunk)[:step]); err != nil {
			return nil, err
		}
		out = append(out, (*chunk)[:step]...)
		remaining -= step
	}
	return out, nil
}
