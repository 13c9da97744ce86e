package vstream

import (
	"context"
	"encoding/binary"
	"io"
	"math"
)

// writer performs the fixed-width primitive writes on a byte sink. Each call
// checks for cancellation before touching the sink.
type writer struct {
	ctx context.Context
	w   io.Writer
	n   int64 // bytes written so far
}

func newWriter(ctx context.Context, w io.Writer) *writer {
	return &writer{ctx: ctx, w: w}
}

// write hands p to the sink
func (w *writer) write(p []byte) error {
	if err := w.ctx.Err(); err != nil {
		return &SerializerError{Kind: ErrIO, Err: err}
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		return &SerializerError{Kind: ErrIO, Err: err}
	}
	if n != len(p) {
		return &SerializerError{Kind: ErrIO, Err: io.ErrShortWrite}
	}
	return nil
}

// writeFixed rents a scratch buffer of size bytes, lets fill encode into it
// and writes it out.
func (w *writer) writeFixed(size int, fill func([]byte)) error {
	scratch := rent(size)
	defer giveBack(scratch)
	fill(*scratch)
	return w.write(*scratch)
}

// writeByte encodes a single byte
func (w *writer) writeByte(v byte) error {
	return w.writeFixed(1, func(b []byte) { b[0] = v })
}

// writeBool encodes a boolean as a single byte: 1 for true, 0 for false.
func (w *writer) writeBool(v bool) error {
	if v {
		return w.writeByte(1)
	}
	return w.writeByte(0)
}

// writeUint16 encodes 2 bytes little endian
func (w *writer) writeUint16(v uint16) error {
	return w.writeFixed(2, func(b []byte) { binary.LittleEndian.PutUint16(b, v) })
}

// writeUint32 encodes 4 bytes little endian
func (w *writer) writeUint32(v uint32) error {
	return w.writeFixed(4, func(b []byte) { binary.LittleEndian.PutUint32(b, v) })
}

// writeUint64 encodes 8 bytes little endian
func (w *writer) writeUint64(v uint64) error {
	return w.writeFixed(8, func(b []byte) { binary.LittleEndian.PutUint64(b, v) })
}

// writeFloat32 encodes the IEEE 754 bits of v
func (w *writer) writeFloat32(v float32) error {
	return w.writeUint32(math.Float32bits(v))
}

// writeFloat64 encodes the IEEE 754 bits of v
func (w *writer) writeFloat64(v float64) error {
	return w.writeUint64(math.Float64bits(v))
}

// writeDecimal encodes the four 32-bit words of v
func (w *writer) writeDecimal(v Decimal) error {
	return w.writeFixed(decimalSize, func(b []byte) { v.appendBytes(b[:0]) })
}
