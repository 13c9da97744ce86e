package vstream

import (
	"context"
	"io"
	"reflect"
)

// Encoder writes values of type T as complete streams: the protocol version
// followed by one item of static type T.
//
// Create one encoder per type and configuration; it is safe for concurrent
// use, each call gets its own caches.
//
//	enc, err := vstream.NewEncoder[Order](vstream.WithObjectCache(256))
//	...
//	err = enc.Encode(ctx, conn, &order)
type Encoder[T any] struct {
	s      settings
	static reflect.Type
}

// NewEncoder builds an Encoder for T. It fails when the options do not
// validate or when T has no codec.
func NewEncoder[T any](opts ...Option) (*Encoder[T], error) {
	s, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}
	e := &Encoder[T]{s: s, static: reflect.TypeFor[T]()}
	if _, err := s.registry.planFor(e.static); err != nil {
		return nil, wrapError("new encoder", err)
	}
	return e, nil
}

// Version returns the protocol version this encoder writes
func (e *Encoder[T]) Version() int { return e.s.cfg.Version }

// Encode writes v to w
func (e *Encoder[T]) Encode(ctx context.Context, w io.Writer, v *T) (err error) {
	defer recoverError("encode", &err)
	defer func() { err = wrapError("encode", err) }()

	if v == nil {
		return configf("nil %s pointer", e.static)
	}
	return encode(ctx, w, reflect.ValueOf(v).Elem(), e.static, e.s)
}

// Marshal appends the stream for v to buf
func (e *Encoder[T]) Marshal(v *T, buf *Buffer) error {
	return e.Encode(context.Background(), buf, v)
}

// MarshalBytes returns the stream for v in a new slice
func (e *Encoder[T]) MarshalBytes(v T) ([]byte, error) {
	buf := NewBufferFromPool()
	defer buf.ReturnToPool()
	if err := e.Marshal(&v, buf); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes...), nil
}

// Serialize writes v as a stream whose item has static type any, so the
// concrete type travels with it.
func Serialize(ctx context.Context, w io.Writer, v any, opts ...Option) (err error) {
	defer recoverError("serialize", &err)
	defer func() { err = wrapError("serialize", err) }()

	s, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	return encode(ctx, w, reflect.ValueOf(&v).Elem(), anyType, s)
}

func encode(ctx context.Context, w io.Writer, v reflect.Value, static reflect.Type, s settings) error {
	c, err := newSerializerContext(ctx, w, s)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := writeCompact(c.w, s.cfg.Version); err != nil {
		return err
	}
	if err := c.frame.writeItem(c, v, static, nil); err != nil {
		return err
	}
	s.logger.Debug("stream encoded", "version", s.cfg.Version, "type", static.String(), "bytes", c.w.n)
	return nil
}
