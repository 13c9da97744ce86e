package vstream

import (
	"bytes"
	"context"
	"io"
	"reflect"
)

// Decoder reads streams written by an Encoder[T] of the same or an older
// protocol version. It is safe for concurrent use.
type Decoder[T any] struct {
	s      settings
	static reflect.Type
}

// NewDecoder builds a Decoder for T. The configured Version is the highest
// protocol version it accepts.
func NewDecoder[T any](opts ...Option) (*Decoder[T], error) {
	s, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}
	d := &Decoder[T]{s: s, static: reflect.TypeFor[T]()}
	if _, err := s.registry.planFor(d.static); err != nil {
		return nil, wrapError("new decoder", err)
	}
	return d, nil
}

// MaxVersion returns the highest protocol version this decoder accepts
func (d *Decoder[T]) MaxVersion() int { return d.s.cfg.Version }

// Decode reads one stream from r into v. Streams embedded in the value are
// owned by the caller after a successful return and closed on failure.
func (d *Decoder[T]) Decode(ctx context.Context, r io.Reader, v *T) (err error) {
	defer recoverError("decode", &err)
	defer func() { err = wrapError("decode", err) }()

	if v == nil {
		return configf("nil %s pointer", d.static)
	}
	out, _, err := decode(ctx, r, d.static, d.s, false)
	if err != nil {
		return err
	}
	if out.IsValid() {
		reflect.ValueOf(v).Elem().Set(out)
	}
	return nil
}

// Unmarshal decodes data, which must hold exactly one stream
func (d *Decoder[T]) Unmarshal(data []byte, v *T) (err error) {
	defer recoverError("unmarshal", &err)
	defer func() { err = wrapError("unmarshal", err) }()

	if v == nil {
		return configf("nil %s pointer", d.static)
	}
	out, _, err := decode(context.Background(), bytes.NewReader(data), d.static, d.s, true)
	if err != nil {
		return err
	}
	if out.IsValid() {
		reflect.ValueOf(v).Elem().Set(out)
	}
	return nil
}

// Deserialize reads a stream written by Serialize
func Deserialize(ctx context.Context, r io.Reader, opts ...Option) (v any, err error) {
	defer recoverError("deserialize", &err)
	defer func() { err = wrapError("deserialize", err) }()

	s, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}
	out, _, err := decode(ctx, r, anyType, s, false)
	if err != nil || !out.IsValid() {
		return nil, err
	}
	return out.Interface(), nil
}

// decode reads the header and one item. exact rejects bytes after the item.
func decode(ctx context.Context, src io.Reader, static reflect.Type, s settings, exact bool) (reflect.Value, int, error) {
	r := newReader(ctx, src)
	version, err := readCompact(r)
	if err != nil {
		return reflect.Value{}, 0, err
	}
	if version > s.cfg.Version {
		return reflect.Value{}, version, versionf("stream version %d, max supported %d", version, s.cfg.Version)
	}
	s.logger.Debug("stream version", "version", version, "max", s.cfg.Version)
	if s.visitor != nil {
		if err := s.visitor.VisitHeader(version); err != nil {
			return reflect.Value{}, version, err
		}
	}

	c, err := newDeserializerContext(ctx, r, version, s)
	if err != nil {
		return reflect.Value{}, version, err
	}
	defer c.Close()

	out, err := c.frame.readItem(c, static, nil)
	if err == nil && exact {
		var probe [1]byte
		if n, _ := src.Read(probe[:]); n > 0 {
			err = malformedf("trailing bytes after item at offset %d", r.n)
		}
	}
	if err != nil || s.visitor != nil {
		// a walk hands nothing back, so its streams are released too
		c.abandon()
	}
	if err != nil {
		return reflect.Value{}, version, err
	}
	return out, version, nil
}
