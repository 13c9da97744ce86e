package vstream

import (
	"context"
	"io"
	"log/slog"
	"reflect"
)

// SerializerContext is the per-stream state of one encode call tree. It is
// not safe for concurrent use. Serializable implementations receive it and
// write their fields through its methods.
type SerializerContext struct {
	ctx       context.Context
	w         *writer
	frame     framing
	reg       *Registry
	logger    *slog.Logger
	values    *writeCache
	types     *writeCache
	hashCache bool
	maxDepth  int
	depth     int
	options   *FieldOptions

	// digest is set on the cache-free contexts that fingerprint values
	digest bool
}

func newSerializerContext(ctx context.Context, w io.Writer, s settings) (*SerializerContext, error) {
	frame, err := framingFor(s.cfg.Version)
	if err != nil {
		return nil, err
	}
	c := &SerializerContext{
		ctx:       ctx,
		w:         newWriter(ctx, w),
		frame:     frame,
		reg:       s.registry,
		logger:    s.logger,
		values:    newWriteCache("object", s.logger),
		types:     newWriteCache("type", s.logger),
		hashCache: s.cfg.TypeHashCache && frame.caching(),
		maxDepth:  s.cfg.MaxDepth,
		options:   s.cfg.Limits,
	}
	if frame.caching() {
		if err := c.values.SetSize(s.cfg.ObjectCacheSize); err != nil {
			return nil, err
		}
		if err := c.types.SetSize(s.cfg.TypeCacheSize); err != nil {
			c.values.Close()
			return nil, err
		}
	}
	return c, nil
}

// sub returns a context writing to w with caching off, used to take value
// fingerprints
func (c *SerializerContext) sub(w io.Writer) *SerializerContext {
	return &SerializerContext{
		ctx:      c.ctx,
		w:        newWriter(c.ctx, w),
		frame:    c.frame,
		reg:      c.reg,
		logger:   c.logger,
		values:   newWriteCache("object", c.logger),
		types:    newWriteCache("type", c.logger),
		maxDepth: c.maxDepth,
		depth:    c.depth,
		digest:   true,
	}
}

// Close releases the pooled cache buffers
func (c *SerializerContext) Close() {
	c.values.Close()
	c.types.Close()
}

// Context returns the cancellation context of the call tree
func (c *SerializerContext) Context() context.Context { return c.ctx }

// Version returns the protocol version being written
func (c *SerializerContext) Version() int { return c.frame.version() }

// Registry returns the type registry in use
func (c *SerializerContext) Registry() *Registry { return c.reg }

// Logger returns the context logger
func (c *SerializerContext) Logger() *slog.Logger { return c.logger }

// Depth returns the current nesting depth
func (c *SerializerContext) Depth() int { return c.depth }

// BytesWritten returns the number of bytes written so far
func (c *SerializerContext) BytesWritten() int64 { return c.w.n }

// SetObjectCacheSize resizes the value cache
func (c *SerializerContext) SetObjectCacheSize(n int) error {
	if !c.frame.caching() {
		return configf("protocol version %d has no value cache", c.frame.version())
	}
	return c.values.SetSize(n)
}

// SetTypeCacheSize resizes the type reference cache
func (c *SerializerContext) SetTypeCacheSize(n int) error {
	if !c.frame.caching() {
		return configf("protocol version %d has no type cache", c.frame.version())
	}
	return c.types.SetSize(n)
}

// WithFieldOptions runs fn with o bounding the next length-bearing values
func (c *SerializerContext) WithFieldOptions(o *FieldOptions, fn func() error) error {
	prev := c.options
	c.options = o
	defer func() { c.options = prev }()
	return fn()
}

func (c *SerializerContext) enter() error {
	c.depth++
	if c.depth > c.maxDepth {
		return recursionf("nesting depth %d exceeds %d", c.depth, c.maxDepth)
	}
	return nil
}

func (c *SerializerContext) leave() { c.depth-- }

func (c *SerializerContext) WriteBool(v bool) error       { return c.w.writeBool(v) }
func (c *SerializerContext) WriteInt8(v int8) error       { return c.w.writeByte(byte(v)) }
func (c *SerializerContext) WriteUint8(v uint8) error     { return c.w.writeByte(v) }
func (c *SerializerContext) WriteInt16(v int16) error     { return c.w.writeUint16(uint16(v)) }
func (c *SerializerContext) WriteUint16(v uint16) error   { return c.w.writeUint16(v) }
func (c *SerializerContext) WriteInt32(v int32) error     { return c.w.writeUint32(uint32(v)) }
func (c *SerializerContext) WriteUint32(v uint32) error   { return c.w.writeUint32(v) }
func (c *SerializerContext) WriteInt64(v int64) error     { return c.w.writeUint64(uint64(v)) }
func (c *SerializerContext) WriteUint64(v uint64) error   { return c.w.writeUint64(v) }
func (c *SerializerContext) WriteFloat32(v float32) error { return c.w.writeFloat32(v) }
func (c *SerializerContext) WriteFloat64(v float64) error { return c.w.writeFloat64(v) }
func (c *SerializerContext) WriteDecimal(v Decimal) error { return c.w.writeDecimal(v) }

// WriteBytes writes a length-prefixed byte slice
func (c *SerializerContext) WriteBytes(b []byte) error {
	return writeBytes(c.w, c.frame, b, c.options)
}

// WriteString writes a length-prefixed UTF-8 string
func (c *SerializerContext) WriteString(s string) error {
	return writeString(c.w, c.frame, s, c.options)
}

// WriteStringCached writes s through the value cache, so repeats cost a
// cache reference. Legacy versions write it plainly.
func (c *SerializerContext) WriteStringCached(s string) error {
	if !c.frame.caching() || !c.values.enabled() {
		return c.WriteString(s)
	}
	handled, err := c.values.tryWrite(c.w, fingerprint("string", []byte(s)), false)
	if err != nil || handled {
		return err
	}
	return c.WriteString(s)
}

// WriteAny writes v as an item of static type any
func (c *SerializerContext) WriteAny(v any) error {
	return c.frame.writeItem(c, reflect.ValueOf(&v).Elem(), anyType, nil)
}

// WriteTypeInfo writes a root type descriptor
func (c *SerializerContext) WriteTypeInfo(info *SerializedTypeInfo) error {
	return typeInfoCodec{hashCache: c.hashCache}.write(c.w, info, true, 0)
}

// WriteType writes the descriptor of t
func (c *SerializerContext) WriteType(t reflect.Type) error {
	info, err := TypeInfoOf(t, c.reg)
	if err != nil {
		return err
	}
	return c.WriteTypeInfo(info)
}

// WriteStream copies src into the stream as chunks
func (c *SerializerContext) WriteStream(src io.Reader) error {
	if c.digest {
		return errUncacheable
	}
	return writeStream(c.w, c.frame, src)
}

// WriteNumber writes v in its compact form
func WriteNumber[T Number](c *SerializerContext, v T) error {
	n, _ := numericOf(reflect.ValueOf(v))
	return writeNumber(c.w, n, c.frame.legacyShort())
}

// WriteNullableNumber writes v, or a null marker when v is nil
func WriteNullableNumber[T Number](c *SerializerContext, v *T) error {
	if v == nil {
		return c.frame.writeNullableNumber(c.w, numeric{}, false)
	}
	n, _ := numericOf(reflect.ValueOf(*v))
	return c.frame.writeNullableNumber(c.w, n, true)
}

// WriteDecimalNumber writes v in its compact form
func (c *SerializerContext) WriteDecimalNumber(v Decimal) error {
	return writeNumber(c.w, numeric{kind: nkDecimal, d: v}, c.frame.legacyShort())
}

// WriteValue writes v as an item of static type T
func WriteValue[T any](c *SerializerContext, v T) error {
	return c.frame.writeItem(c, reflect.ValueOf(&v).Elem(), reflect.TypeFor[T](), nil)
}

// DeserializerContext is the per-stream state of one decode call tree. It
// is not safe for concurrent use.
type DeserializerContext struct {
	ctx       context.Context
	r         *reader
	frame     framing
	reg       *Registry
	logger    *slog.Logger
	values    *readCache
	types     *readCache
	hashCache bool
	maxDepth  int
	depth     int
	options   *FieldOptions
	temp      TempStreamFactory
	opened    []io.Closer
	visitor   Visitor
	skipAt    int // depth+1 of the item whose nested events are suppressed
}

func newDeserializerContext(ctx context.Context, r *reader, version int, s settings) (*DeserializerContext, error) {
	frame, err := framingFor(version)
	if err != nil {
		return nil, err
	}
	c := &DeserializerContext{
		ctx:       ctx,
		r:         r,
		frame:     frame,
		reg:       s.registry,
		logger:    s.logger,
		values:    newReadCache("object", s.logger),
		types:     newReadCache("type", s.logger),
		hashCache: s.cfg.TypeHashCache && frame.caching(),
		maxDepth:  s.cfg.MaxDepth,
		options:   s.cfg.Limits,
		temp:      s.temp,
		visitor:   s.visitor,
	}
	if frame.caching() {
		if err := c.values.SetSize(s.cfg.ObjectCacheSize); err != nil {
			return nil, err
		}
		if err := c.types.SetSize(s.cfg.TypeCacheSize); err != nil {
			c.values.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close releases the pooled cache buffers
func (c *DeserializerContext) Close() {
	c.values.Close()
	c.types.Close()
}

// abandon closes every stream materialized so far
func (c *DeserializerContext) abandon() {
	for _, cl := range c.opened {
		cl.Close()
	}
	c.opened = nil
}

// Context returns the cancellation context of the call tree
func (c *DeserializerContext) Context() context.Context { return c.ctx }

// Version returns the protocol version of the stream
func (c *DeserializerContext) Version() int { return c.frame.version() }

// Registry returns the type registry in use
func (c *DeserializerContext) Registry() *Registry { return c.reg }

// Logger returns the context logger
func (c *DeserializerContext) Logger() *slog.Logger { return c.logger }

// Depth returns the current nesting depth
func (c *DeserializerContext) Depth() int { return c.depth }

// BytesRead returns the number of bytes consumed so far
func (c *DeserializerContext) BytesRead() int64 { return c.r.n }

// SetObjectCacheSize resizes the value cache
func (c *DeserializerContext) SetObjectCacheSize(n int) error {
	if !c.frame.caching() {
		return configf("protocol version %d has no value cache", c.frame.version())
	}
	return c.values.SetSize(n)
}

// SetTypeCacheSize resizes the type reference cache
func (c *DeserializerContext) SetTypeCacheSize(n int) error {
	if !c.frame.caching() {
		return configf("protocol version %d has no type cache", c.frame.version())
	}
	return c.types.SetSize(n)
}

// WithFieldOptions runs fn with o bounding the next length-bearing values
func (c *DeserializerContext) WithFieldOptions(o *FieldOptions, fn func() error) error {
	prev := c.options
	c.options = o
	defer func() { c.options = prev }()
	return fn()
}

func (c *DeserializerContext) enter() error {
	c.depth++
	if c.depth > c.maxDepth {
		return recursionf("nesting depth %d exceeds %d", c.depth, c.maxDepth)
	}
	return nil
}

func (c *DeserializerContext) leave() { c.depth-- }

func (c *DeserializerContext) ReadBool() (bool, error) { return c.r.readBool() }

func (c *DeserializerContext) ReadInt8() (int8, error) {
	b, err := c.r.readByte()
	return int8(b), err
}

func (c *DeserializerContext) ReadUint8() (uint8, error) { return c.r.readByte() }

func (c *DeserializerContext) ReadInt16() (int16, error) {
	v, err := c.r.readUint16()
	return int16(v), err
}

func (c *DeserializerContext) ReadUint16() (uint16, error) { return c.r.readUint16() }

func (c *DeserializerContext) ReadInt32() (int32, error) {
	v, err := c.r.readUint32()
	return int32(v), err
}

func (c *DeserializerContext) ReadUint32() (uint32, error) { return c.r.readUint32() }

func (c *DeserializerContext) ReadInt64() (int64, error) {
	v, err := c.r.readUint64()
	return int64(v), err
}

func (c *DeserializerContext) ReadUint64() (uint64, error)   { return c.r.readUint64() }
func (c *DeserializerContext) ReadFloat32() (float32, error) { return c.r.readFloat32() }
func (c *DeserializerContext) ReadFloat64() (float64, error) { return c.r.readFloat64() }
func (c *DeserializerContext) ReadDecimal() (Decimal, error) { return c.r.readDecimal() }

// ReadBytes reads a length-prefixed byte slice
func (c *DeserializerContext) ReadBytes() ([]byte, error) {
	return readBytes(c.r, c.frame, c.options)
}

// ReadString reads a length-prefixed UTF-8 string
func (c *DeserializerContext) ReadString() (string, error) {
	return readString(c.r, c.frame, c.options)
}

// ReadStringCached mirrors WriteStringCached
func (c *DeserializerContext) ReadStringCached() (string, error) {
	if !c.frame.caching() || !c.values.enabled() {
		return c.ReadString()
	}
	v, handled, err := c.values.tryRead(c.r)
	if err != nil {
		return "", err
	}
	if handled {
		if v == nil {
			return "", malformedf("null cached string")
		}
		s, ok := v.(string)
		if !ok {
			return "", malformedf("cache slot holds %T, expected string", v)
		}
		return s, nil
	}
	s, err := c.ReadString()
	if err != nil {
		return "", err
	}
	c.values.add(s)
	return s, nil
}

// ReadAny reads an item of static type any
func (c *DeserializerContext) ReadAny() (any, error) {
	v, err := c.frame.readItem(c, anyType, nil)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

// ReadTypeInfo reads a root type descriptor
func (c *DeserializerContext) ReadTypeInfo() (*SerializedTypeInfo, error) {
	info, err := typeInfoCodec{hashCache: c.hashCache}.read(c.r, true, 0)
	if err != nil {
		return nil, err
	}
	if info.IsCachedReference() {
		if _, err := info.ToType(c.reg); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// ReadType reads a descriptor and resolves it
func (c *DeserializerContext) ReadType() (reflect.Type, error) {
	info, err := c.ReadTypeInfo()
	if err != nil {
		return nil, err
	}
	return info.ToType(c.reg)
}

// ReadStream materializes an embedded stream. The caller owns the result.
func (c *DeserializerContext) ReadStream() (TempStream, error) {
	s, err := readStream(c.r, c.frame, c.temp)
	if err != nil {
		return nil, err
	}
	c.opened = append(c.opened, s)
	return s, nil
}

// ReadNumber reads a compact number into T
func ReadNumber[T Number](c *DeserializerContext) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	n, null, err := readNumber(c.r, numKindOf(rv.Type()), c.frame.legacyShort())
	if err != nil {
		return out, err
	}
	if null {
		return out, malformedf("null number where %T was expected", out)
	}
	n.setTo(rv)
	return out, nil
}

// ReadNullableNumber reads a number written by WriteNullableNumber
func ReadNullableNumber[T Number](c *DeserializerContext) (*T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	n, present, err := c.frame.readNullableNumber(c.r, numKindOf(rv.Type()))
	if err != nil || !present {
		return nil, err
	}
	n.setTo(rv)
	return &out, nil
}

// ReadDecimalNumber reads a compact Decimal
func (c *DeserializerContext) ReadDecimalNumber() (Decimal, error) {
	n, null, err := readNumber(c.r, nkDecimal, c.frame.legacyShort())
	if err != nil {
		return Decimal{}, err
	}
	if null {
		return Decimal{}, malformedf("null number where a decimal was expected")
	}
	return n.d, nil
}

// ReadValue reads an item of static type T
func ReadValue[T any](c *DeserializerContext) (T, error) {
	var out T
	v, err := c.frame.readItem(c, reflect.TypeFor[T](), nil)
	if err != nil {
		return out, err
	}
	if v.IsValid() {
		reflect.ValueOf(&out).Elem().Set(v)
	}
	return out, nil
}

// ReadList reads a list of T
func ReadList[T any](c *DeserializerContext) ([]T, error) {
	return ReadValue[[]T](c)
}

// ReadDict reads a dict of K to V
func ReadDict[K comparable, V any](c *DeserializerContext) (map[K]V, error) {
	return ReadValue[map[K]V](c)
}
