package vstream

import (
	"encoding/binary"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Codec encodes and decodes values of one registered type itself, in place
// of the built-in Object payload. v is settable on decode.
type Codec interface {
	EncodeValue(c *SerializerContext, v reflect.Value) error
	DecodeValue(c *DeserializerContext, v reflect.Value) error
}

// CodecFuncs adapts a pair of functions to Codec
type CodecFuncs struct {
	Encode func(c *SerializerContext, v reflect.Value) error
	Decode func(c *DeserializerContext, v reflect.Value) error
}

func (f CodecFuncs) EncodeValue(c *SerializerContext, v reflect.Value) error { return f.Encode(c, v) }
func (f CodecFuncs) DecodeValue(c *DeserializerContext, v reflect.Value) error { return f.Decode(c, v) }

// Resolver is an extension hook consulted for types and names the registry
// does not know.
type Resolver interface {
	// ResolveCodec returns a codec and a stable name for t
	ResolveCodec(t reflect.Type) (Codec, string, bool)
	// ResolveName maps a name produced by ResolveCodec back to its type
	ResolveName(name string) (reflect.Type, bool)
}

var (
	anyType          = reflect.TypeFor[any]()
	reflectTypeType  = reflect.TypeFor[reflect.Type]()
	readerType       = reflect.TypeFor[io.Reader]()
	serializableType = reflect.TypeFor[Serializable]()
	tempStreamType   = reflect.TypeFor[TempStream]()
	bytesType        = reflect.TypeFor[[]byte]()
)

const (
	streamTypeName = "io.Reader"
	anyTypeName    = "any"
)

// builtinType is the Go type a kind decodes to when nothing else constrains it
func builtinType(kind ObjectType) reflect.Type {
	switch kind &^ FlagEmpty {
	case KindBool:
		return reflect.TypeFor[bool]()
	case KindByte:
		return reflect.TypeFor[int8]()
	case KindByte | FlagUnsigned:
		return reflect.TypeFor[uint8]()
	case KindShort:
		return reflect.TypeFor[int16]()
	case KindShort | FlagUnsigned:
		return reflect.TypeFor[uint16]()
	case KindInt:
		return reflect.TypeFor[int32]()
	case KindInt | FlagUnsigned:
		return reflect.TypeFor[uint32]()
	case KindLong:
		return reflect.TypeFor[int64]()
	case KindLong | FlagUnsigned:
		return reflect.TypeFor[uint64]()
	case KindFloat:
		return reflect.TypeFor[float32]()
	case KindDouble:
		return reflect.TypeFor[float64]()
	case KindDecimal:
		return decimalType
	case KindString:
		return reflect.TypeFor[string]()
	case KindBytes:
		return bytesType
	case KindType:
		return reflectTypeType
	case KindStream:
		return readerType
	}
	return nil
}

// typePlan is everything the dispatch layer needs to know about one Go
// type, resolved once and cached by the registry.
type typePlan struct {
	typ     reflect.Type
	kind    ObjectType // base kind, with FlagUnsigned for unsigned integers
	dynamic bool       // interface type, the kind comes from each value
	num     numKind
	name    string
	args    []reflect.Type
	codec   Codec
	leaf    reflect.Type // innermost array element
	dims    []int
	size    int // Struct payload width

	infoOnce sync.Once
	info     *SerializedTypeInfo
	infoErr  error
}

// needsTypeRef reports whether values of this kind carry a type reference
// when the static type is an interface
func (p *typePlan) needsTypeRef() bool {
	switch p.kind.RemoveFlags() {
	case KindArray, KindList, KindDict, KindStruct, KindObject, KindSerializable:
		return true
	}
	return false
}

// instanceType is the type a decoded value takes under an interface
func (p *typePlan) instanceType() reflect.Type {
	if p.kind == KindSerializable {
		return reflect.PointerTo(p.typ)
	}
	return p.typ
}

type registration struct {
	name  string
	kind  ObjectType
	codec Codec
	args  []reflect.Type
}

// MaxCachedPlans bounds the per-registry table of computed type plans
const MaxCachedPlans = 4096

// Registry maps Go types to codecs and names to types. It is safe for
// concurrent use; registration is expected to happen before encoding starts.
type Registry struct {
	mu        sync.RWMutex
	entries   map[reflect.Type]*registration
	byName    map[string]reflect.Type
	byHash    map[uint32]reflect.Type
	resolvers []Resolver
	plans     sync.Map // reflect.Type -> *typePlan
	planCount atomic.Int64
	logger    *slog.Logger
}

// NewRegistry returns a registry holding the built-in types
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[reflect.Type]*registration),
		byName:  make(map[string]reflect.Type),
		byHash:  make(map[uint32]reflect.Type),
		logger:  slog.New(slog.DiscardHandler),
	}
	for kind, name := range primitiveNames {
		r.byName[name] = builtinType(kind)
	}
	r.byName[streamTypeName] = readerType
	r.byName[anyTypeName] = anyType

	// the built-ins cannot clash, errors are impossible here
	_ = r.Register(reflect.TypeFor[time.Time](), "time.Time")
	_ = r.RegisterStruct(reflect.TypeFor[uuid.UUID](), "uuid.UUID")
	return r
}

// SetLogger directs registration records to l
func (r *Registry) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Register adds a struct type under name. Types whose pointer implements
// Serializable are registered as Serializable, anything else as Object.
// An empty name derives one from the package path.
func (r *Registry) Register(t reflect.Type, name string) error {
	if t.Kind() != reflect.Struct {
		return configf("register %s: only struct types can be registered", t)
	}
	kind := KindObject
	if reflect.PointerTo(t).Implements(serializableType) {
		kind = KindSerializable
	}
	return r.add(t, &registration{name: name, kind: kind})
}

// RegisterType is Register for a type parameter
func RegisterType[T any](r *Registry, name string) error {
	return r.Register(reflect.TypeFor[T](), name)
}

// RegisterStruct adds a fixed-size value type encoded with its binary
// layout, such as uuid.UUID.
func (r *Registry) RegisterStruct(t reflect.Type, name string) error {
	if binary.Size(reflect.New(t).Elem().Interface()) <= 0 {
		return configf("register %s: not a fixed-size type", t)
	}
	return r.add(t, &registration{name: name, kind: KindStruct})
}

// RegisterCodec adds a type encoded by its own codec
func (r *Registry) RegisterCodec(t reflect.Type, name string, c Codec) error {
	if c == nil {
		return configf("register %s: nil codec", t)
	}
	return r.add(t, &registration{name: name, kind: KindObject, codec: c})
}

// RegisterGeneric adds an instantiation of a generic struct under its
// definition name and type arguments, so its descriptor carries them.
func (r *Registry) RegisterGeneric(t reflect.Type, name string, args ...reflect.Type) error {
	if t.Kind() != reflect.Struct {
		return configf("register %s: only struct types can be registered", t)
	}
	if name == "" || len(args) == 0 {
		return configf("register %s: a generic instantiation needs a name and arguments", t)
	}
	kind := KindObject
	if reflect.PointerTo(t).Implements(serializableType) {
		kind = KindSerializable
	}
	return r.add(t, &registration{name: name, kind: kind, args: args})
}

// RegisterName adds an extra name that resolves to t, e.g. a previous name
// still present in old streams.
func (r *Registry) RegisterName(name string, t reflect.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[name]; ok && prev != t {
		return configf("name %q already registered for %s", name, prev)
	}
	r.byName[name] = t
	return nil
}

// AddResolver appends an extension hook
func (r *Registry) AddResolver(res Resolver) {
	r.mu.Lock()
	r.resolvers = append(r.resolvers, res)
	r.mu.Unlock()
	r.clearPlans()
}

func (r *Registry) add(t reflect.Type, reg *registration) error {
	if reg.name == "" {
		reg.name = defaultTypeName(t)
	}
	if reg.name == "" {
		return configf("register %s: anonymous types need an explicit name", t)
	}

	r.mu.Lock()
	if prev, ok := r.entries[t]; ok {
		r.mu.Unlock()
		return configf("register %s: already registered as %q", t, prev.name)
	}
	r.entries[t] = reg
	r.mu.Unlock()
	r.clearPlans()

	info, err := TypeInfoOf(t, r)
	if err != nil {
		r.remove(t)
		return err
	}
	canonical := info.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[canonical]; ok && prev != t {
		delete(r.entries, t)
		r.clearPlans()
		return configf("register %s: name %q already registered for %s", t, canonical, prev)
	}
	hash := TypeHash(canonical)
	if prev, ok := r.byHash[hash]; ok && prev != t {
		delete(r.entries, t)
		r.clearPlans()
		return configf("register %s: type hash %#08x of %q collides with %s", t, hash, canonical, prev)
	}
	r.byName[canonical] = t
	r.byHash[hash] = t
	r.logger.Debug("type registered", "type", t.String(), "name", canonical, "kind", reg.kind.String(), "hash", hash)
	return nil
}

func (r *Registry) remove(t reflect.Type) {
	r.mu.Lock()
	delete(r.entries, t)
	r.mu.Unlock()
	r.clearPlans()
}

func defaultTypeName(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// ResolveType maps a canonical name to its type
func (r *Registry) ResolveType(name string) (reflect.Type, error) {
	if r == nil {
		return nil, resolvef("unknown type name %q", name)
	}
	r.mu.RLock()
	t, ok := r.byName[name]
	resolvers := r.resolvers
	r.mu.RUnlock()
	if ok {
		return t, nil
	}
	for _, res := range resolvers {
		if t, ok := res.ResolveName(name); ok {
			return t, nil
		}
	}
	return nil, resolvef("unknown type name %q", name)
}

// TypeByHash maps a type hash to a registered type
func (r *Registry) TypeByHash(hash uint32) (reflect.Type, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byHash[hash]
	return t, ok
}

// NameOf returns the canonical name of t
func (r *Registry) NameOf(t reflect.Type) (string, error) {
	p, err := r.planFor(t)
	if err != nil {
		return "", err
	}
	info, err := p.typeInfo(r)
	if err != nil {
		return "", err
	}
	return info.String(), nil
}

func (r *Registry) entry(t reflect.Type) (*registration, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

func (r *Registry) resolverCodec(t reflect.Type) (Codec, string, bool) {
	if r == nil {
		return nil, "", false
	}
	r.mu.RLock()
	resolvers := r.resolvers
	r.mu.RUnlock()
	for _, res := range resolvers {
		if c, name, ok := res.ResolveCodec(t); ok {
			return c, name, true
		}
	}
	return nil, "", false
}

// typeInfo returns the memoized descriptor of the plan's type
func (p *typePlan) typeInfo(r *Registry) (*SerializedTypeInfo, error) {
	p.infoOnce.Do(func() {
		p.info, p.infoErr = TypeInfoOf(p.typ, r)
	})
	return p.info, p.infoErr
}

// planFor returns the cached plan for t
func (r *Registry) planFor(t reflect.Type) (*typePlan, error) {
	if r == nil {
		return computePlan(nil, t)
	}
	if p, ok := r.plans.Load(t); ok {
		return p.(*typePlan), nil
	}
	p, err := computePlan(r, t)
	if err != nil {
		return nil, err
	}
	// composite types described by streams are unbounded, stop caching
	// once the table is full
	if r.planCount.Load() >= MaxCachedPlans {
		return p, nil
	}
	actual, loaded := r.plans.LoadOrStore(t, p)
	if !loaded {
		r.planCount.Add(1)
	}
	return actual.(*typePlan), nil
}

func (r *Registry) clearPlans() {
	r.plans.Clear()
	r.planCount.Store(0)
}

func computePlan(r *Registry, t reflect.Type) (*typePlan, error) {
	if e, ok := r.entry(t); ok {
		p := &typePlan{typ: t, kind: e.kind, name: e.name, args: e.args, codec: e.codec}
		if e.kind == KindStruct {
			p.size = binary.Size(reflect.New(t).Elem().Interface())
		}
		return p, nil
	}

	if t.Implements(reflectTypeType) {
		return &typePlan{typ: reflectTypeType, kind: KindType}, nil
	}

	switch t.Kind() {
	case reflect.Interface:
		if t.Implements(readerType) && tempStreamType.Implements(t) {
			return &typePlan{typ: t, kind: KindStream}, nil
		}
		return &typePlan{typ: t, dynamic: true}, nil

	case reflect.Pointer:
		if t.Implements(serializableType) && t.Elem().Kind() == reflect.Struct {
			return r.planFor(t.Elem())
		}
		if c, name, ok := r.resolverCodec(t); ok {
			return &typePlan{typ: t, kind: KindObject, name: name, codec: c}, nil
		}
		if t.Implements(readerType) {
			return &typePlan{typ: t, kind: KindStream}, nil
		}
		return r.planFor(t.Elem())
	}

	if t == decimalType {
		return &typePlan{typ: t, kind: KindDecimal, num: nkDecimal}, nil
	}
	if t.Implements(readerType) {
		return &typePlan{typ: t, kind: KindStream}, nil
	}

	if nk := numKindOf(t); nk != nkInvalid {
		return &typePlan{typ: t, kind: numberKind(nk), num: nk}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return &typePlan{typ: t, kind: KindBool}, nil
	case reflect.String:
		return &typePlan{typ: t, kind: KindString}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &typePlan{typ: t, kind: KindBytes}, nil
		}
		return &typePlan{typ: t, kind: KindList}, nil
	case reflect.Map:
		return &typePlan{typ: t, kind: KindDict}, nil
	case reflect.Array:
		p := &typePlan{typ: t, kind: KindArray}
		leaf := t
		for leaf.Kind() == reflect.Array {
			if _, ok := r.entry(leaf); ok && leaf != t {
				break
			}
			p.dims = append(p.dims, leaf.Len())
			leaf = leaf.Elem()
		}
		if len(p.dims) > 255 {
			return nil, configf("array type %s has rank %d, max 255", t, len(p.dims))
		}
		p.leaf = leaf
		return p, nil
	case reflect.Struct:
		if reflect.PointerTo(t).Implements(serializableType) {
			return &typePlan{typ: t, kind: KindSerializable, name: plainName(t)}, nil
		}
		if c, name, ok := r.resolverCodec(t); ok {
			return &typePlan{typ: t, kind: KindObject, name: name, codec: c}, nil
		}
		return &typePlan{typ: t, kind: KindObject, name: plainName(t)}, nil
	}
	return nil, resolvef("no codec for type %s", t)
}

func plainName(t reflect.Type) string {
	if n := defaultTypeName(t); n != "" {
		return n
	}
	return t.String()
}

// numberKind is the item kind a number travels under
func numberKind(k numKind) ObjectType {
	switch k {
	case nkInt8:
		return KindByte
	case nkUint8:
		return KindByte | FlagUnsigned
	case nkInt16:
		return KindShort
	case nkUint16:
		return KindShort | FlagUnsigned
	case nkInt32:
		return KindInt
	case nkUint32:
		return KindInt | FlagUnsigned
	case nkInt64, nkInt:
		return KindLong
	case nkUint64, nkUint:
		return KindLong | FlagUnsigned
	case nkFloat32:
		return KindFloat
	case nkFloat64:
		return KindDouble
	case nkDecimal:
		return KindDecimal
	}
	return KindNull
}
