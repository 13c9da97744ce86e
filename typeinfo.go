package vstream

import (
	"bytes"
	"context"
	"reflect"
	"strconv"
	"strings"
)

const (
	// TypeInfoVersion is the descriptor format version written ahead of
	// every root descriptor.
	TypeInfoVersion = 1

	// MaxTypeInfoDepth bounds descriptor nesting on both paths
	MaxTypeInfoDepth = 32

	// MaxArrayElements bounds the element count of an array type built
	// from a descriptor, across all of its dimensions.
	MaxArrayElements = 1 << 20

	// maxArrayBytes bounds the in-memory size of such an array type
	maxArrayBytes = 64 << 20
)

// SerializedTypeInfo is the self-describing encoding of a runtime type.
// Instances are immutable once built or decoded.
type SerializedTypeInfo struct {
	ObjectType ObjectType
	Name       string
	// Hash identifies a Serializable type by the hash of its canonical name
	// when the descriptor is a cached reference.
	Hash uint32

	IsGenericTypeDefinition bool
	GenericParameterCount   int
	GenericArguments        []*SerializedTypeInfo

	ElementType  *SerializedTypeInfo
	ArrayRank    int
	ArrayLengths []int

	str string
	typ reflect.Type
}

// IsCachedReference reports whether the descriptor names its type by hash
func (s *SerializedTypeInfo) IsCachedReference() bool {
	return s.ObjectType.IsCached()
}

// TypeInfoOf builds the descriptor of t. Names of registered types come from
// reg, which may be nil.
func TypeInfoOf(t reflect.Type, reg *Registry) (*SerializedTypeInfo, error) {
	return typeInfoOf(t, reg, 0)
}

func typeInfoOf(t reflect.Type, reg *Registry, depth int) (*SerializedTypeInfo, error) {
	if depth >= MaxTypeInfoDepth {
		return nil, recursionf("type descriptor of %s nests deeper than %d", t, MaxTypeInfoDepth)
	}

	plan, err := reg.planFor(t)
	if err != nil {
		return nil, err
	}
	if plan.dynamic {
		name := interfaceName(t)
		if name == "" {
			return nil, resolvef("anonymous interface type %s has no descriptor", t)
		}
		return &SerializedTypeInfo{ObjectType: KindObject, Name: name}, nil
	}

	info := &SerializedTypeInfo{ObjectType: plan.kind}
	switch plan.kind.RemoveFlags() {
	case KindList:
		elem, err := typeInfoOf(plan.typ.Elem(), reg, depth+1)
		if err != nil {
			return nil, err
		}
		info.GenericParameterCount = 1
		info.GenericArguments = []*SerializedTypeInfo{elem}

	case KindDict:
		key, err := typeInfoOf(plan.typ.Key(), reg, depth+1)
		if err != nil {
			return nil, err
		}
		elem, err := typeInfoOf(plan.typ.Elem(), reg, depth+1)
		if err != nil {
			return nil, err
		}
		info.GenericParameterCount = 2
		info.GenericArguments = []*SerializedTypeInfo{key, elem}

	case KindArray:
		elem, err := typeInfoOf(plan.leaf, reg, depth+1)
		if err != nil {
			return nil, err
		}
		info.ElementType = elem
		info.ArrayRank = len(plan.dims)
		info.ArrayLengths = plan.dims

	case KindStruct, KindObject, KindSerializable:
		info.Name = plan.name
		for _, arg := range plan.args {
			a, err := typeInfoOf(arg, reg, depth+1)
			if err != nil {
				return nil, err
			}
			info.GenericArguments = append(info.GenericArguments, a)
		}
		info.GenericParameterCount = len(info.GenericArguments)

	case KindStream:
		info.Name = streamTypeName
	}
	return info, nil
}

// interfaceName names an interface type in descriptors, where it appears as
// an Object element type
func interfaceName(t reflect.Type) string {
	if t == anyType {
		return anyTypeName
	}
	return defaultTypeName(t)
}

var primitiveNames = map[ObjectType]string{
	KindBool:                 "bool",
	KindByte:                 "int8",
	KindByte | FlagUnsigned:  "uint8",
	KindShort:                "int16",
	KindShort | FlagUnsigned: "uint16",
	KindInt:                  "int32",
	KindInt | FlagUnsigned:   "uint32",
	KindLong:                 "int64",
	KindLong | FlagUnsigned:  "uint64",
	KindFloat:                "float32",
	KindDouble:               "float64",
	KindDecimal:              "decimal",
	KindString:               "string",
	KindBytes:                "[]byte",
	KindType:                 "reflect.Type",
}

// String renders the canonical type name
func (s *SerializedTypeInfo) String() string {
	if s.str == "" {
		s.str = s.render()
	}
	return s.str
}

func (s *SerializedTypeInfo) render() string {
	if s.IsCachedReference() {
		if s.Name != "" {
			return s.Name
		}
		return "#" + strconv.FormatUint(uint64(s.Hash), 16)
	}
	if name, ok := primitiveNames[s.ObjectType]; ok {
		return name
	}

	var sb strings.Builder
	switch s.ObjectType.RemoveFlags() {
	case KindList:
		if len(s.GenericArguments) == 1 {
			sb.WriteString("[]")
			sb.WriteString(s.GenericArguments[0].String())
			return sb.String()
		}
	case KindDict:
		if len(s.GenericArguments) == 2 {
			sb.WriteString("map[")
			sb.WriteString(s.GenericArguments[0].String())
			sb.WriteString("]")
			sb.WriteString(s.GenericArguments[1].String())
			return sb.String()
		}
	case KindArray:
		sb.WriteString("[")
		if len(s.ArrayLengths) == s.ArrayRank {
			for i, n := range s.ArrayLengths {
				if i > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(strconv.Itoa(n))
			}
		} else {
			sb.WriteString(strings.Repeat(",", max(s.ArrayRank-1, 0)))
		}
		sb.WriteString("]")
		if s.ElementType != nil {
			sb.WriteString(s.ElementType.String())
		}
		return sb.String()
	}

	name := s.Name
	if name == "" {
		name = s.ObjectType.RemoveFlags().String()
	}
	sb.WriteString(name)
	if s.IsGenericTypeDefinition || s.GenericParameterCount > 0 {
		sb.WriteString("`")
		sb.WriteString(strconv.Itoa(s.GenericParameterCount))
	}
	if len(s.GenericArguments) > 0 {
		sb.WriteString("[")
		for i, a := range s.GenericArguments {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(a.String())
		}
		sb.WriteString("]")
	}
	return sb.String()
}

// ToType resolves the descriptor to a runtime type, consulting reg for
// named and hashed types. The result is memoized.
func (s *SerializedTypeInfo) ToType(reg *Registry) (reflect.Type, error) {
	if s.typ != nil {
		return s.typ, nil
	}
	t, err := s.resolve(reg)
	if err != nil {
		return nil, err
	}
	s.typ = t
	return t, nil
}

func (s *SerializedTypeInfo) resolve(reg *Registry) (reflect.Type, error) {
	if s.IsCachedReference() {
		return resolveTypeHash(reg, s.Hash)
	}
	if s.IsGenericTypeDefinition {
		return nil, resolvef("open generic definition %s has no runtime type", s)
	}
	if t := builtinType(s.ObjectType); t != nil {
		return t, nil
	}

	switch s.ObjectType.RemoveFlags() {
	case KindList:
		if len(s.GenericArguments) != 1 {
			return nil, malformedf("list descriptor with %d generic arguments", len(s.GenericArguments))
		}
		elem, err := s.GenericArguments[0].ToType(reg)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case KindDict:
		if len(s.GenericArguments) != 2 {
			return nil, malformedf("dict descriptor with %d generic arguments", len(s.GenericArguments))
		}
		key, err := s.GenericArguments[0].ToType(reg)
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, resolvef("dict key type %s is not comparable", key)
		}
		elem, err := s.GenericArguments[1].ToType(reg)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil

	case KindArray:
		if s.ElementType == nil {
			return nil, malformedf("array descriptor without element type")
		}
		if s.ArrayRank < 1 || len(s.ArrayLengths) != s.ArrayRank {
			return nil, malformedf("invalid array rank %d with %d lengths", s.ArrayRank, len(s.ArrayLengths))
		}
		t, err := s.ElementType.ToType(reg)
		if err != nil {
			return nil, err
		}
		for i := len(s.ArrayLengths) - 1; i >= 0; i-- {
			n := s.ArrayLengths[i]
			if err := checkArrayBounds(n, t); err != nil {
				return nil, err
			}
			t = reflect.ArrayOf(n, t)
		}
		return t, nil

	case KindStruct, KindObject, KindSerializable:
		if s.Name == "" {
			return nil, malformedf("%s descriptor without a type name", s.ObjectType)
		}
		t, err := reg.ResolveType(s.String())
		if err != nil {
			return nil, err
		}
		plan, err := reg.planFor(t)
		if err != nil {
			return nil, err
		}
		if plan.dynamic && s.ObjectType.RemoveFlags() == KindObject {
			return t, nil
		}
		if plan.kind.RemoveFlags() != s.ObjectType.RemoveFlags() {
			return nil, resolvef("type %s resolved to %s, which is %s", s, t, plan.kind)
		}
		return t, nil
	}
	return nil, resolvef("no runtime type for %s descriptor", s.ObjectType)
}

func resolveTypeHash(reg *Registry, hash uint32) (reflect.Type, error) {
	t, ok := reg.TypeByHash(hash)
	if !ok {
		return nil, resolvef("no registered type with hash %#08x", hash)
	}
	if !reflect.PointerTo(t).Implements(serializableType) {
		return nil, resolvef("type %s selected by hash %#08x is not Serializable", t, hash)
	}
	return t, nil
}

// typeInfoCodec carries the settings a descriptor is encoded under
type typeInfoCodec struct {
	hashCache bool
}

// write encodes info. A root descriptor is preceded by the format version.
func (tc typeInfoCodec) write(w *writer, info *SerializedTypeInfo, root bool, depth int) error {
	if depth >= MaxTypeInfoDepth {
		return recursionf("type descriptor %s nests deeper than %d", info, MaxTypeInfoDepth)
	}
	if root {
		if err := writeCompact(w, TypeInfoVersion); err != nil {
			return err
		}
	}

	kind := info.ObjectType &^ FlagCached
	if kind == KindSerializable && (tc.hashCache || info.IsCachedReference()) && !info.IsGenericTypeDefinition {
		hash := info.Hash
		if !info.IsCachedReference() {
			hash = TypeHash(info.String())
		}
		if err := w.writeByte(byte(KindSerializable | FlagCached)); err != nil {
			return err
		}
		return w.writeUint32(hash)
	}

	if err := w.writeByte(byte(kind)); err != nil {
		return err
	}
	if kind.NeedsName() {
		if info.Name == "" {
			return configf("%s descriptor without a type name", kind)
		}
		if err := writeCompactString(w, info.Name); err != nil {
			return err
		}
	}
	if kind.IsGeneric() {
		if info.IsGenericTypeDefinition {
			if info.GenericParameterCount < 1 || info.GenericParameterCount > 128 {
				return configf("generic definition %s with %d parameters", info.Name, info.GenericParameterCount)
			}
			return w.writeByte(byte(int8(-info.GenericParameterCount)))
		}
		if len(info.GenericArguments) > 127 {
			return configf("type %s has %d generic arguments", info.Name, len(info.GenericArguments))
		}
		if err := w.writeByte(byte(int8(len(info.GenericArguments)))); err != nil {
			return err
		}
		for _, a := range info.GenericArguments {
			if err := tc.write(w, a, false, depth+1); err != nil {
				return err
			}
		}
	}
	if kind.IsArray() {
		if info.ElementType == nil {
			return configf("array descriptor without element type")
		}
		if info.ArrayRank < 1 || info.ArrayRank > 255 || len(info.ArrayLengths) != info.ArrayRank {
			return configf("invalid array rank %d with %d lengths", info.ArrayRank, len(info.ArrayLengths))
		}
		if err := tc.write(w, info.ElementType, false, depth+1); err != nil {
			return err
		}
		if err := w.writeByte(byte(info.ArrayRank - 1)); err != nil {
			return err
		}
		for _, n := range info.ArrayLengths {
			if err := writeCompact(w, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// validDescriptorKind reports whether t may open a descriptor
func validDescriptorKind(t ObjectType) bool {
	if t == KindSerializable|FlagCached {
		return true
	}
	if t.IsEmpty() || t.IsCached() || !t.Valid() {
		return false
	}
	switch t.RemoveFlags() {
	case KindNull, KindLastItemType, KindBasicTypeInfo:
		return false
	}
	return true
}

// read decodes a descriptor into a fresh instance
func (tc typeInfoCodec) read(r *reader, root bool, depth int) (*SerializedTypeInfo, error) {
	if depth >= MaxTypeInfoDepth {
		return nil, recursionf("type descriptor nests deeper than %d", MaxTypeInfoDepth)
	}
	if root {
		v, err := readCompact(r)
		if err != nil {
			return nil, err
		}
		if v > TypeInfoVersion || v < 0 {
			return nil, versionf("type descriptor version %d, max supported %d", v, TypeInfoVersion)
		}
	}

	b, err := r.readByte()
	if err != nil {
		return nil, err
	}
	kind := ObjectType(b)
	if !validDescriptorKind(kind) {
		return nil, malformedf("invalid type descriptor tag %#02x at offset %d", b, r.n-1)
	}

	info := &SerializedTypeInfo{ObjectType: kind}
	if kind.IsCached() {
		if !tc.hashCache {
			return nil, configf("cached type reference while the type hash cache is disabled")
		}
		info.Hash, err = r.readUint32()
		return info, err
	}

	if kind.NeedsName() {
		if info.Name, err = readCompactString(r, nil); err != nil {
			return nil, err
		}
		if info.Name == "" {
			return nil, malformedf("%s descriptor without a type name", kind)
		}
	}
	if kind.IsGeneric() {
		cb, err := r.readByte()
		if err != nil {
			return nil, err
		}
		count := int(int8(cb))
		if count < 0 {
			info.IsGenericTypeDefinition = true
			info.GenericParameterCount = -count
		} else {
			info.GenericParameterCount = count
			for range count {
				a, err := tc.read(r, false, depth+1)
				if err != nil {
					return nil, err
				}
				info.GenericArguments = append(info.GenericArguments, a)
			}
		}
	}
	if kind.IsArray() {
		if info.ElementType, err = tc.read(r, false, depth+1); err != nil {
			return nil, err
		}
		rb, err := r.readByte()
		if err != nil {
			return nil, err
		}
		info.ArrayRank = int(rb + 1)
		if info.ArrayRank == 0 {
			return nil, malformedf("invalid array rank 0")
		}
		info.ArrayLengths = make([]int, info.ArrayRank)
		for i := range info.ArrayLengths {
			n, err := readCompact(r)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, malformedf("negative array length %d", n)
			}
			info.ArrayLengths[i] = n
		}
	}
	return info, nil
}

// MarshalBinary encodes the descriptor as a root descriptor
func (s *SerializedTypeInfo) MarshalBinary() ([]byte, error) {
	return MarshalTypeInfo(s)
}

// UnmarshalBinary decodes data into s, which must be a fresh instance
func (s *SerializedTypeInfo) UnmarshalBinary(data []byte) error {
	if s.ObjectType != 0 || s.Name != "" || s.typ != nil {
		return wrapError("unmarshal type info", configf("not a fresh instance"))
	}
	info, err := UnmarshalTypeInfo(data)
	if err != nil {
		return err
	}
	*s = *info
	return nil
}

// MarshalTypeInfo encodes info as a root descriptor
func MarshalTypeInfo(info *SerializedTypeInfo) (b []byte, err error) {
	defer recoverError("marshal type info", &err)
	var buf Buffer
	w := newWriter(context.Background(), &buf)
	if err := (typeInfoCodec{}).write(w, info, true, 0); err != nil {
		return nil, wrapError("marshal type info", err)
	}
	return buf.Bytes, nil
}

// UnmarshalTypeInfo decodes a root descriptor. Cached references are kept
// by hash and resolved by ToType.
func UnmarshalTypeInfo(data []byte) (info *SerializedTypeInfo, err error) {
	defer recoverError("unmarshal type info", &err)
	r := newReader(context.Background(), bytes.NewReader(data))
	info, err = (typeInfoCodec{hashCache: true}).read(r, true, 0)
	if err != nil {
		return nil, wrapError("unmarshal type info", err)
	}
	if r.n != int64(len(data)) {
		return nil, wrapError("unmarshal type info", malformedf("%d trailing bytes after type descriptor", int64(len(data))-r.n))
	}
	return info, nil
}

// arrayCells is the number of element visits decoding a value of t takes
func arrayCells(t reflect.Type) int {
	if t.Kind() != reflect.Array {
		return 1
	}
	return t.Len() * max(1, arrayCells(t.Elem()))
}

// checkArrayBounds rejects [n]elem when it would exceed the array limits.
// It runs before reflect.ArrayOf so hostile lengths never reach the allocator.
func checkArrayBounds(n int, elem reflect.Type) error {
	if n < 0 {
		return malformedf("negative array length %d", n)
	}
	if n == 0 {
		return nil
	}
	if cells := max(1, arrayCells(elem)); n > MaxArrayElements/cells {
		return malformedf("array of %d x %d elements exceeds %d", n, cells, MaxArrayElements)
	}
	if size := elem.Size(); size > 0 && uintptr(n) > maxArrayBytes/size {
		return malformedf("array of %d x %d bytes exceeds %d bytes", n, size, maxArrayBytes)
	}
	return nil
}
