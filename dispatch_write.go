package vstream

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/spaolacci/murmur3"
)

// resolveValue unwraps interfaces and plain pointers down to the value that
// is actually encoded. A nil plan means the value is null.
func (c *SerializerContext) resolveValue(v reflect.Value) (reflect.Value, *typePlan, error) {
	for {
		if !v.IsValid() {
			return v, nil, nil
		}
		if v.Kind() == reflect.Interface {
			if v.IsNil() {
				return v, nil, nil
			}
			v = v.Elem()
			continue
		}
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return v, nil, nil
		}
		plan, err := c.reg.planFor(v.Type())
		if err != nil {
			return v, nil, err
		}
		if v.Kind() == reflect.Pointer && plan.kind != KindType && plan.typ != v.Type() {
			v = v.Elem()
			continue
		}
		if (v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
			return v, nil, nil
		}
		return v, plan, nil
	}
}

// isEmptyValue reports whether v is the zero-equivalent of its kind
func isEmptyValue(p *typePlan, v reflect.Value) bool {
	switch p.kind.RemoveFlags() {
	case KindBool:
		return !v.Bool()
	case KindByte, KindShort, KindInt, KindLong:
		if p.kind.IsUnsigned() {
			return v.Uint() == 0
		}
		return v.Int() == 0
	case KindFloat, KindDouble:
		return v.Float() == 0 && !math.Signbit(v.Float())
	case KindDecimal:
		return v.Interface().(Decimal) == Decimal{}
	case KindString, KindBytes, KindList, KindDict, KindArray:
		return v.Len() == 0
	case KindStruct, KindObject:
		return v.IsZero()
	}
	return false
}

// typeSlotKey keys the type cache
func typeSlotKey(name string) uint64 {
	return murmur3.Sum64([]byte(name))
}

// writeItem writes one tagged item in the current framing
func (currentFraming) writeItem(c *SerializerContext, v reflect.Value, static reflect.Type, last *reflect.Type) error {
	v, plan, err := c.resolveValue(v)
	if err != nil {
		return err
	}
	if plan == nil {
		return c.w.writeByte(byte(KindNull))
	}

	empty := isEmptyValue(plan, v)
	if !empty && plan.kind.cacheable() && c.values.enabled() {
		h, ok, err := c.fingerprintOf(plan, v)
		if err != nil {
			return err
		}
		if !ok {
			c.values.skip()
		} else if i, hit := c.values.lookup(h); hit {
			if err := c.w.writeByte(byte(KindCached)); err != nil {
				return err
			}
			return c.values.writeIndex(c.w, i)
		} else {
			c.values.store(h)
		}
	}

	tag := plan.kind
	if empty {
		tag |= FlagEmpty
	}
	ref := static.Kind() == reflect.Interface && plan.needsTypeRef()
	if ref && last != nil && *last == plan.typ {
		tag = KindLastItemType | tag&FlagEmpty
		ref = false
	}
	if err := c.w.writeByte(byte(tag)); err != nil {
		return err
	}
	if ref {
		if err := c.writeTypeRef(plan); err != nil {
			return err
		}
		if last != nil {
			*last = plan.typ
		}
	}
	if empty {
		return nil
	}
	return c.writePayload(plan, v)
}

// writeTypeRef names the concrete type of an item through the type cache
func (c *SerializerContext) writeTypeRef(p *typePlan) error {
	info, err := p.typeInfo(c.reg)
	if err != nil {
		return err
	}
	name := info.String()
	if c.types.enabled() {
		handled, err := c.types.tryWrite(c.w, typeSlotKey(name), false)
		if err != nil || handled {
			return err
		}
	}

	named := p.kind.NeedsName() && len(info.GenericArguments) == 0
	if named && !(c.hashCache && p.kind == KindSerializable) {
		if err := c.w.writeByte(byte(KindString)); err != nil {
			return err
		}
		return writeCompactString(c.w, name)
	}
	if err := c.w.writeByte(byte(KindBasicTypeInfo)); err != nil {
		return err
	}
	return typeInfoCodec{hashCache: c.hashCache}.write(c.w, info, true, 0)
}

// writeItem writes one item in a legacy framing: nullable statics get a
// presence bool, interface statics get a kind tag and a descriptor.
func (f legacyFraming) writeItem(c *SerializerContext, v reflect.Value, static reflect.Type, _ *reflect.Type) error {
	v, plan, err := c.resolveValue(v)
	if err != nil {
		return err
	}
	nullable := isNullable(static)
	if plan == nil {
		if !nullable {
			return configf("nil value for non-nullable %s", static)
		}
		return c.w.writeBool(false)
	}
	if nullable {
		if err := c.w.writeBool(true); err != nil {
			return err
		}
	}

	sp, err := c.reg.planFor(static)
	if err != nil {
		return err
	}
	if sp.dynamic {
		if err := c.w.writeByte(byte(plan.kind)); err != nil {
			return err
		}
		if plan.needsTypeRef() {
			info, err := plan.typeInfo(c.reg)
			if err != nil {
				return err
			}
			if err := (typeInfoCodec{}).write(c.w, info, true, 0); err != nil {
				return err
			}
		}
	}
	return c.writePayload(plan, v)
}

func isNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// writePayload writes the body of a value, shared by all framings
func (c *SerializerContext) writePayload(p *typePlan, v reflect.Value) error {
	switch p.kind.RemoveFlags() {
	case KindBool:
		// the current framing carries bools in the tag
		if !c.frame.caching() {
			return c.w.writeBool(v.Bool())
		}
		return nil

	case KindByte, KindShort, KindInt, KindLong, KindFloat, KindDouble, KindDecimal:
		n, _ := numericOf(v)
		return writeNumber(c.w, n, c.frame.legacyShort())

	case KindString:
		return writeString(c.w, c.frame, v.String(), c.options)

	case KindBytes:
		return writeBytes(c.w, c.frame, v.Bytes(), c.options)

	case KindList:
		return c.writeList(p, v)

	case KindDict:
		return c.writeDict(p, v)

	case KindArray:
		return c.writeArray(p, v)

	case KindStruct:
		return c.writeFixedStruct(p, v)

	case KindObject:
		if p.codec == nil {
			return c.writeObject(v)
		}
		if err := c.enter(); err != nil {
			return err
		}
		defer c.leave()
		return p.codec.EncodeValue(c, v)

	case KindSerializable:
		return c.writeSerializable(v)

	case KindStream:
		return c.WriteStream(v.Interface().(io.Reader))

	case KindType:
		return c.WriteType(v.Interface().(reflect.Type))
	}
	return resolvef("no payload encoder for %s", p.kind)
}

func (c *SerializerContext) writeList(p *typePlan, v reflect.Value) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	o := c.options
	n := v.Len()
	if err := o.check(n); err != nil {
		return err
	}
	if err := c.frame.writeLength(c.w, n); err != nil {
		return err
	}

	c.options = o.value()
	defer func() { c.options = o }()
	elem := p.typ.Elem()
	var last reflect.Type
	for i := range n {
		if err := c.frame.writeItem(c, v.Index(i), elem, &last); err != nil {
			return err
		}
	}
	return nil
}

func (c *SerializerContext) writeDict(p *typePlan, v reflect.Value) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	o := c.options
	n := v.Len()
	if err := o.check(n); err != nil {
		return err
	}
	if err := c.frame.writeLength(c.w, n); err != nil {
		return err
	}
	defer func() { c.options = o }()

	keyType, elemType := p.typ.Key(), p.typ.Elem()
	var lastKey, lastValue reflect.Type
	for _, k := range sortedKeys(v) {
		c.options = o.key()
		if err := c.frame.writeItem(c, k, keyType, &lastKey); err != nil {
			return err
		}
		c.options = o.value()
		if err := c.frame.writeItem(c, v.MapIndex(k), elemType, &lastValue); err != nil {
			return err
		}
	}
	return nil
}

// writeArray writes the elements of a fixed array, all dimensions
// flattened in row-major order
func (c *SerializerContext) writeArray(p *typePlan, v reflect.Value) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	o := c.options
	c.options = o.value()
	defer func() { c.options = o }()

	var last reflect.Type
	var walk func(v reflect.Value, dim int) error
	walk = func(v reflect.Value, dim int) error {
		for i := range v.Len() {
			e := v.Index(i)
			if dim+1 < len(p.dims) {
				if err := walk(e, dim+1); err != nil {
					return err
				}
				continue
			}
			if err := c.frame.writeItem(c, e, p.leaf, &last); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(v, 0)
}

func (c *SerializerContext) writeSerializable(v reflect.Value) error {
	s, ok := addressable(v).Interface().(Serializable)
	if !ok {
		return resolvef("%s does not implement Serializable", v.Type())
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	version := s.ObjectVersion()
	if version < 0 {
		return configf("%s reports negative object version %d", v.Type(), version)
	}
	if err := writeCompact(c.w, version); err != nil {
		return err
	}
	return s.SerializeTo(c)
}

// addressable returns a pointer to v, copying it when v is not addressable
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v.Addr()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p
}

// fingerprintOf digests a value for the value cache. ok is false when the
// value embeds a stream: reading it here would drain it before the real
// write, so such values are never cached.
func (c *SerializerContext) fingerprintOf(p *typePlan, v reflect.Value) (h uint64, ok bool, err error) {
	info, err := p.typeInfo(c.reg)
	if err != nil {
		return 0, false, err
	}
	name := info.String()

	if k, ok := addressable(v).Interface().(CacheKeyer); ok {
		return keyedFingerprint(name, k.CacheKey()), true, nil
	}

	buf := NewBufferFromPool()
	defer buf.ReturnToPool()
	if err := c.sub(buf).writePayload(p, v); err != nil {
		if errors.Is(err, errUncacheable) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return fingerprint(name, buf.Bytes), true, nil
}

// sortedKeys orders map keys so equal maps encode to equal bytes
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(a, b reflect.Value) int {
	if a.Kind() == reflect.Interface {
		if a.IsNil() || b.IsNil() {
			return cmp.Compare(boolInt(!a.IsNil()), boolInt(!b.IsNil()))
		}
		a, b = a.Elem(), b.Elem()
		if a.Type() != b.Type() {
			return strings.Compare(a.Type().String(), b.Type().String())
		}
	}
	switch a.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	case reflect.String:
		return strings.Compare(a.String(), b.String())
	case reflect.Bool:
		return cmp.Compare(boolInt(a.Bool()), boolInt(b.Bool()))
	}
	return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
