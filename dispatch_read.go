package vstream

import (
	"reflect"
)

// initialCap bounds preallocation from a decoded count, so a forged count
// cannot allocate ahead of the data arriving
const initialCap = 1024

// readItem reads one tagged item in the current framing. The result always
// has type static.
func (currentFraming) readItem(c *DeserializerContext, static reflect.Type, last *reflect.Type) (reflect.Value, error) {
	off := c.r.n
	b, err := c.r.readByte()
	if err != nil {
		return reflect.Value{}, err
	}
	tag := ObjectType(b)

	switch {
	case tag == KindNull:
		return c.emit(Event{Offset: off, Depth: c.depth, Tag: tag, Slot: -1}, reflect.Zero(static), nil)
	case tag == KindCached:
		if !c.values.enabled() {
			return reflect.Value{}, malformedf("cache reference at offset %d with the value cache disabled", c.r.n-1)
		}
		i, err := c.values.readIndex(c.r)
		if err != nil {
			return reflect.Value{}, err
		}
		obj, err := c.values.get(i)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := adapt(reflect.ValueOf(obj), static)
		return c.emit(Event{Offset: off, Depth: c.depth, Tag: tag, Type: reflect.TypeOf(obj), Slot: i}, v, err)
	case !tag.Valid() || tag.IsCached():
		return reflect.Value{}, malformedf("invalid item tag %#02x at offset %d", b, c.r.n-1)
	}

	empty := tag.IsEmpty()
	kind := tag &^ FlagEmpty

	sp, err := c.reg.planFor(static)
	if err != nil {
		return reflect.Value{}, err
	}

	var plan *typePlan
	switch {
	case kind == KindLastItemType:
		if last == nil || *last == nil {
			return reflect.Value{}, malformedf("last item type at offset %d without a preceding type reference", c.r.n-1)
		}
		if plan, err = c.reg.planFor(*last); err != nil {
			return reflect.Value{}, err
		}

	case static.Kind() == reflect.Interface && refKind(kind):
		t, err := c.readTypeRef()
		if err != nil {
			return reflect.Value{}, err
		}
		if plan, err = c.itemPlan(t, kind, static); err != nil {
			return reflect.Value{}, err
		}
		if last != nil {
			*last = plan.typ
		}

	case sp.dynamic:
		bt := builtinType(kind)
		if bt == nil {
			return reflect.Value{}, malformedf("item tag %s at offset %d needs a type reference", tag, c.r.n-1)
		}
		if plan, err = c.itemPlan(bt, kind, static); err != nil {
			return reflect.Value{}, err
		}

	default:
		if sp.kind != kind {
			return reflect.Value{}, resolvef("invalid item type: tag %s for %s", tag, static)
		}
		plan = sp
	}

	e := Event{Offset: off, Depth: c.depth, Tag: tag, Type: plan.instanceType(), Slot: -1}
	if empty {
		if !emptyAllowed(plan.kind) {
			return reflect.Value{}, malformedf("%s has no empty form", plan.kind)
		}
		v, err := adapt(emptyValue(plan), static)
		return c.emit(e, v, err)
	}

	if plan.kind.cacheable() {
		e.Slot = c.values.reserve()
	}
	if err := c.visitStart(e); err != nil {
		return reflect.Value{}, err
	}
	v, err := c.readPayload(plan)
	if err != nil {
		return reflect.Value{}, err
	}
	c.values.fill(e.Slot, v.Interface())
	e.Value = v
	if err := c.visitEnd(e); err != nil {
		return reflect.Value{}, err
	}
	return adapt(v, static)
}

// refKind reports whether items of this kind name their type under an
// interface static type
func refKind(kind ObjectType) bool {
	switch kind.RemoveFlags() {
	case KindArray, KindList, KindDict, KindStruct, KindObject, KindSerializable:
		return true
	}
	return false
}

func emptyAllowed(kind ObjectType) bool {
	switch kind.RemoveFlags() {
	case KindSerializable, KindStream, KindType:
		return false
	}
	return true
}

// itemPlan validates a resolved item type against its tag and static type
func (c *DeserializerContext) itemPlan(t reflect.Type, kind ObjectType, static reflect.Type) (*typePlan, error) {
	if t == anyType {
		return nil, resolvef("invalid item type %s", t)
	}
	plan, err := c.reg.planFor(t)
	if err != nil {
		return nil, err
	}
	if plan.dynamic {
		return nil, resolvef("invalid item type: interface %s", t)
	}
	if plan.kind != kind {
		return nil, resolvef("invalid item type: %s is %s, tag says %s", t, plan.kind, kind)
	}
	if !plan.instanceType().AssignableTo(static) {
		return nil, resolvef("invalid item type: %s is not assignable to %s", plan.instanceType(), static)
	}
	return plan, nil
}

// readTypeRef mirrors writeTypeRef
func (c *DeserializerContext) readTypeRef() (reflect.Type, error) {
	slot := -1
	if c.types.enabled() {
		v, handled, err := c.types.tryRead(c.r)
		if err != nil {
			return nil, err
		}
		if handled {
			t, ok := v.(reflect.Type)
			if !ok || t == nil {
				return nil, malformedf("type cache reference to a null type")
			}
			return t, nil
		}
		slot = c.types.reserve()
	}

	b, err := c.r.readByte()
	if err != nil {
		return nil, err
	}
	var t reflect.Type
	switch ObjectType(b) {
	case KindString:
		name, err := readCompactString(c.r, nil)
		if err != nil {
			return nil, err
		}
		if t, err = c.reg.ResolveType(name); err != nil {
			return nil, err
		}
	case KindBasicTypeInfo:
		if t, err = c.ReadType(); err != nil {
			return nil, err
		}
	default:
		return nil, malformedf("invalid type reference tag %#02x at offset %d", b, c.r.n-1)
	}
	c.types.fill(slot, t)
	return t, nil
}

// readItem reads one item in a legacy framing
func (f legacyFraming) readItem(c *DeserializerContext, static reflect.Type, _ *reflect.Type) (reflect.Value, error) {
	off := c.r.n
	if isNullable(static) {
		present, err := c.r.readBool()
		if err != nil {
			return reflect.Value{}, err
		}
		if !present {
			return c.emit(Event{Offset: off, Depth: c.depth, Tag: KindNull, Slot: -1}, reflect.Zero(static), nil)
		}
	}

	sp, err := c.reg.planFor(static)
	if err != nil {
		return reflect.Value{}, err
	}
	plan := sp
	if sp.dynamic {
		b, err := c.r.readByte()
		if err != nil {
			return reflect.Value{}, err
		}
		kind := ObjectType(b)
		if !kind.Valid() || kind&(FlagEmpty|FlagCached) != 0 {
			return reflect.Value{}, malformedf("item tag %#02x at offset %d is not valid in protocol version %d", b, c.r.n-1, f.v)
		}

		var t reflect.Type
		if refKind(kind) {
			info, err := (typeInfoCodec{}).read(c.r, true, 0)
			if err != nil {
				return reflect.Value{}, err
			}
			if t, err = info.ToType(c.reg); err != nil {
				return reflect.Value{}, err
			}
		} else if t = builtinType(kind); t == nil {
			return reflect.Value{}, malformedf("item tag %s at offset %d is not valid in protocol version %d", kind, c.r.n-1, f.v)
		}
		if plan, err = c.itemPlan(t, kind, static); err != nil {
			return reflect.Value{}, err
		}
	}

	e := Event{Offset: off, Depth: c.depth, Tag: plan.kind, Type: plan.instanceType(), Slot: -1}
	if err := c.visitStart(e); err != nil {
		return reflect.Value{}, err
	}
	v, err := c.readPayload(plan)
	if err != nil {
		return reflect.Value{}, err
	}
	e.Value = v
	if err := c.visitEnd(e); err != nil {
		return reflect.Value{}, err
	}
	return adapt(v, static)
}

// emptyValue is the decoded form of an Empty tag
func emptyValue(p *typePlan) reflect.Value {
	switch p.kind.RemoveFlags() {
	case KindBytes, KindList:
		return reflect.MakeSlice(p.typ, 0, 0)
	case KindDict:
		return reflect.MakeMap(p.typ)
	}
	return reflect.Zero(p.typ)
}

// readPayload reads the body of a value of p's type
func (c *DeserializerContext) readPayload(p *typePlan) (reflect.Value, error) {
	switch p.kind.RemoveFlags() {
	case KindBool:
		if c.frame.caching() {
			return reflect.ValueOf(true).Convert(p.typ), nil
		}
		b, err := c.r.readBool()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(p.typ), nil

	case KindByte, KindShort, KindInt, KindLong, KindFloat, KindDouble, KindDecimal:
		n, null, err := readNumber(c.r, p.num, c.frame.legacyShort())
		if err != nil {
			return reflect.Value{}, err
		}
		if null {
			return reflect.Value{}, malformedf("null number tag inside a %s item", p.kind)
		}
		out := reflect.New(p.typ).Elem()
		n.setTo(out)
		return out, nil

	case KindString:
		s, err := readString(c.r, c.frame, c.options)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s).Convert(p.typ), nil

	case KindBytes:
		b, err := readBytes(c.r, c.frame, c.options)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(p.typ), nil

	case KindList:
		return c.readList(p)

	case KindDict:
		return c.readDict(p)

	case KindArray:
		return c.readArray(p)

	case KindStruct:
		return c.readFixedStruct(p)

	case KindObject:
		if p.codec == nil {
			return c.readObject(p.typ)
		}
		if err := c.enter(); err != nil {
			return reflect.Value{}, err
		}
		defer c.leave()
		out := reflect.New(p.typ).Elem()
		if err := p.codec.DecodeValue(c, out); err != nil {
			return reflect.Value{}, err
		}
		return out, nil

	case KindSerializable:
		return c.readSerializable(p)

	case KindStream:
		s, err := c.ReadStream()
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(tempStreamType).Elem()
		out.Set(reflect.ValueOf(s))
		return out, nil

	case KindType:
		t, err := c.ReadType()
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(reflectTypeType).Elem()
		out.Set(reflect.ValueOf(t))
		return out, nil
	}
	return reflect.Value{}, resolvef("no payload decoder for %s", p.kind)
}

func (c *DeserializerContext) readList(p *typePlan) (reflect.Value, error) {
	if err := c.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer c.leave()

	o := c.options
	n, err := c.frame.readLength(c.r)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := o.check(n); err != nil {
		return reflect.Value{}, err
	}

	c.options = o.value()
	defer func() { c.options = o }()
	elem := p.typ.Elem()
	out := reflect.MakeSlice(p.typ, 0, min(n, initialCap))
	var last reflect.Type
	for range n {
		v, err := c.frame.readItem(c, elem, &last)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, v)
	}
	return out, nil
}

func (c *DeserializerContext) readDict(p *typePlan) (reflect.Value, error) {
	if err := c.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer c.leave()

	o := c.options
	n, err := c.frame.readLength(c.r)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := o.check(n); err != nil {
		return reflect.Value{}, err
	}
	defer func() { c.options = o }()

	keyType, elemType := p.typ.Key(), p.typ.Elem()
	out := reflect.MakeMapWithSize(p.typ, min(n, initialCap))
	var lastKey, lastValue reflect.Type
	for range n {
		c.options = o.key()
		k, err := c.frame.readItem(c, keyType, &lastKey)
		if err != nil {
			return reflect.Value{}, err
		}
		if !k.Comparable() {
			return reflect.Value{}, resolvef("dict key of type %s is not comparable", k.Type())
		}
		c.options = o.value()
		v, err := c.frame.readItem(c, elemType, &lastValue)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(k, v)
	}
	return out, nil
}

func (c *DeserializerContext) readArray(p *typePlan) (reflect.Value, error) {
	if err := c.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer c.leave()

	o := c.options
	c.options = o.value()
	defer func() { c.options = o }()

	out := reflect.New(p.typ).Elem()
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
			ev, err := c.frame.readItem(c, p.leaf, &last)
			if err != nil {
				return err
			}
			e.Set(ev)
		}
		return nil
	}
	if err := walk(out, 0); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (c *DeserializerContext) readSerializable(p *typePlan) (reflect.Value, error) {
	if err := c.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer c.leave()

	version, err := readCompact(c.r)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(p.typ)
	s := ptr.Interface().(Serializable)
	if max := s.ObjectVersion(); version > max {
		return reflect.Value{}, versionf("%s object version %d, max supported %d", p.typ, version, max)
	}
	if err := s.DeserializeFrom(c, version); err != nil {
		return reflect.Value{}, err
	}
	return ptr, nil
}

// adapt fits a decoded value to the static type of its position
func adapt(v reflect.Value, static reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(static), nil
	}
	t := v.Type()
	switch {
	case t == static:
		return v, nil
	case static.Kind() == reflect.Interface && t.AssignableTo(static):
		out := reflect.New(static).Elem()
		out.Set(v)
		return out, nil
	case t.Kind() == reflect.Interface && !v.IsNil():
		return adapt(v.Elem(), static)
	case static.Kind() == reflect.Pointer:
		inner, err := adapt(v, static.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(static.Elem())
		out.Elem().Set(inner)
		return out, nil
	case t.Kind() == reflect.Pointer && t.Elem() == static:
		return v.Elem(), nil
	case t.AssignableTo(static):
		out := reflect.New(static).Elem()
		out.Set(v)
		return out, nil
	}
	return reflect.Value{}, resolvef("cannot assign %s to %s", t, static)
}
