package vstream

import (
	"context"
	"errors"
	"io"
	"reflect"
)

// Event describes one item as the decoder meets it
type Event struct {
	Offset int64        // position of the item's first byte
	Depth  int          // nesting level, 0 for the top-level item
	Tag    ObjectType   // tag as read; the resolved kind in legacy streams
	Type   reflect.Type // concrete type, nil for null
	Slot   int          // value cache slot read from or stored into, -1 for none

	// Value is set on VisitItemEnd
	Value reflect.Value
}

// Visitor receives a stream's structure as it is decoded. Items nested in a
// container or a Serializable arrive between the start and end of their
// parent.
type Visitor interface {
	VisitHeader(version int) error
	VisitItemStart(e Event) error
	VisitItemEnd(e Event) error
}

// ErrSkipVisit is returned by VisitItemStart to suppress the events of
// everything nested inside that item. The item is still decoded.
var ErrSkipVisit = errors.New("skip visit")

// Walk decodes one stream of static type static from r, reporting every item
// to v. Options must match the ones the stream was written with.
func Walk(ctx context.Context, r io.Reader, static reflect.Type, v Visitor, opts ...Option) (err error) {
	defer recoverError("walk", &err)
	defer func() { err = wrapError("walk", err) }()

	s, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	if static == nil {
		static = anyType
	}
	s.visitor = v
	_, _, err = decode(ctx, r, static, s, false)
	return err
}

func (c *DeserializerContext) visitStart(e Event) error {
	if c.visitor == nil || c.skipAt > 0 {
		return nil
	}
	err := c.visitor.VisitItemStart(e)
	if errors.Is(err, ErrSkipVisit) {
		c.skipAt = e.Depth + 1
		return nil
	}
	return err
}

func (c *DeserializerContext) visitEnd(e Event) error {
	if c.visitor == nil {
		return nil
	}
	if c.skipAt > 0 {
		if c.skipAt != e.Depth+1 {
			return nil
		}
		c.skipAt = 0
	}
	return c.visitor.VisitItemEnd(e)
}

// emit reports an item with nothing nested inside it
func (c *DeserializerContext) emit(e Event, v reflect.Value, err error) (reflect.Value, error) {
	if err != nil || c.visitor == nil {
		return v, err
	}
	if err := c.visitStart(e); err != nil {
		return reflect.Value{}, err
	}
	e.Value = v
	if err := c.visitEnd(e); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}
