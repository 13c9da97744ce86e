package vstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
)

// The printer is tooling: it favours readable output over speed.

// Printer is a Visitor that renders a stream as an indented tree, one line
// per item. Container-like items open a branch that nested items hang off.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) VisitHeader(version int) error {
	_, err := fmt.Fprintf(p.w, "vstream stream, protocol version %d\n", version)
	return err
}

func (p *Printer) VisitItemStart(e Event) error {
	if !nests(e) {
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s┐ %s\n", indent(e.Depth), label(e))
	return err
}

func (p *Printer) VisitItemEnd(e Event) error {
	if nests(e) {
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s├ %s: %s\n", indent(e.Depth), label(e), valueString(e.Value))
	return err
}

// Print writes the tree of a stream to stdout
func Print(data []byte, static reflect.Type, opts ...Option) error {
	return Walk(context.Background(), bytes.NewReader(data), static, NewPrinter(os.Stdout), opts...)
}

// Sprint returns the tree of a stream
func Sprint(data []byte, static reflect.Type, opts ...Option) (string, error) {
	var buf strings.Builder
	err := Walk(context.Background(), bytes.NewReader(data), static, NewPrinter(&buf), opts...)
	return buf.String(), err
}

func indent(depth int) string {
	return strings.Repeat("│ ", depth)
}

// nests reports whether other items can appear inside e
func nests(e Event) bool {
	if e.Tag == KindNull || e.Tag == KindCached || e.Tag.IsEmpty() || e.Type == nil {
		return false
	}
	switch e.Type.Kind() {
	case reflect.Map, reflect.Array:
		return true
	case reflect.Slice:
		return e.Type.Elem().Kind() != reflect.Uint8
	case reflect.Pointer:
		return e.Type.Implements(serializableType)
	}
	return false
}

func label(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04x %s", e.Offset, e.Tag)
	if e.Type != nil {
		fmt.Fprintf(&b, " %s", e.Type)
	}
	switch {
	case e.Tag == KindCached:
		fmt.Fprintf(&b, " (cache slot %d)", e.Slot)
	case e.Slot >= 0:
		fmt.Fprintf(&b, " (stored in slot %d)", e.Slot)
	}
	return b.String()
}

// valueString renders scalars and truncates long payloads
func valueString(v reflect.Value) string {
	if !v.IsValid() {
		return "null"
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return "null"
		}
	}
	if t, ok := v.Interface().(reflect.Type); ok {
		return t.String()
	}
	if _, ok := v.Interface().(io.Reader); ok {
		return "<stream>"
	}
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		if len(s) > 64 {
			return fmt.Sprintf("%q... (%d bytes)", s[:64], len(s))
		}
		return fmt.Sprintf("%q", s)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := v.Bytes()
			if len(b) > 32 {
				return fmt.Sprintf("%x... (%d bytes)", b[:32], len(b))
			}
			return fmt.Sprintf("%x", b)
		}
	}
	return fmt.Sprint(v.Interface())
}
