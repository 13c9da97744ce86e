package vstream

// Serializable is implemented by types that write their own fields. The
// pointer receiver is expected: a value of type T is encoded through *T and
// decodes to a fresh *T.
//
//	type Point struct{ X, Y int32 }
//
//	func (*Point) ObjectVersion() int { return 1 }
//
//	func (p *Point) SerializeTo(c *vstream.SerializerContext) error {
//		if err := vstream.WriteNumber(c, p.X); err != nil {
//			return err
//		}
//		return vstream.WriteNumber(c, p.Y)
//	}
//
//	func (p *Point) DeserializeFrom(c *vstream.DeserializerContext, version int) (err error) {
//		if p.X, err = vstream.ReadNumber[int32](c); err != nil {
//			return err
//		}
//		p.Y, err = vstream.ReadNumber[int32](c)
//		return err
//	}
type Serializable interface {
	// ObjectVersion is the newest layout this type writes and can read.
	ObjectVersion() int
	SerializeTo(c *SerializerContext) error
	// DeserializeFrom reads a layout written at version, which is never
	// above ObjectVersion.
	DeserializeFrom(c *DeserializerContext, version int) error
}
