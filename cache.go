package vstream

import (
	"encoding/binary"
	"log/slog"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
)

// MaxCacheSize is the largest slot count a cache accepts
const MaxCacheSize = 65536

// smallCacheLimit is the largest cache size addressed with 1-byte indexes
const smallCacheLimit = 256

// CacheKeyer lets a value supply its own cache fingerprint instead of having
// its encoding hashed. Equal keys for the same type must mean equal values.
//
// Without it a cacheable value is encoded a second time, cache-free, to be
// hashed: SerializeTo and codec encoders run twice, and a nested value is
// re-encoded once for each cacheable value that contains it.
type CacheKeyer interface {
	CacheKey() uint64
}

// indexWidth returns the number of bytes used for a cache index
func indexWidth(size int) int {
	if size <= smallCacheLimit {
		return 1
	}
	return 2
}

// validateResize applies the transition rules shared by both cache sides
func validateResize(name string, size, filled, current int) error {
	if size < 0 || size > MaxCacheSize {
		return configf("%s cache size %d out of range [0,%d]", name, size, MaxCacheSize)
	}
	if filled == 0 {
		return nil
	}
	if size < filled {
		return configf("%s cache size %d below the %d occupied slots", name, size, filled)
	}
	if indexWidth(size) != indexWidth(current) {
		return configf("can't change cache index size of %s cache from %d to %d", name, current, size)
	}
	return nil
}

// writeCache maps fingerprints to slot indexes on the encoding side. A zero
// slot is empty.
type writeCache struct {
	name   string
	slots  *[]uint64
	size   int
	filled int
	logger *slog.Logger
}

func newWriteCache(name string, logger *slog.Logger) *writeCache {
	return &writeCache{name: name, logger: logger}
}

// SetSize changes the slot capacity
func (c *writeCache) SetSize(size int) error {
	if err := validateResize(c.name, size, c.filled, c.size); err != nil {
		return err
	}
	if size == c.size {
		return nil
	}

	if size == 0 {
		giveBackHashSlots(c.slots)
		c.slots, c.size = nil, 0
		return nil
	}

	next := rentHashSlots(size)
	if c.slots != nil {
		copy(*next, (*c.slots)[:c.filled])
		giveBackHashSlots(c.slots)
	}
	c.slots, c.size = next, size
	c.logger.Debug("cache resized", "cache", c.name, "side", "write", "size", size, "filled", c.filled)
	return nil
}

func (c *writeCache) enabled() bool { return c.size > 0 }

func (c *writeCache) width() int { return indexWidth(c.size) }

func slotHash(h uint64) uint64 {
	if h == 0 {
		return 1
	}
	return h
}

// lookup scans the filled slots for h
func (c *writeCache) lookup(h uint64) (int, bool) {
	if !c.enabled() {
		return 0, false
	}
	h = slotHash(h)
	for i, v := range (*c.slots)[:c.filled] {
		if v == h {
			return i, true
		}
	}
	return 0, false
}

// store puts h into the next free slot. A full cache drops it.
func (c *writeCache) store(h uint64) bool {
	if !c.enabled() || c.filled >= c.size {
		return false
	}
	(*c.slots)[c.filled] = slotHash(h)
	c.filled++
	return true
}

// skip consumes the next free slot without a hash, keeping slot numbers in
// step with a reader that stores every cacheable value. Zero never matches
// a lookup.
func (c *writeCache) skip() {
	if !c.enabled() || c.filled >= c.size {
		return
	}
	(*c.slots)[c.filled] = 0
	c.filled++
}

// writeIndex encodes i using the fixed index width
func (c *writeCache) writeIndex(w *writer, i int) error {
	if c.width() == 1 {
		return w.writeByte(byte(i))
	}
	return w.writeUint16(uint16(i))
}

// tryWrite runs the sequence marker protocol. It reports true when nothing
// more needs writing: the value was null or a cache reference was emitted.
// On false the caller writes the full payload after the NotCached marker.
func (c *writeCache) tryWrite(w *writer, h uint64, isNull bool) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	if isNull {
		return true, w.writeByte(byte(SeqNull))
	}

	if i, ok := c.lookup(h); ok {
		if c.width() == 2 && i <= 0xFF {
			if err := w.writeByte(byte(SeqCached | SeqSmallIndex)); err != nil {
				return false, err
			}
			return true, w.writeByte(byte(i))
		}
		if err := w.writeByte(byte(SeqCached)); err != nil {
			return false, err
		}
		return true, c.writeIndex(w, i)
	}

	if err := w.writeByte(byte(SeqNotCached)); err != nil {
		return false, err
	}
	c.store(h)
	return false, nil
}

// Close returns the slot buffer to the pool
func (c *writeCache) Close() {
	giveBackHashSlots(c.slots)
	c.slots, c.size, c.filled = nil, 0, 0
}

// pending marks a slot reserved for a value still being decoded
type pending struct{}

// readCache holds decoded instances on the decoding side
type readCache struct {
	name   string
	slots  *[]any
	size   int
	filled int
	logger *slog.Logger
}

func newReadCache(name string, logger *slog.Logger) *readCache {
	return &readCache{name: name, logger: logger}
}

// SetSize changes the slot capacity
func (c *readCache) SetSize(size int) error {
	if err := validateResize(c.name, size, c.filled, c.size); err != nil {
		return err
	}
	if size == c.size {
		return nil
	}

	if size == 0 {
		giveBackObjectSlots(c.slots)
		c.slots, c.size = nil, 0
		return nil
	}

	next := rentObjectSlots(size)
	if c.slots != nil {
		copy(*next, (*c.slots)[:c.filled])
		giveBackObjectSlots(c.slots)
	}
	c.slots, c.size = next, size
	c.logger.Debug("cache resized", "cache", c.name, "side", "read", "size", size, "filled", c.filled)
	return nil
}

func (c *readCache) enabled() bool { return c.size > 0 }

func (c *readCache) width() int { return indexWidth(c.size) }

// add stores v in the next free slot and returns it unchanged
func (c *readCache) add(v any) any {
	if c.enabled() && c.filled < c.size {
		(*c.slots)[c.filled] = v
		c.filled++
	}
	return v
}

// reserve claims the next free slot ahead of decoding its value, returning
// -1 when the cache is disabled or full.
func (c *readCache) reserve() int {
	if !c.enabled() || c.filled >= c.size {
		return -1
	}
	i := c.filled
	(*c.slots)[i] = pending{}
	c.filled++
	return i
}

// fill completes a reservation
func (c *readCache) fill(i int, v any) {
	if i >= 0 {
		(*c.slots)[i] = v
	}
}

// get returns the instance at slot i
func (c *readCache) get(i int) (any, error) {
	if i < 0 || i >= c.filled {
		return nil, malformedf("invalid cache index %d in %s cache: %d slots filled", i, c.name, c.filled)
	}
	v := (*c.slots)[i]
	if _, ok := v.(pending); ok {
		return nil, malformedf("invalid cache index %d in %s cache: slot still being decoded", i, c.name)
	}
	return v, nil
}

// readIndex decodes an index using the fixed index width
func (c *readCache) readIndex(r *reader) (int, error) {
	if c.width() == 1 {
		b, err := r.readByte()
		return int(b), err
	}
	v, err := r.readUint16()
	return int(v), err
}

// tryRead runs the sequence marker protocol. handled is false after a
// NotCached marker: the caller reads the payload and adds it.
func (c *readCache) tryRead(r *reader) (v any, handled bool, err error) {
	if !c.enabled() {
		return nil, false, nil
	}
	b, err := r.readByte()
	if err != nil {
		return nil, false, err
	}

	seq := SequenceType(b)
	var i int
	switch seq {
	case SeqNull:
		return nil, true, nil
	case SeqNotCached:
		return nil, false, nil
	case SeqCached:
		i, err = c.readIndex(r)
	case SeqCached | SeqSmallIndex:
		if c.width() != 2 {
			return nil, false, malformedf("small cache index marker in a 1-byte index %s cache", c.name)
		}
		var bi byte
		bi, err = r.readByte()
		i = int(bi)
	default:
		return nil, false, malformedf("invalid sequence marker %#02x at offset %d", b, r.n-1)
	}
	if err != nil {
		return nil, false, err
	}

	v, err = c.get(i)
	return v, err == nil, err
}

// Close returns the slot buffer to the pool
func (c *readCache) Close() {
	giveBackObjectSlots(c.slots)
	c.slots, c.size, c.filled = nil, 0, 0
}

// TypeHash returns the stable 32-bit hash of a canonical type name used by
// cached type descriptors and the type cache.
func TypeHash(name string) uint32 {
	return murmur3.Sum32([]byte(name))
}

// fingerprint digests a type name and an encoded value into a cache key
func fingerprint(typeName string, encoded []byte) uint64 {
	h := blake3.New()
	h.Write([]byte(typeName))
	h.Write([]byte{0})
	h.Write(encoded)
	var sum [32]byte
	return binary.LittleEndian.Uint64(h.Sum(sum[:0]))
}

// keyedFingerprint digests a type name and a CacheKey
func keyedFingerprint(typeName string, key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return fingerprint(typeName, b[:])
}
