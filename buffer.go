package vstream

import (
	"sync"
)

// Buffer accumulates encoded data in memory. It implements io.Writer so it
// can be used directly as the sink of an Encoder.
type Buffer struct {
	Bytes []byte
}

// Reset clears the buffer contents but preserves allocated memory
func (b *Buffer) Reset() {
	b.Bytes = b.Bytes[:0]
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Bytes = append(b.Bytes, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int { return len(b.Bytes) }

var bufpool = sync.Pool{
	New: func() any { return &Buffer{} },
}

// NewBufferFromPool obtains a reset Buffer from the pool. Call ReturnToPool when finished.
// For existing memory, create directly: `buf := Buffer{mySlice[:0]}` - pooling is optional.
func NewBufferFromPool() *Buffer {
	b := bufpool.Get().(*Buffer)
	b.Reset()
	return b
}

// NewBufferFromPoolWithCap acquires a pooled Buffer with guaranteed capacity.
// Call ReturnToPool after use.
func NewBufferFromPoolWithCap(size int) *Buffer {
	b := bufpool.Get().(*Buffer)

	if c := cap(b.Bytes); c < size {
		b.Bytes = make([]byte, 0, size)
	} else {
		b.Reset()
	}

	return b
}

// ReturnToPool releases the buffer back to the pool. Using the buffer after this call
// results in undefined behavior.
func (b *Buffer) ReturnToPool() {
	bufpool.Put(b)
}

// scratch buffers back the fixed-width primitive reads and writes and the
// stream chunk copies. Each rent is scoped to one call and handed back on
// every exit path.
const (
	smallScratch = 32
	chunkSize    = 64 * 1024
)

var (
	smallPool = sync.Pool{New: func() any { b := make([]byte, smallScratch); return &b }}
	chunkPool = sync.Pool{New: func() any { b := make([]byte, chunkSize); return &b }}
)

// rent returns a pooled byte slice of exactly size bytes
func rent(size int) *[]byte {
	pool := &smallPool
	if size > smallScratch {
		pool = &chunkPool
	}
	b := pool.Get().(*[]byte)
	if cap(*b) < size {
		nb := make([]byte, size)
		b = &nb
	}
	*b = (*b)[:size]
	return b
}

// giveBack returns a slice obtained from rent
func giveBack(b *[]byte) {
	*b = (*b)[:cap(*b)]
	switch {
	case cap(*b) == smallScratch:
		smallPool.Put(b)
	case cap(*b) >= chunkSize:
		chunkPool.Put(b)
	}
}

// slot tables of the caches are pooled per context lifetime
var (
	hashSlotPool   = sync.Pool{New: func() any { s := make([]uint64, 0); return &s }}
	objectSlotPool = sync.Pool{New: func() any { s := make([]any, 0); return &s }}
)

func rentHashSlots(size int) *[]uint64 {
	s := hashSlotPool.Get().(*[]uint64)
	if cap(*s) < size {
		ns := make([]uint64, size)
		s = &ns
	}
	*s = (*s)[:size]
	clear(*s)
	return s
}

func giveBackHashSlots(s *[]uint64) {
	if s != nil {
		hashSlotPool.Put(s)
	}
}

func rentObjectSlots(size int) *[]any {
	s := objectSlotPool.Get().(*[]any)
	if cap(*s) < size {
		ns := make([]any, size)
		s = &ns
	}
	*s = (*s)[:size]
	clear(*s)
	return s
}

func giveBackObjectSlots(s *[]any) {
	if s != nil {
		clear(*s)
		objectSlotPool.Put(s)
	}
}
