package vstream

import (
	"errors"
	"io"
	"os"
)

// TempStream holds an embedded stream materialized during decoding. The
// decoded value is positioned at the start; closing it releases the storage.
type TempStream interface {
	io.ReadWriteSeeker
	io.Closer
}

// TempStreamFactory creates an empty TempStream
type TempStreamFactory func() (TempStream, error)

// FileTempStreams returns a factory backed by temporary files in dir, each
// removed when closed. An empty dir means os.TempDir.
func FileTempStreams(dir string) TempStreamFactory {
	return func() (TempStream, error) {
		f, err := os.CreateTemp(dir, "vstream-*")
		if err != nil {
			return nil, err
		}
		return &tempFile{File: f}, nil
	}
}

type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rerr := os.Remove(t.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

// MemoryTempStreams returns a factory keeping streams in memory
func MemoryTempStreams() TempStreamFactory {
	return func() (TempStream, error) { return &memStream{}, nil }
}

// memStream is a growable in-memory ReadWriteSeeker
type memStream struct {
	buf    []byte
	off    int64
	closed bool
}

func (m *memStream) Read(p []byte) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	if m.off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.off:])
	m.off += int64(n)
	return n, nil
}

func (m *memStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	end := m.off + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	copy(m.buf[m.off:], p)
	m.off = end
	return len(p), nil
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.off + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memstream: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memstream: negative position")
	}
	m.off = abs
	return abs, nil
}

func (m *memStream) Close() error {
	m.closed = true
	m.buf = nil
	return nil
}

// writeStream copies src as length-prefixed chunks ended by a zero length
func writeStream(w *writer, frame framing, src io.Reader) error {
	chunk := rent(chunkSize)
	defer giveBack(chunk)
	for {
		n, err := src.Read(*chunk)
		if n > 0 {
			if werr := frame.writeLength(w, n); werr != nil {
				return werr
			}
			if werr := w.write((*chunk)[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return frame.writeLength(w, 0)
		}
		if err != nil {
			return &SerializerError{Kind: ErrIO, Err: err}
		}
	}
}

// readStream materializes chunked stream data into a fresh TempStream,
// rewound to the start. The stream is closed on every error path.
func readStream(r *reader, frame framing, factory TempStreamFactory) (_ TempStream, err error) {
	dst, err := factory()
	if err != nil {
		return nil, &SerializerError{Kind: ErrIO, Err: err}
	}
	defer func() {
		if err != nil {
			dst.Close()
		}
	}()

	chunk := rent(chunkSize)
	defer giveBack(chunk)
	for {
		n, err := frame.readLength(r)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if n > chunkSize {
			return nil, malformedf("stream chunk of %d bytes exceeds %d", n, chunkSize)
		}
		if err := r.readFull((*chunk)[:n]); err != nil {
			return nil, err
		}
		if _, err := dst.Write((*chunk)[:n]); err != nil {
			return nil, &SerializerError{Kind: ErrIO, Err: err}
		}
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, &SerializerError{Kind: ErrIO, Err: err}
	}
	return dst, nil
}
