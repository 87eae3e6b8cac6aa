package geotiff

import (
	"fmt"
	"io"
)

// MemFile is an in-memory write target for Writer and read source for
// Reader. It lets the HTTP API produce a mask without touching disk and
// keeps round-trip tests off the filesystem.
type MemFile struct {
	buf []byte
}

var (
	_ io.WriterAt = (*MemFile)(nil)
	_ io.ReaderAt = (*MemFile)(nil)
)

// NewMemFile returns a MemFile, optionally seeded with existing content.
func NewMemFile(content []byte) *MemFile {
	return &MemFile{buf: content}
}

// WriteAt writes p at off, growing the buffer as needed.
func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := int(off) + len(p); end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

// ReadAt reads into p from off.
func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the current content. The slice is only valid until the next
// write.
func (m *MemFile) Bytes() []byte { return m.buf }

// Len returns the current content length.
func (m *MemFile) Len() int { return len(m.buf) }
