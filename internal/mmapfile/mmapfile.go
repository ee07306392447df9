// Package mmapfile memory-maps a file read-only and exposes it as an
// io.ReaderAt, the shape arrow/ipc's file reader expects.
//
// The external sort operator writes each run to a temp file in Arrow's IPC
// format, then maps it back in read-only mode rather than re-reading it
// through buffered I/O, so the K-way merge phase can seek freely across
// every run without holding its bytes in the Go heap.
package mmapfile

import (
	"bytes"
	"os"
)

// File is a read-only memory mapping of a file on disk.
type File struct {
	f    *os.File
	data []byte
}

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, os.ErrInvalid
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, os.ErrClosed
	}
	return n, nil
}

// Len returns the size in bytes of the mapped file.
func (m *File) Len() int {
	return len(m.data)
}

// Reader returns a seekable reader over the mapped bytes, the shape
// arrow/ipc's file reader expects (it seeks to the trailing footer before
// reading record batches). The returned reader aliases the mapping; it
// must not be used after Close.
func (m *File) Reader() *bytes.Reader {
	return bytes.NewReader(m.data)
}

// Close unmaps the file and closes the underlying descriptor. Close is
// idempotent: calling it more than once, or before the mapping was fully
// consumed, is safe.
func (m *File) Close() error {
	if m.data == nil {
		return nil
	}
	err := unmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open memory-maps path read-only. The file must be non-empty.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		f.Close()
		return nil, os.ErrInvalid
	}
	data, err := mmap(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, data: data}, nil
}
