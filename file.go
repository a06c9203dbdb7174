package pck

import (
	"fmt"
	"os"
)

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

// NewFileSource wraps an open file as a ByteSource.
func NewFileSource(f *os.File) (ByteSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat package file: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// PackFile wraps a Pack with its underlying file handle.
// Close must be called to release file resources.
type PackFile struct {
	*Pack
	file *os.File
}

// Close closes the underlying package file.
func (pf *PackFile) Close() error {
	if pf.file == nil {
		return nil
	}
	err := pf.file.Close()
	pf.file = nil
	return err
}

// OpenFile opens a package from a file on disk.
//
// The file is opened for random access and kept open for the lifetime
// of the returned PackFile, which must be closed.
func OpenFile(path string, opts ...Option) (*PackFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open package file: %w", err)
	}

	source, err := NewFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	p, err := Open(source, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &PackFile{Pack: p, file: f}, nil
}

// Interface compliance for fileSource.
var _ ByteSource = (*fileSource)(nil)
