package pck

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives extracted files.
//
// ShouldProcess is consulted once per destination path before any bytes
// are read; returning false skips the file without counting a failure.
// Writer opens a Committer for the path; the file only becomes visible
// at its final destination after Commit.
type Sink interface {
	ShouldProcess(path string) bool
	Writer(path string) (Committer, error)
}

// Committer accumulates one file's content and either commits it to its
// final destination or discards it.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// ConfirmFunc decides, once per run, whether existing files may be
// overwritten. It is called the first time a destination already
// exists; the answer is cached for every later collision.
type ConfirmFunc func() bool

// DirSink writes extracted files under a root directory.
//
// Files are written to a temporary file in the same directory, then
// renamed to the final path on Commit, so partially written files are
// never visible. Parent directories are created as needed.
type DirSink struct {
	root    string
	confirm ConfirmFunc

	once      sync.Once
	overwrite bool
}

// SinkOption configures a DirSink.
type SinkOption func(*DirSink)

// WithOverwrite fixes the overwrite decision up front instead of
// consulting a ConfirmFunc on the first collision.
func WithOverwrite(overwrite bool) SinkOption {
	return func(s *DirSink) {
		s.confirm = nil
		s.overwrite = overwrite
		s.once.Do(func() {})
	}
}

// WithConfirm installs the overwrite prompt. It is invoked at most once
// per run, on the first collision with an existing file.
func WithConfirm(confirm ConfirmFunc) SinkOption {
	return func(s *DirSink) {
		s.confirm = confirm
	}
}

// NewDirSink creates a DirSink rooted at dir.
//
// Without options, existing files are overwritten.
func NewDirSink(dir string, opts ...SinkOption) *DirSink {
	s := &DirSink{root: dir, overwrite: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false if the destination exists and the run's
// single overwrite decision came back negative.
func (s *DirSink) ShouldProcess(path string) bool {
	dest := filepath.Join(s.root, filepath.FromSlash(path))
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return true
	}
	s.once.Do(func() {
		if s.confirm != nil {
			s.overwrite = s.confirm()
		}
	})
	return s.overwrite
}

// Writer returns a Committer that writes to a temp file and renames on
// Commit.
func (s *DirSink) Writer(path string) (Committer, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(path))

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".pck-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{destPath: dest, tempFile: tempFile}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	destPath string
	tempFile *os.File
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	tempPath := c.tempFile.Name()

	if err := c.tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, c.destPath); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tempPath)
}

// Interface compliance.
var (
	_ Sink      = (*DirSink)(nil)
	_ Committer = (*fileCommitter)(nil)
)
