package pck

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
)

// cursor performs little-endian reads at an explicit position within a
// ByteSource. Every read advances the position; nothing else moves it,
// so there is no shared stream state to reason about.
type cursor struct {
	src ByteSource
	pos int64
}

func (c *cursor) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(c.src, c.pos, int64(n)), buf); err != nil {
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, c.pos, err)
	}
	c.pos += int64(n)
	return buf, nil
}

func (c *cursor) uint32() (uint32, error) {
	buf, err := c.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (c *cursor) int64() (int64, error) {
	buf, err := c.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (c *cursor) skip(n int64) {
	c.pos += n
}

// Option configures a Pack.
type Option func(*packConfig)

type packConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger for parsing and extraction diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *packConfig) {
		c.logger = logger
	}
}

// Open parses a package from src.
//
// The magic is looked for at the start of the stream first; failing
// that, the self-contained executable layout is tried, where a footer at
// the end of the stream points back at an embedded package. The header
// and the full file index are parsed eagerly; payloads are not touched
// until Extract.
func Open(src ByteSource, opts ...Option) (*Pack, error) {
	cfg := packConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c, err := locateHeader(src)
	if err != nil {
		return nil, err
	}

	p := &Pack{src: src}
	filesBase, err := p.readMetadata(c)
	if err != nil {
		return nil, err
	}
	if err := p.readIndex(c, filesBase, logger); err != nil {
		return nil, err
	}
	return p, nil
}

// locateHeader finds the package magic and returns a cursor positioned
// immediately after it.
//
// Layout A: the magic sits at offset 0 (a bare .pck file). Layout B: the
// package is appended to an executable, which carries a footer of
// [int64 size][magic] at the very end of the stream; the size counts
// back from the footer to a second copy of the magic, where the header
// proper begins.
func locateHeader(src ByteSource) (*cursor, error) {
	c := &cursor{src: src}
	magic, err := c.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}
	if magic == Magic {
		return c, nil
	}

	end := src.Size()
	if end < 12 {
		return nil, fmt.Errorf("%w: stream too short", ErrInvalidPack)
	}
	c.pos = end - 4
	if magic, err = c.uint32(); err != nil || magic != Magic {
		return nil, fmt.Errorf("%w: no magic at start or end of stream", ErrInvalidPack)
	}

	// Cursor is now at end-of-stream; the embedded size field sits 12
	// bytes back from here.
	c.pos -= 12
	embedded, err := c.int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}

	// Walk back over the embedded package plus the size field itself
	// and re-validate the magic at the true header position.
	c.pos -= embedded + 8
	if magic, err = c.uint32(); err != nil || magic != Magic {
		return nil, fmt.Errorf("%w: footer does not point at a package header", ErrInvalidPack)
	}
	return c, nil
}

// readMetadata consumes the header fields following the magic and
// returns the files-base offset to apply to every index entry.
func (p *Pack) readMetadata(c *cursor) (int64, error) {
	v, err := c.uint32()
	if err != nil {
		return 0, err
	}
	p.FormatVersion = v

	for _, part := range []*uint32{&p.Version.Major, &p.Version.Minor, &p.Version.Patch} {
		if *part, err = c.uint32(); err != nil {
			return 0, err
		}
	}

	switch {
	case v == 2:
		flags, err := c.uint32()
		if err != nil {
			return 0, err
		}
		if flags&flagDirEncrypted != 0 {
			return 0, fmt.Errorf("%w: encrypted directory", ErrEncrypted)
		}
	case v > 2:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	var filesBase int64
	if v >= 2 {
		if filesBase, err = c.int64(); err != nil {
			return 0, err
		}
	}

	// 16 reserved 32-bit slots.
	c.skip(64)
	return filesBase, nil
}

// readIndex consumes the entry records and leaves the index sorted by
// ascending payload offset.
func (p *Pack) readIndex(c *cursor, filesBase int64, logger *slog.Logger) error {
	count, err := c.uint32()
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e Entry
		pathLen, err := c.uint32()
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		raw, err := c.read(int(pathLen))
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		e.Path = strings.TrimRight(strings.TrimPrefix(string(raw), pathPrefix), "\x00")

		if e.Offset, err = c.int64(); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Path, err)
		}
		e.Offset += filesBase
		if e.Size, err = c.int64(); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Path, err)
		}

		hash, err := c.read(16)
		if err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Path, err)
		}
		copy(e.Hash[:], hash)

		if p.FormatVersion >= 2 {
			flags, err := c.uint32()
			if err != nil {
				return fmt.Errorf("entry %d (%s): %w", i, e.Path, err)
			}
			if flags&flagFileEncrypted != 0 {
				return fmt.Errorf("%w: encrypted file %s", ErrEncrypted, e.Path)
			}
		}

		logger.Debug("index entry", "path", e.Path, "offset", e.Offset, "size", e.Size)
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		return ErrEmptyIndex
	}

	// Input order is not guaranteed to be offset order. The sort must
	// be stable and compare full 64-bit deltas.
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})

	p.entries = entries
	p.indexEnd = c.pos
	return nil
}
