// Package pck reads Godot Engine package containers (.pck files, or
// packages appended to a self-contained executable) and extracts their
// contents to a directory tree.
//
// A package consists of a header (magic, format version, engine version,
// flags), an index of file entries (virtual path, offset, size), and the
// concatenated file payloads. Open locates and parses the header and
// index; Extract streams payloads to a Sink, optionally converting a
// subset of the engine's internal resource formats (textures, ogg
// streams, audio samples) into standard containers on the way out.
//
// All reads go through an io.ReaderAt, so a Pack never owns a cursor and
// extraction can run with parallel workers.
package pck

import (
	"errors"
	"io"
	"iter"
)

// Magic is the package container magic, "GDPC" in little-endian order.
const Magic = 0x43504447

// pathPrefix is the virtual root every index path carries.
const pathPrefix = "res://"

// Package header flags (format version 2).
const (
	flagDirEncrypted  = 1 << 0
	flagFileEncrypted = 1 << 0
)

// Sentinel errors.
var (
	// ErrInvalidPack is returned when no package magic can be located.
	ErrInvalidPack = errors.New("pck: not a godot package")

	// ErrEncrypted is returned for encrypted directories or files.
	// Decryption is not supported.
	ErrEncrypted = errors.New("pck: encrypted package")

	// ErrUnsupportedVersion is returned for package format versions
	// newer than 2.
	ErrUnsupportedVersion = errors.New("pck: unsupported package format version")

	// ErrEmptyIndex is returned when the package index contains no entries.
	ErrEmptyIndex = errors.New("pck: empty package index")
)

// ByteSource provides random access to the package stream.
//
// *os.File satisfies it via FileSource; tests use in-memory buffers.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Entry represents one file in the package index.
type Entry struct {
	// Path is the virtual path with the res:// prefix and trailing
	// NUL padding stripped (e.g. "scenes/main.tscn").
	Path string

	// Offset is the absolute byte offset of the payload within the
	// package stream, already adjusted by the files-base offset.
	Offset int64

	// Size is the payload length in bytes.
	Size int64

	// Hash is the MD5 of the payload as recorded in the index.
	Hash [16]byte
}

// EngineVersion is the engine version triple recorded in the header.
type EngineVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// Pack is a parsed package: header metadata plus the offset-sorted index.
type Pack struct {
	src ByteSource

	// FormatVersion is the package format version (0..2).
	FormatVersion uint32

	// Version is the engine version that wrote the package.
	Version EngineVersion

	entries  []Entry
	indexEnd int64
}

// Len returns the number of index entries.
func (p *Pack) Len() int {
	return len(p.entries)
}

// Entries returns an iterator over the index in ascending offset order.
func (p *Pack) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range p.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// IndexEnd returns the byte position immediately after the last index
// record. Payloads may not begin before this boundary.
func (p *Pack) IndexEnd() int64 {
	return p.indexEnd
}
