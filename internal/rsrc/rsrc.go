// Package rsrc decodes the engine's serialized-object binary container
// (RSRC). A container holds a string table, external and internal
// resource lists, and the property stream of the embedded objects; only
// the first internal object is recovered, and only the variant tags an
// audio sample needs are decoded.
package rsrc

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Magic is the container magic, "RSRC" in little-endian order.
const Magic = 0x43525352

// Variant type tags decoded from the property stream.
const (
	tagNil      = 1
	tagBool     = 2
	tagInt      = 3
	tagRawArray = 31
)

// Kind identifies the decoded type of a Variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindBytes
)

// Variant is a closed tagged value recovered from a property stream.
// Unhandled tags never produce a Variant; they fail the decode instead,
// since their payload width is unknown and cannot be skipped safely.
type Variant struct {
	kind  Kind
	bytes []byte
	num   int32
	truth bool
}

// Bytes returns the raw byte payload of a KindBytes variant.
func (v Variant) Bytes() ([]byte, bool) {
	return v.bytes, v.kind == KindBytes
}

// Int returns the value of a KindInt variant.
func (v Variant) Int() (int32, bool) {
	return v.num, v.kind == KindInt
}

// Bool returns the value of a KindBool variant.
func (v Variant) Bool() (bool, bool) {
	return v.truth, v.kind == KindBool
}

// Object is one internal resource recovered from a container.
type Object struct {
	// Name is the resource type name (e.g. "Sample").
	Name string

	// Properties maps property names to their decoded values.
	Properties map[string]Variant
}

// reader performs little-endian reads at an explicit position.
type reader struct {
	src io.ReaderAt
	pos int64
}

func (r *reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(r.src, r.pos, int64(n)), buf); err != nil {
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, r.pos, err)
	}
	r.pos += int64(n)
	return buf, nil
}

func (r *reader) uint32() (uint32, error) {
	buf, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *reader) int64() (int64, error) {
	buf, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// str reads a length-prefixed string. Consumption is rounded up to a
// 4-byte boundary and NUL padding is stripped.
func (r *reader) str() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	buf, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	if pad := n % 4; pad != 0 {
		r.pos += int64(4 - pad)
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// Parse decodes the container starting at base within src and returns
// its first internal object.
//
// A missing magic or an empty internal-resource list is not an error:
// Parse returns (nil, nil) and the caller is expected to fall back to
// handling the raw bytes. Errors are reserved for streams that look
// like a container but cannot be decoded.
func Parse(src io.ReaderAt, base int64, logger *slog.Logger) (*Object, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &reader{src: src, pos: base}

	magic, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		logger.Warn("no RSRC magic, skipping resource", "magic", magic)
		return nil, nil
	}

	bigEndian, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if bigEndian != 0 {
		logger.Warn("big-endian resource, support is limited")
	}

	// use_real64 flag and the three version components.
	r.pos += 4
	verMajor, err := r.uint32()
	if err != nil {
		return nil, err
	}
	verMinor, err := r.uint32()
	if err != nil {
		return nil, err
	}
	verFormat, err := r.uint32()
	if err != nil {
		return nil, err
	}

	typeName, err := r.str()
	if err != nil {
		return nil, err
	}
	logger.Debug("resource container",
		"type", typeName, "version", fmt.Sprintf("%d.%d", verMajor, verMinor), "format", verFormat)

	// Import-metadata offset plus reserved fields.
	r.pos += 14*4 + 8

	names, err := r.readStringTable()
	if err != nil {
		return nil, err
	}
	if err := r.skipExternalResources(logger); err != nil {
		return nil, err
	}

	internalCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if internalCount == 0 {
		logger.Warn("container has no internal resources")
		return nil, nil
	}
	if _, err := r.str(); err != nil { // internal resource path
		return nil, err
	}
	first, err := r.int64()
	if err != nil {
		return nil, err
	}

	r.pos = base + first
	return r.readObject(names)
}

func (r *reader) readStringTable() ([]string, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}
	names := make([]string, count)
	for i := range names {
		if names[i], err = r.str(); err != nil {
			return nil, fmt.Errorf("string table entry %d: %w", i, err)
		}
	}
	return names, nil
}

func (r *reader) skipExternalResources(logger *slog.Logger) error {
	count, err := r.uint32()
	if err != nil {
		return fmt.Errorf("external resources: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		typ, err := r.str()
		if err != nil {
			return fmt.Errorf("external resource %d: %w", i, err)
		}
		path, err := r.str()
		if err != nil {
			return fmt.Errorf("external resource %d: %w", i, err)
		}
		logger.Debug("external resource", "type", typ, "path", path)
	}
	return nil
}

// readObject decodes the internal object's property stream, resolving
// property names against the string table.
func (r *reader) readObject(names []string) (*Object, error) {
	name, err := r.str()
	if err != nil {
		return nil, err
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	obj := &Object{Name: name, Properties: make(map[string]Variant, count)}
	for i := uint32(0); i < count; i++ {
		nameIdx, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if int(nameIdx) >= len(names) {
			return nil, fmt.Errorf("property %d: name index %d out of range", i, nameIdx)
		}
		v, err := r.variant()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", names[nameIdx], err)
		}
		obj.Properties[names[nameIdx]] = v
	}
	return obj, nil
}

// variant decodes one tagged value. Tags outside the decoded subset are
// a hard error: their payload width is unknown, and guessing would
// desynchronize every later property.
func (r *reader) variant() (Variant, error) {
	tag, err := r.uint32()
	if err != nil {
		return Variant{}, err
	}
	switch tag {
	case tagNil:
		return Variant{kind: KindNil}, nil
	case tagBool:
		b, err := r.uint32()
		if err != nil {
			return Variant{}, err
		}
		return Variant{kind: KindBool, truth: b != 0}, nil
	case tagInt:
		n, err := r.uint32()
		if err != nil {
			return Variant{}, err
		}
		return Variant{kind: KindInt, num: int32(n)}, nil
	case tagRawArray:
		n, err := r.uint32()
		if err != nil {
			return Variant{}, err
		}
		buf, err := r.read(int(n))
		if err != nil {
			return Variant{}, err
		}
		return Variant{kind: KindBytes, bytes: buf}, nil
	default:
		return Variant{}, fmt.Errorf("unhandled variant tag %d", tag)
	}
}
