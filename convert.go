package pck

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/gdtools/pck/internal/rsrc"
	"github.com/gdtools/pck/internal/wav"
)

// Texture container layouts. The v1 (.stex) header carries a format
// word at +12 whose high bits select the embedded image container; the
// v2 (.ctex) header carries a data format enum at +36.
const (
	stexHeaderSize = 32
	stexFormatPNG  = 1 << 20
	stexFormatWebP = 1 << 21

	ctexHeaderSize = 56
	ctexFormatPNG  = 1
	ctexFormatWebP = 2

	// .oggstr wraps a plain ogg stream in a fixed-size resource shell:
	// 279 bytes in front of the stream, 4 behind it.
	oggstrLeading  = 279
	oggstrTrailing = 4
)

// sampleType is the resource type name of a serialized audio sample.
const sampleType = "Sample"

// convert applies the per-extension conversion rule to the entry.
//
// Texture and ogg rules adjust the entry's byte range and extension in
// place and report changed=true; the generic copy then runs over the
// adjusted range. The audio sample rule performs its own write through
// the sink and reports claimed=true. Unrecognized extensions report
// nothing at all.
func (p *Pack) convert(e *Entry, sink Sink, logger *slog.Logger) (claimed, changed bool, err error) {
	switch strings.ToLower(path.Ext(e.Path)) {
	case ".stex":
		if err := p.convertTextureV1(e, logger); err != nil {
			return false, false, err
		}
		return false, true, nil
	case ".ctex":
		if err := p.convertTextureV2(e, logger); err != nil {
			return false, false, err
		}
		return false, true, nil
	case ".oggstr":
		e.Offset += oggstrLeading
		e.Size -= oggstrLeading + oggstrTrailing
		e.Path = reExtension(e.Path, ".ogg")
		return false, true, nil
	case ".sample":
		claimed, err := p.convertSample(e, sink, logger)
		return claimed, claimed, err
	default:
		return false, false, nil
	}
}

// reExtension swaps the file suffix, preserving the rest of the path.
func reExtension(p, ext string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ext
}

func (p *Pack) readUint32At(off int64) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(io.NewSectionReader(p.src, off, 4), buf[:]); err != nil {
		return 0, fmt.Errorf("read format word at %d: %w", off, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// convertTextureV1 strips the legacy .stex header, picking the target
// extension from the format word's container bits.
func (p *Pack) convertTextureV1(e *Entry, logger *slog.Logger) error {
	format, err := p.readUint32At(e.Offset + 12)
	if err != nil {
		return err
	}

	switch {
	case format&stexFormatPNG != 0:
		e.Path = reExtension(e.Path, ".png")
	case format&stexFormatWebP != 0:
		e.Path = reExtension(e.Path, ".webp")
	default:
		logger.Warn("unknown texture format, keeping extension",
			"path", e.Path, "format", format)
	}

	e.Offset += stexHeaderSize
	e.Size -= stexHeaderSize
	return nil
}

// convertTextureV2 strips the .ctex header, picking the target
// extension from the data format enum.
func (p *Pack) convertTextureV2(e *Entry, logger *slog.Logger) error {
	format, err := p.readUint32At(e.Offset + 36)
	if err != nil {
		return err
	}

	switch format {
	case ctexFormatPNG:
		e.Path = reExtension(e.Path, ".png")
	case ctexFormatWebP:
		e.Path = reExtension(e.Path, ".webp")
	default:
		logger.Warn("unknown texture format, keeping extension",
			"path", e.Path, "format", format)
	}

	e.Offset += ctexHeaderSize
	e.Size -= ctexHeaderSize
	return nil
}

// convertSample recovers the sample properties from the entry's RSRC
// container and writes a WAV file through the sink. It declines (false,
// nil) when the entry is not a parseable container, so the engine falls
// back to a raw copy.
func (p *Pack) convertSample(e *Entry, sink Sink, logger *slog.Logger) (bool, error) {
	obj, err := rsrc.Parse(p.src, e.Offset, logger)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}
	if obj.Name != sampleType {
		logger.Warn("resource is not an audio sample", "path", e.Path, "type", obj.Name)
		return false, nil
	}

	data, ok := obj.Properties["data"].Bytes()
	if !ok {
		return false, fmt.Errorf("sample %s: missing data property", e.Path)
	}
	format, ok := obj.Properties["format"].Int()
	if !ok {
		return false, fmt.Errorf("sample %s: missing format property", e.Path)
	}
	mixRate, ok := obj.Properties["mix_rate"].Int()
	if !ok {
		return false, fmt.Errorf("sample %s: missing mix_rate property", e.Path)
	}
	stereo, _ := obj.Properties["stereo"].Bool()

	e.Path = reExtension(e.Path, ".wav")
	if !sink.ShouldProcess(e.Path) {
		return true, nil
	}
	w, err := sink.Writer(e.Path)
	if err != nil {
		return false, err
	}
	f := wav.Format{
		Code:       uint16(format),
		Stereo:     stereo,
		SampleRate: uint32(mixRate),
	}
	if err := wav.Encode(w, f, data); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return false, err
	}
	if err := w.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
