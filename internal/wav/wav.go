// Package wav synthesizes canonical RIFF/WAVE containers around raw
// audio sample payloads recovered from serialized engine resources.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Sample format codes as stored in the engine's "format" property.
const (
	FormatPCM8     = 0
	FormatPCM16    = 1
	FormatIMAADPCM = 2
)

// HeaderSize is the fixed size of the synthesized container header.
const HeaderSize = 44

// Format describes a sample payload.
type Format struct {
	// Code is the engine sample format code, written verbatim into the
	// fmt chunk's audio-format field.
	Code uint16

	// Stereo selects two channels instead of one.
	Stereo bool

	// SampleRate is the mix rate in Hz.
	SampleRate uint32
}

// channels returns the channel count.
func (f Format) channels() uint16 {
	if f.Stereo {
		return 2
	}
	return 1
}

// bytesPerSample returns the engine's fixed per-format sample width:
// one byte for 8-bit PCM, two for 16-bit PCM, and a four-byte
// placeholder for every other code.
func (f Format) bytesPerSample() uint16 {
	switch f.Code {
	case FormatPCM8:
		return 1
	case FormatPCM16:
		return 2
	default:
		return 4
	}
}

// Header builds the 44-byte RIFF/WAVE header for a payload of dataLen
// bytes.
func Header(f Format, dataLen uint32) []byte {
	channels := f.channels()
	width := f.bytesPerSample()

	buf := make([]byte, 0, HeaderSize)
	le16 := func(v uint16) { buf = binary.LittleEndian.AppendUint16(buf, v) }
	le32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }

	buf = append(buf, "RIFF"...)
	le32(dataLen + 36)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	le32(16)
	le16(f.Code)
	le16(channels)
	le32(f.SampleRate)
	le32(f.SampleRate * uint32(channels) * uint32(width))
	le16(channels * width)
	le16(width * 8)

	buf = append(buf, "data"...)
	le32(dataLen)
	return buf
}

// Encode writes the synthesized container: the 44-byte header followed
// by the raw payload.
func Encode(w io.Writer, f Format, data []byte) error {
	if _, err := w.Write(Header(f, uint32(len(data)))); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}
