package rsrc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prop struct {
	nameIdx uint32
	tag     uint32
	payload []byte
}

// containerBuilder assembles container bytes for tests.
type containerBuilder struct {
	bigEndian     bool
	typeName      string
	names         []string
	externals     [][2]string
	internalCount uint32
	props         []prop
}

func u32le(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func (b *containerBuilder) build() []byte {
	var buf bytes.Buffer
	le := func(v uint32) { buf.Write(u32le(v)) }
	str := func(s string) {
		le(uint32(len(s)))
		buf.WriteString(s)
		if pad := len(s) % 4; pad != 0 {
			buf.Write(make([]byte, 4-pad))
		}
	}

	le(Magic)
	if b.bigEndian {
		le(1)
	} else {
		le(0)
	}
	le(0) // use_real64
	le(3)
	le(1)
	le(2)
	str(b.typeName)
	buf.Write(make([]byte, 64))

	le(uint32(len(b.names)))
	for _, n := range b.names {
		str(n)
	}

	le(uint32(len(b.externals)))
	for _, ext := range b.externals {
		str(ext[0])
		str(ext[1])
	}

	le(b.internalCount)
	if b.internalCount == 0 {
		return buf.Bytes()
	}
	str("local://0")
	offsetPos := buf.Len()
	buf.Write(make([]byte, 8))

	objOffset := buf.Len()
	str(b.typeName)
	le(uint32(len(b.props)))
	for _, p := range b.props {
		le(p.nameIdx)
		le(p.tag)
		buf.Write(p.payload)
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint64(out[offsetPos:], uint64(objOffset))
	return out
}

func sampleBuilder() *containerBuilder {
	return &containerBuilder{
		typeName:      "Sample",
		names:         []string{"data", "format", "mix_rate", "stereo", "loop_format"},
		internalCount: 1,
		props: []prop{
			{nameIdx: 0, tag: tagRawArray, payload: append(u32le(4), 0xDE, 0xAD, 0xBE, 0xEF)},
			{nameIdx: 1, tag: tagInt, payload: u32le(1)},
			{nameIdx: 2, tag: tagInt, payload: u32le(44100)},
			{nameIdx: 3, tag: tagBool, payload: u32le(1)},
			{nameIdx: 4, tag: tagNil},
		},
	}
}

func TestParseSample(t *testing.T) {
	obj, err := Parse(bytes.NewReader(sampleBuilder().build()), 0, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)

	assert.Equal(t, "Sample", obj.Name)

	data, ok := obj.Properties["data"].Bytes()
	require.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data)

	format, ok := obj.Properties["format"].Int()
	require.True(t, ok)
	assert.EqualValues(t, 1, format)

	rate, ok := obj.Properties["mix_rate"].Int()
	require.True(t, ok)
	assert.EqualValues(t, 44100, rate)

	stereo, ok := obj.Properties["stereo"].Bool()
	require.True(t, ok)
	assert.True(t, stereo)

	_, ok = obj.Properties["loop_format"].Int()
	assert.False(t, ok, "nil property must not decode as int")
}

func TestParseAtNonzeroBase(t *testing.T) {
	container := sampleBuilder().build()
	stream := append(bytes.Repeat([]byte{0xFF}, 137), container...)

	obj, err := Parse(bytes.NewReader(stream), 137, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "Sample", obj.Name)
}

func TestParseBadMagicIsNotAnError(t *testing.T) {
	obj, err := Parse(bytes.NewReader([]byte("this is not a container")), 0, nil)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestParseEmptyInternalListIsNotAnError(t *testing.T) {
	b := sampleBuilder()
	b.internalCount = 0
	obj, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestParseBigEndianFlagDoesNotAbort(t *testing.T) {
	b := sampleBuilder()
	b.bigEndian = true

	// Field layout in the fixture stays little-endian; the flag alone
	// must only warn, not stop parsing.
	obj, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)
}

func TestParseExternalResourcesAreSkipped(t *testing.T) {
	b := sampleBuilder()
	b.externals = [][2]string{
		{"Texture", "res://icon.png"},
		{"Script", "res://player.gd"},
	}
	obj, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Len(t, obj.Properties, 5)
}

func TestParseUnhandledVariantTag(t *testing.T) {
	b := sampleBuilder()
	b.props = append(b.props, prop{nameIdx: 2, tag: 5, payload: u32le(0)})

	_, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhandled variant tag")
}

func TestParseNameIndexOutOfRange(t *testing.T) {
	b := sampleBuilder()
	b.props = []prop{{nameIdx: 42, tag: tagInt, payload: u32le(0)}}

	_, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestParseTruncatedContainer(t *testing.T) {
	full := sampleBuilder().build()
	_, err := Parse(bytes.NewReader(full[:len(full)-10]), 0, nil)
	require.Error(t, err)
}

func TestStringPaddingAndNulStripping(t *testing.T) {
	// A 6-byte name forces 2 bytes of padding; embedded NULs at the
	// tail must be stripped.
	b := &containerBuilder{
		typeName:      "Sample",
		names:         []string{"stereo"},
		internalCount: 1,
		props:         []prop{{nameIdx: 0, tag: tagBool, payload: u32le(0)}},
	}
	obj, err := Parse(bytes.NewReader(b.build()), 0, nil)
	require.NoError(t, err)
	require.NotNil(t, obj)

	stereo, ok := obj.Properties["stereo"].Bool()
	require.True(t, ok)
	assert.False(t, stereo)
}
