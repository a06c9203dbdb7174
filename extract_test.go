package pck

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPack(t *testing.T, b packBuilder) *Pack {
	t.Helper()
	p, err := Open(memSource(b.build(t)))
	require.NoError(t, err)
	return p
}

func readOutput(t *testing.T, dir, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
	require.NoError(t, err)
	return data
}

func TestExtractWritesFiles(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "project.godot", data: []byte("config_version=5\n")},
			{path: "scenes/main.tscn", data: []byte("[gd_scene]\n")},
			{path: "assets/deep/nested/file.bin", data: []byte{0x00, 0x01, 0x02}},
		},
	})

	dir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(dir))
	require.NoError(t, err)
	assert.Zero(t, failed)

	assert.Equal(t, []byte("config_version=5\n"), readOutput(t, dir, "project.godot"))
	assert.Equal(t, []byte("[gd_scene]\n"), readOutput(t, dir, "scenes/main.tscn"))
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, readOutput(t, dir, "assets/deep/nested/file.bin"))
}

func TestExtractSkipsOverlappingEntry(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			// Offset inside the index region: corrupt, skipped, not a failure.
			{path: "corrupt.bin", data: []byte("xxxx"), rawOffset: i64ptr(8)},
			{path: "good.bin", data: []byte("good")},
		},
	})

	dir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(dir))
	require.NoError(t, err)
	assert.Zero(t, failed)

	assert.NoFileExists(t, filepath.Join(dir, "corrupt.bin"))
	assert.Equal(t, []byte("good"), readOutput(t, dir, "good.bin"))
}

func TestExtractCountsFailuresAndContinues(t *testing.T) {
	b := packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "good.bin", data: []byte("good")},
			{path: "truncated.bin", data: []byte("oops")},
		},
	}
	// Point the second entry past the end of the stream.
	b.entries[1].rawOffset = i64ptr(1 << 20)
	p := openTestPack(t, b)

	dir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(dir))
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	assert.Equal(t, []byte("good"), readOutput(t, dir, "good.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "truncated.bin"))
}

func TestExtractIdempotent(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("payload")},
		},
	})

	dir := t.TempDir()
	for range 2 {
		failed, err := p.Extract(context.Background(), NewDirSink(dir, WithOverwrite(true)))
		require.NoError(t, err)
		assert.Zero(t, failed)
		assert.Equal(t, []byte("payload"), readOutput(t, dir, "a.bin"))
	}
}

func TestExtractOverwriteDisabledKeepsExisting(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("new content")},
		},
	})

	dir := t.TempDir()
	existing := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(existing, []byte("old content"), 0o600))

	failed, err := p.Extract(context.Background(), NewDirSink(dir, WithOverwrite(false)))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []byte("old content"), readOutput(t, dir, "a.bin"))
}

func TestExtractConfirmIsAskedOnce(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("new a")},
			{path: "b.bin", data: []byte("new b")},
		},
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("old a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte("old b"), 0o600))

	var mu sync.Mutex
	calls := 0
	sink := NewDirSink(dir, WithConfirm(func() bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return true
	}))

	failed, err := p.Extract(context.Background(), sink)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte("new a"), readOutput(t, dir, "a.bin"))
	assert.Equal(t, []byte("new b"), readOutput(t, dir, "b.bin"))
}

func TestExtractParallelMatchesSerial(t *testing.T) {
	entries := make([]testEntry, 0, 16)
	for i := range 16 {
		entries = append(entries, testEntry{
			path: filepath.ToSlash(filepath.Join("dir", string(rune('a'+i))+".bin")),
			data: []byte{byte(i), byte(i + 1), byte(i + 2)},
		})
	}
	p := openTestPack(t, packBuilder{formatVersion: 2, entries: entries})

	serialDir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(serialDir))
	require.NoError(t, err)
	require.Zero(t, failed)

	parallelDir := t.TempDir()
	failed, err = p.Extract(context.Background(), NewDirSink(parallelDir), WithWorkers(4))
	require.NoError(t, err)
	require.Zero(t, failed)

	for _, e := range entries {
		assert.Equal(t, readOutput(t, serialDir, e.path), readOutput(t, parallelDir, e.path))
	}
}

func TestExtractReportsProgress(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("a")},
			{path: "b.bin", data: []byte("b")},
		},
	})

	var mu sync.Mutex
	var events []ProgressEvent
	failed, err := p.Extract(context.Background(), NewDirSink(t.TempDir()),
		WithProgress(func(ev ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		}))
	require.NoError(t, err)
	require.Zero(t, failed)

	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, 2, ev.Total)
		assert.False(t, ev.Converted)
	}
}

func TestExtractVerifyHash(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("hashed payload")},
		},
	})

	dir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(dir), WithVerifyHash(true))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []byte("hashed payload"), readOutput(t, dir, "a.bin"))
}

func TestExtractCanceledContext(t *testing.T) {
	p := openTestPack(t, packBuilder{
		formatVersion: 2,
		entries: []testEntry{
			{path: "a.bin", data: []byte("a")},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Extract(ctx, NewDirSink(t.TempDir()))
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractFromEmbeddedPack(t *testing.T) {
	prefix := []byte("#!/fake/executable\n")
	b := packBuilder{
		formatVersion: 2,
		filesBase:     int64(len(prefix)),
		entries: []testEntry{
			{path: "a.txt", data: []byte("embedded payload")},
		},
	}
	b.entries[0].rawOffset = i64ptr(b.headerSize())

	p, err := Open(memSource(embed(t, prefix, b.build(t))))
	require.NoError(t, err)

	dir := t.TempDir()
	failed, err := p.Extract(context.Background(), NewDirSink(dir))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []byte("embedded payload"), readOutput(t, dir, "a.txt"))
}
