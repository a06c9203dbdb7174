package pck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zip"
)

// zipMagic is the local-file-header signature of a ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// IsZip reports whether the stream starts with a ZIP archive signature.
// Godot exports can ship the package as a ZIP archive instead of the
// native container; the engine mounts both identically.
func IsZip(src ByteSource) bool {
	var buf [4]byte
	if _, err := src.ReadAt(buf[:], 0); err != nil {
		return false
	}
	return string(buf[:]) == string(zipMagic)
}

// ExtractZip streams every file of a ZIP-format package to the sink.
//
// ZIP packages carry plain relative paths and standard formats, so no
// conversion applies; entries are written as-is. Per-entry failures are
// logged and tallied like native extraction.
func ExtractZip(ctx context.Context, src ByteSource, sink Sink, opts ...ExtractOption) (int, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	zr, err := zip.NewReader(src, src.Size())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}

	failed := 0
	files := zr.File
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		path := strings.TrimPrefix(f.Name, pathPrefix)
		if !sink.ShouldProcess(path) {
			continue
		}
		if err := copyZipFile(f, path, sink); err != nil {
			cfg.logger.Error("extraction failed", "path", path, "error", err)
			failed++
			continue
		}
		if cfg.progress != nil {
			cfg.progress(ProgressEvent{Path: path, Index: i + 1, Total: len(files)})
		}
	}
	return failed, nil
}

func copyZipFile(f *zip.File, path string, sink Sink) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := sink.Writer(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return err
	}
	return w.Commit()
}
