package pck

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // index hashes are MD5 by format definition
	"fmt"
	"hash"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ProgressEvent reports one entry having been handled.
type ProgressEvent struct {
	// Path is the destination path, after any conversion re-extension.
	Path string

	// Index is the 1-based position of the entry in extraction order.
	Index int

	// Total is the number of entries in the package.
	Total int

	// Converted reports whether a conversion rule touched the entry.
	Converted bool
}

// ProgressFunc receives progress updates during extraction.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

// ExtractOption configures an extraction run.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	convert  bool
	verify   bool
	workers  int
	progress ProgressFunc
	logger   *slog.Logger
}

// WithConvert enables resource conversion. Known texture, ogg stream,
// and audio sample containers are rewritten as png/webp, ogg, and wav.
func WithConvert(convert bool) ExtractOption {
	return func(c *extractConfig) {
		c.convert = convert
	}
}

// WithVerifyHash enables MD5 verification of raw-copied payloads
// against the hash recorded in the index. Mismatches are logged, not
// fatal. Entries whose byte range was adjusted by conversion are not
// verified.
func WithVerifyHash(verify bool) ExtractOption {
	return func(c *extractConfig) {
		c.verify = verify
	}
}

// WithWorkers sets the number of parallel extraction workers.
// Values < 2 extract serially.
func WithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}

// WithExtractLogger sets the logger for extraction diagnostics.
// If not set, logging is disabled.
func WithExtractLogger(logger *slog.Logger) ExtractOption {
	return func(c *extractConfig) {
		c.logger = logger
	}
}

// Extract streams every entry to the sink in ascending offset order.
//
// Entries whose offset falls inside the index region are corrupt and
// skipped with a warning. Per-entry copy or conversion failures are
// logged and tallied but never abort the run; the failed count is
// returned. A non-nil error is only returned when the context is
// canceled.
func (p *Pack) Extract(ctx context.Context, sink Sink, opts ...ExtractOption) (int, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	if cfg.workers > 1 {
		return p.extractParallel(ctx, sink, &cfg)
	}

	failed := 0
	for i, e := range p.entries {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if ok := p.extractEntry(e, i, sink, &cfg); !ok {
			failed++
		}
	}
	return failed, nil
}

// extractParallel runs per-entry work on a bounded worker pool. All
// reads are position-independent ReadAt calls and sink writes open
// independent temp files, so entries do not contend with each other.
func (p *Pack) extractParallel(ctx context.Context, sink Sink, cfg *extractConfig) (int, error) {
	var failed atomic.Int64
	sem := semaphore.NewWeighted(int64(cfg.workers))
	g, gctx := errgroup.WithContext(ctx)

	for i, e := range p.entries {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if ok := p.extractEntry(e, i, sink, cfg); !ok {
				failed.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(failed.Load()), err
}

// extractEntry handles one entry end to end. It returns false only for
// failures that should count against the run.
func (p *Pack) extractEntry(e Entry, i int, sink Sink, cfg *extractConfig) bool {
	if e.Offset < p.indexEnd {
		cfg.logger.Warn("entry overlaps package index, skipping",
			"path", e.Path, "offset", e.Offset, "indexEnd", p.indexEnd)
		return true
	}

	orig := e
	converted := false
	if cfg.convert {
		claimed, changed, err := p.convert(&e, sink, cfg.logger)
		if err != nil {
			// Conversion trouble falls back to a raw copy of the
			// original byte range.
			cfg.logger.Warn("conversion failed, extracting raw",
				"path", orig.Path, "error", err)
			e = orig
		} else if claimed {
			p.report(cfg, e, i, true)
			return true
		} else {
			converted = changed
		}
	}

	if !sink.ShouldProcess(e.Path) {
		return true
	}
	if err := p.copyEntry(e, sink, cfg, converted); err != nil {
		cfg.logger.Error("extraction failed", "path", e.Path, "error", err)
		return false
	}

	p.report(cfg, e, i, converted)
	return true
}

func (p *Pack) report(cfg *extractConfig, e Entry, i int, converted bool) {
	if cfg.progress != nil {
		cfg.progress(ProgressEvent{
			Path:      e.Path,
			Index:     i + 1,
			Total:     len(p.entries),
			Converted: converted,
		})
	}
}

// copyEntry streams the entry's byte range to the sink.
func (p *Pack) copyEntry(e Entry, sink Sink, cfg *extractConfig, converted bool) error {
	w, err := sink.Writer(e.Path)
	if err != nil {
		return err
	}

	var hasher hash.Hash
	dst := io.Writer(w)
	if cfg.verify && !converted {
		hasher = md5.New() //nolint:gosec // matching the index hash
		dst = io.MultiWriter(w, hasher)
	}

	src := io.NewSectionReader(p.src, e.Offset, e.Size)
	n, err := io.Copy(dst, src)
	if err == nil && n != e.Size {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("copy %d bytes at %d: %w", e.Size, e.Offset, err)
	}
	if err := w.Commit(); err != nil {
		return err
	}

	if hasher != nil && !bytes.Equal(hasher.Sum(nil), e.Hash[:]) {
		cfg.logger.Warn("entry hash mismatch", "path", e.Path)
	}
	return nil
}
