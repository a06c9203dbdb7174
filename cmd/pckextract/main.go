// Command pckextract extracts Godot package containers (.pck files or
// packages appended to an executable) and optionally converts engine
// resource formats into standard ones.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gdtools/pck"
)

// Exit statuses, one per fatal error category.
const (
	exitOK           = 0
	exitInvalidInput = 1
	exitIOError      = 2
	exitNotSupported = 3
	exitRuntime      = 4
	exitPartial      = 5
)

var (
	convert     bool
	verify      bool
	workers     int
	overwrite   bool
	noOverwrite bool
	verbose     bool
)

// partialError reports entries that failed to extract without any
// fatal condition.
type partialError struct {
	failed int
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%d file(s) failed to extract", e.failed)
}

var rootCmd = &cobra.Command{
	Use:   "pckextract [flags] <input> [output-dir]",
	Short: "Extract Godot package containers",
	Long: "Extract the contents of a Godot package (.pck file, ZIP pack, or\n" +
		"self-contained executable) into a directory. With --convert, known\n" +
		"resource containers are rewritten as png/webp, ogg, and wav files.",
	Args:          cobra.RangeArgs(1, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runExtract,
}

var listCmd = &cobra.Command{
	Use:   "list <input>",
	Short: "List package contents without extracting",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.Flags().BoolVarP(&convert, "convert", "c", false, "convert known resource formats")
	rootCmd.Flags().BoolVar(&verify, "verify", false, "verify entry hashes while extracting")
	rootCmd.Flags().IntVar(&workers, "workers", 1, "parallel extraction workers")
	rootCmd.Flags().BoolVarP(&overwrite, "overwrite", "y", false, "overwrite existing files without prompting")
	rootCmd.Flags().BoolVarP(&noOverwrite, "no-overwrite", "n", false, "never overwrite existing files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(listCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	input := args[0]

	outDir := defaultOutputDir(input)
	if len(args) > 1 {
		outDir = args[1]
	}

	sink := pck.NewDirSink(outDir, sinkOptions()...)

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()
	src, err := pck.NewFileSource(f)
	if err != nil {
		return err
	}

	extractOpts := []pck.ExtractOption{
		pck.WithConvert(convert),
		pck.WithVerifyHash(verify),
		pck.WithWorkers(workers),
		pck.WithExtractLogger(logger),
		pck.WithProgress(func(ev pck.ProgressEvent) {
			logger.Info("extracted", "path", ev.Path, "index", ev.Index, "total", ev.Total)
		}),
	}

	var failed int
	if pck.IsZip(src) {
		failed, err = pck.ExtractZip(cmd.Context(), src, sink, extractOpts...)
	} else {
		var p *pck.Pack
		p, err = pck.Open(src, pck.WithLogger(logger))
		if err != nil {
			return err
		}
		logger.Info("package opened",
			"format", p.FormatVersion,
			"engine", fmt.Sprintf("%d.%d.%d", p.Version.Major, p.Version.Minor, p.Version.Patch),
			"files", p.Len())
		failed, err = p.Extract(cmd.Context(), sink, extractOpts...)
	}
	if err != nil {
		return err
	}

	if failed > 0 {
		return &partialError{failed: failed}
	}
	logger.Info("all files extracted", "dir", outDir)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	p, err := pck.OpenFile(args[0], pck.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	defer p.Close()

	for e := range p.Entries() {
		fmt.Fprintf(cmd.OutOrStdout(), "%12d  %s\n", e.Size, e.Path)
	}
	return nil
}

// defaultOutputDir derives the output directory from the input path:
// the same name minus its extension, sibling to the input.
func defaultOutputDir(input string) string {
	dir := strings.TrimSuffix(input, filepath.Ext(input))
	if dir == input {
		dir = input + "_extracted"
	}
	return dir
}

func sinkOptions() []pck.SinkOption {
	switch {
	case overwrite:
		return []pck.SinkOption{pck.WithOverwrite(true)}
	case noOverwrite:
		return []pck.SinkOption{pck.WithOverwrite(false)}
	default:
		return []pck.SinkOption{pck.WithConfirm(confirmOverwrite)}
	}
}

// confirmOverwrite prompts once per run, on the first collision with an
// existing file. The answer covers every later collision.
func confirmOverwrite() bool {
	fmt.Fprint(os.Stderr, "Destination files already exist. Overwrite all? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// exitStatus maps an error to its fatal category's exit status.
func exitStatus(err error) int {
	var partial *partialError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &partial):
		return exitPartial
	case errors.Is(err, pck.ErrEncrypted), errors.Is(err, pck.ErrUnsupportedVersion):
		return exitNotSupported
	case errors.Is(err, pck.ErrEmptyIndex):
		return exitRuntime
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return exitIOError
	default:
		return exitInvalidInput
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitStatus(err))
	}
}
