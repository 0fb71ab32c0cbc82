package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stampsync/internal/compiler"
	"github.com/roach88/stampsync/internal/engine"
	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database      string
	Topology      string
	Input         string
	ReorderWindow int64

	// RunIDGenerator allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator
}

// RunSummary reports what a batch run did.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Topology string        `json:"topology"`
	Lines    int           `json:"lines"`
	Skipped  int           `json:"skipped"`
	Counts   engine.Counts `json:"counts"`
}

// inputLine is one JSON line of run input.
type inputLine struct {
	Stream  string         `json:"stream"`
	Stamp   *json.Number   `json:"stamp"`
	Payload map[string]any `json:"payload"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <specs-dir>",
		Short: "Feed recorded samples through the synchronizer",
		Long: `Feed JSON-lines samples through a synchronizer engine and log every
arrival, match and drop to a SQLite database.

Each input line is an object {"stream": ..., "stamp": ..., "payload": {...}}.
Lines naming an unknown stream, failing to decode or longer than 1 MiB are
logged and skipped.
The reorder buffer is flushed at end of input.

Example:
  stampsync run ./specs --topology lidar_camera --db ./stampsync.db --input samples.jsonl
  cat samples.jsonl | stampsync run ./specs --topology lidar_camera --db ./stampsync.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Topology, "topology", "", "topology name (required when specs declare several)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "JSON-lines input file, - for stdin")
	cmd.Flags().Int64Var(&opts.ReorderWindow, "reorder-window", -1, "override the topology's reorder window (-1 keeps it)")

	return cmd
}

func runEngine(opts *RunOptions, specsDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	setupLogging(cmd.ErrOrStderr(), opts.Format, logLevel)

	topology, err := resolveTopology(specsDir, opts.Topology)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load topology", err)
	}
	slog.Info("topology loaded", "topology", topology.Name, "streams", len(topology.Streams))

	input, closeInput, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeInput()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	gen := opts.RunIDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	engOpts := []engine.EngineOption{
		engine.WithStore(st),
		engine.WithRunIDGenerator(gen),
	}
	if opts.ReorderWindow >= 0 {
		engOpts = append(engOpts, engine.WithReorderWindow(opts.ReorderWindow))
	}
	eng, err := engine.New(*topology, engOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	summary, err := feedLines(ctx, eng, input)
	if err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}
	if err := eng.Flush(ctx); err != nil {
		return WrapExitError(ExitFailure, "flush failed", err)
	}
	summary.Counts = eng.Snapshot().Counts

	slog.Info("run complete", "run", summary.RunID, "matches", summary.Counts.Matches, "drops", summary.Counts.Drops)
	return outputRunSummary(cmd, opts.Format, summary)
}

// resolveTopology compiles specsDir and picks the named topology. An empty
// name is accepted when the specs declare exactly one topology.
func resolveTopology(specsDir, name string) (*ir.TopologySpec, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	var topology *ir.TopologySpec
	if name == "" {
		if len(loadResult.Topologies) != 1 {
			return nil, fmt.Errorf("--topology is required: specs declare %v", loadResult.Names())
		}
		topology = &loadResult.Topologies[0]
	} else {
		t, ok := loadResult.Topology(name)
		if !ok {
			return nil, fmt.Errorf("topology %q not found, have %v", name, loadResult.Names())
		}
		topology = t
	}

	if verrs := compiler.ValidateTopology(topology); len(verrs) > 0 {
		return nil, verrs[0]
	}
	return topology, nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// maxLineBytes caps a single input line. Longer lines are skipped.
const maxLineBytes = 1 << 20

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineBytes)

// feedLines processes every input line in order. Decode failures, oversized
// lines and unknown streams are skipped; any other engine error aborts the run.
func feedLines(ctx context.Context, eng *engine.Engine, r io.Reader) (RunSummary, error) {
	summary := RunSummary{RunID: eng.RunID(), Topology: eng.Topology().Name}

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		raw, readErr := readLine(br)
		if readErr != nil && readErr != io.EOF && readErr != errLineTooLong {
			return summary, fmt.Errorf("reading input: %w", readErr)
		}

		line := bytes.TrimSpace(raw)
		if len(line) > 0 || readErr == errLineTooLong {
			summary.Lines++
			if err := feedLine(ctx, eng, line, readErr, &summary); err != nil {
				return summary, err
			}
		}
		if readErr == io.EOF {
			return summary, nil
		}
	}
}

func feedLine(ctx context.Context, eng *engine.Engine, line []byte, readErr error, summary *RunSummary) error {
	if readErr == errLineTooLong {
		summary.Skipped++
		slog.Warn("input line skipped", "line", summary.Lines, "error", readErr)
		return nil
	}

	arrival, err := decodeLine(line)
	if err != nil {
		summary.Skipped++
		slog.Warn("input line skipped", "line", summary.Lines, "error", err)
		return nil
	}

	if err := eng.Process(ctx, arrival); err != nil {
		if engine.IsUnknownStreamError(err) {
			summary.Skipped++
			slog.Warn("input line skipped", "line", summary.Lines, "error", err)
			return nil
		}
		return fmt.Errorf("line %d: %w", summary.Lines, err)
	}
	return nil
}

// readLine returns the next line without its newline. A line longer than
// maxLineBytes is consumed through its newline and reported as
// errLineTooLong. io.EOF comes with the final unterminated line, if any.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch err {
		case bufio.ErrBufferFull:
			continue
		case nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return bytes.TrimSuffix(line, []byte("\n")), nil
		default:
			if tooLong && err == io.EOF {
				// The oversized tail is counted; the caller sees EOF next.
				return nil, errLineTooLong
			}
			return line, err
		}
	}
}

func decodeLine(line []byte) (ir.Arrival, error) {
	var in inputLine
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return ir.Arrival{}, fmt.Errorf("decode: %w", err)
	}
	if in.Stream == "" {
		return ir.Arrival{}, fmt.Errorf("stream is required")
	}
	if in.Stamp == nil {
		return ir.Arrival{}, fmt.Errorf("stamp is required")
	}
	stamp, err := in.Stamp.Int64()
	if err != nil {
		return ir.Arrival{}, fmt.Errorf("stamp %q is not an integer", in.Stamp.String())
	}
	payload, err := ir.PayloadFromMap(in.Payload)
	if err != nil {
		return ir.Arrival{}, fmt.Errorf("payload: %w", err)
	}
	return ir.Arrival{Stream: in.Stream, Stamp: stamp, Payload: payload}, nil
}

func outputRunSummary(cmd *cobra.Command, format string, summary RunSummary) error {
	formatter := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}
	if format == "json" {
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Run %s (topology %s)\n", summary.RunID, summary.Topology)
	fmt.Fprintf(w, "  Lines:    %d (%d skipped)\n", summary.Lines, summary.Skipped)
	fmt.Fprintf(w, "  Arrivals: %d (%d rejected)\n", summary.Counts.Arrivals, summary.Counts.Rejected)
	fmt.Fprintf(w, "  Matches:  %d\n", summary.Counts.Matches)
	fmt.Fprintf(w, "  Drops:    %d\n", summary.Counts.Drops)
	return nil
}

// setupLogging installs the default slog handler on w. JSON output gets a
// JSON log handler so both streams stay machine-readable.
func setupLogging(w io.Writer, format string, level slog.Level) {
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}
