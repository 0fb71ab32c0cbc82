package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stampsync/internal/ir"
	"github.com/roach88/stampsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Stream   string // optional - filter to one stream
}

// Timeline event types.
const (
	timelineArrival = "arrival"
	timelineMatch   = "match"
	timelineDrop    = "drop"
)

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq         int64                  `json:"seq"`
	Type        string                 `json:"type"` // "arrival", "match" or "drop"
	ID          string                 `json:"id"`
	Stream      string                 `json:"stream,omitempty"`
	Stamp       int64                  `json:"stamp,omitempty"`
	Disposition string                 `json:"disposition,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Stamps      []int64                `json:"stamps,omitempty"`
	Spread      int64                  `json:"spread,omitempty"`
}

// MembershipEdge links a match to one of its member samples.
type MembershipEdge struct {
	Match  string `json:"match"`
	Stream string `json:"stream"`
	Sample string `json:"sample"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID      string           `json:"run_id"`
	Topology   string           `json:"topology"`
	Timeline   []TraceEvent     `json:"timeline"`
	Membership []MembershipEdge `json:"membership"`
	Stats      TraceStats       `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Arrivals    int `json:"arrivals"`
	Rejected    int `json:"rejected"`
	Matches     int `json:"matches"`
	Drops       int `json:"drops"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the event log of a run",
		Long: `Show the stored event log of a single run.

The output includes:
- Timeline: arrivals, matches and drops in sequence order
- Membership: which samples each match consumed
- Stats: summary counts for the run

Examples:
  stampsync trace --db ./stampsync.db --run 0190a1b2-...
  stampsync trace --db ./stampsync.db --run 0190a1b2-... --stream lidar
  stampsync trace --db ./stampsync.db --run 0190a1b2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "filter to one stream")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID), err)
	}

	arrivals, err := st.ReadArrivals(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read arrivals", err)
	}
	matches, err := st.ReadMatches(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read matches", err)
	}
	drops, err := st.ReadDrops(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read drops", err)
	}

	result := TraceResult{
		RunID:      run.ID,
		Topology:   run.Topology.Name,
		Timeline:   buildTimeline(arrivals, matches, drops, opts.Stream),
		Membership: buildMembership(matches, opts.Stream),
		Stats:      buildStats(arrivals, matches, drops),
	}
	result.Stats.TotalEvents = len(result.Timeline)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}

	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTimeline merges the three logs into one seq-ordered timeline.
// When streamFilter is set, arrivals and drops on other streams are
// omitted; matches always span every stream and are kept.
func buildTimeline(arrivals []ir.ArrivalRecord, matches []ir.Match, drops []ir.Drop, streamFilter string) []TraceEvent {
	timeline := []TraceEvent{}

	for _, a := range arrivals {
		if streamFilter != "" && a.Stream != streamFilter {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:         a.Seq,
			Type:        timelineArrival,
			ID:          a.ID,
			Stream:      a.Stream,
			Stamp:       a.Stamp,
			Disposition: string(a.Disposition),
			Payload:     irObjectToMap(a.Payload),
		})
	}

	for _, m := range matches {
		timeline = append(timeline, TraceEvent{
			Seq:    m.Seq,
			Type:   timelineMatch,
			ID:     m.ID,
			Stamps: m.Stamps(),
			Spread: m.Spread(),
		})
	}

	for _, d := range drops {
		if streamFilter != "" && d.Sample.Stream != streamFilter {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:    d.Seq,
			Type:   timelineDrop,
			ID:     d.Sample.ID,
			Stream: d.Sample.Stream,
			Stamp:  d.Sample.Stamp,
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].Seq < timeline[j].Seq })
	return timeline
}

func buildMembership(matches []ir.Match, streamFilter string) []MembershipEdge {
	edges := []MembershipEdge{}
	for _, m := range matches {
		for _, s := range m.Samples {
			if streamFilter != "" && s.Stream != streamFilter {
				continue
			}
			edges = append(edges, MembershipEdge{Match: m.ID, Stream: s.Stream, Sample: s.ID})
		}
	}
	return edges
}

func buildStats(arrivals []ir.ArrivalRecord, matches []ir.Match, drops []ir.Drop) TraceStats {
	stats := TraceStats{
		Arrivals: len(arrivals),
		Matches:  len(matches),
		Drops:    len(drops),
	}
	for _, a := range arrivals {
		if a.Disposition == ir.DispositionRejected {
			stats.Rejected++
		}
	}
	return stats
}

// irObjectToMap converts an ir.IRObject to a plain map.
func irObjectToMap(obj ir.IRObject) map[string]interface{} {
	if len(obj) == 0 {
		return nil
	}

	result := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		result[k] = irValueToInterface(v)
	}
	return result
}

// irValueToInterface converts an ir.IRValue to a plain interface{}.
func irValueToInterface(v ir.IRValue) interface{} {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return int64(val)
	case ir.IRBool:
		return bool(val)
	case ir.IRArray:
		result := make([]interface{}, len(val))
		for i, elem := range val {
			result[i] = irValueToInterface(elem)
		}
		return result
	case ir.IRObject:
		return irObjectToMap(val)
	default:
		return nil
	}
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return writeResponse(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for Run: %s\n", result.RunID)
	fmt.Fprintf(w, "Topology: %s\n", result.Topology)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Membership ===")
	if len(result.Membership) == 0 {
		fmt.Fprintln(w, "  (no matches)")
	} else {
		for _, edge := range result.Membership {
			fmt.Fprintf(w, "  %s <- %s %s\n", truncateID(edge.Match), edge.Stream, truncateID(edge.Sample))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Arrivals:     %d (%d rejected)\n", result.Stats.Arrivals, result.Stats.Rejected)
	fmt.Fprintf(w, "  Matches:      %d\n", result.Stats.Matches)
	fmt.Fprintf(w, "  Drops:        %d\n", result.Stats.Drops)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Type {
	case timelineArrival:
		suffix := ""
		if event.Disposition == string(ir.DispositionRejected) {
			suffix = " (rejected)"
		}
		fmt.Fprintf(w, "  [%d] ARR  %s@%d%s\n", event.Seq, event.Stream, event.Stamp, suffix)
		if verbose && len(event.Payload) > 0 {
			fmt.Fprintf(w, "       Payload: %s\n", formatArgs(event.Payload))
		}
	case timelineMatch:
		fmt.Fprintf(w, "  [%d] MATCH %v spread=%d\n", event.Seq, event.Stamps, event.Spread)
	case timelineDrop:
		fmt.Fprintf(w, "  [%d] DROP %s@%d\n", event.Seq, event.Stream, event.Stamp)
	}
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
	}
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
