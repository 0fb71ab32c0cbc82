package compiler

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/stampsync/internal/ir"
)

// CompileTopology parses a CUE value into a TopologySpec.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The value must be the topology struct itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`topology: lidar_camera: { ... }`)
//	spec, err := CompileTopology(v.LookupPath(cue.ParsePath("topology.lidar_camera")))
//
// CompileTopology checks shape only. Naming and range rules are enforced by
// Validate, which reports every problem at once.
func CompileTopology(v cue.Value) (*ir.TopologySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.TopologySpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	if purposeVal := v.LookupPath(cue.ParsePath("purpose")); purposeVal.Exists() {
		purpose, err := purposeVal.String()
		if err != nil {
			return nil, &CompileError{Field: "purpose", Message: "purpose must be a string", Pos: purposeVal.Pos()}
		}
		spec.Purpose = purpose
	}

	var err error
	spec.DeltaT, err = optionalInt(v, "delta_t")
	if err != nil {
		return nil, err
	}
	spec.ReorderWindow, err = optionalInt(v, "reorder_window")
	if err != nil {
		return nil, err
	}

	spec.Streams, err = parseStreams(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Streams) == 0 {
		return nil, &CompileError{
			Field:   "streams",
			Message: "at least one stream is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// CompileTopologies compiles every field under the top-level "topology"
// struct of v, sorted by name. A missing "topology" struct yields no specs.
func CompileTopologies(v cue.Value) ([]ir.TopologySpec, []error) {
	topoVal := v.LookupPath(cue.ParsePath("topology"))
	if !topoVal.Exists() {
		return nil, nil
	}

	iter, err := topoVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		specs []ir.TopologySpec
		errs  []error
	)
	for iter.Next() {
		spec, err := CompileTopology(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("topology.%s: %w", iter.Label(), err))
			continue
		}
		specs = append(specs, *spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, errs
}

// parseStreams reads the streams list. Each entry is either a bare string
// or a {name, description?} struct.
func parseStreams(v cue.Value) ([]ir.StreamSpec, error) {
	streamsVal := v.LookupPath(cue.ParsePath("streams"))
	if !streamsVal.Exists() {
		return nil, &CompileError{
			Field:   "streams",
			Message: "streams is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := streamsVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "streams",
			Message: "streams must be a list",
			Pos:     streamsVal.Pos(),
		}
	}

	var streams []ir.StreamSpec
	for i := 0; iter.Next(); i++ {
		elem := iter.Value()
		field := fmt.Sprintf("streams[%d]", i)

		if name, err := elem.String(); err == nil {
			streams = append(streams, ir.StreamSpec{Name: name})
			continue
		}

		nameVal := elem.LookupPath(cue.ParsePath("name"))
		if !nameVal.Exists() {
			return nil, &CompileError{Field: field + ".name", Message: "stream name is required", Pos: elem.Pos()}
		}
		name, err := nameVal.String()
		if err != nil {
			return nil, &CompileError{Field: field + ".name", Message: "stream name must be a string", Pos: nameVal.Pos()}
		}

		stream := ir.StreamSpec{Name: name}
		if descVal := elem.LookupPath(cue.ParsePath("description")); descVal.Exists() {
			desc, err := descVal.String()
			if err != nil {
				return nil, &CompileError{Field: field + ".description", Message: "description must be a string", Pos: descVal.Pos()}
			}
			stream.Description = desc
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// optionalInt reads an integer field, defaulting to 0. Floats are rejected:
// stamps and gaps are integer ticks.
func optionalInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}

	switch fv.IncompleteKind() {
	case cue.IntKind:
	case cue.FloatKind, cue.NumberKind:
		return 0, &CompileError{
			Field:   field,
			Message: "float values are forbidden, use an integer tick count",
			Pos:     fv.Pos(),
		}
	default:
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be an int, got %v", field, fv.IncompleteKind()),
			Pos:     fv.Pos(),
		}
	}

	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
