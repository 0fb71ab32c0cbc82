package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/stampsync/internal/ir"
)

// LoadFile compiles every topology declared in a single CUE file.
// Directories of specs are loaded by the CLI through cue/load; this is the
// lightweight path for scenario files that reference one spec.
func LoadFile(path string) ([]ir.TopologySpec, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{fmt.Errorf("read spec %s: %w", path, err)}
	}

	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return CompileTopologies(v)
}

// LoadTopology compiles path and returns the named topology, validated.
func LoadTopology(path, name string) (*ir.TopologySpec, error) {
	specs, errs := LoadFile(path)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	for i := range specs {
		if specs[i].Name != name {
			continue
		}
		if verrs := ValidateTopology(&specs[i]); len(verrs) > 0 {
			return nil, verrs[0]
		}
		return &specs[i], nil
	}
	return nil, fmt.Errorf("topology %q not found in %s", name, path)
}
