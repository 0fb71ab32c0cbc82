package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/stampsync/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnsupportedIRType = "E200" // unsupported IR type for validation

	ErrTopologyNameInvalid = "E201" // empty or malformed topology name
	ErrTopologyNoStreams   = "E202" // at least one stream required
	ErrStreamNameInvalid   = "E203" // empty or malformed stream name
	ErrDuplicateStreamName = "E204" // two streams share a name
	ErrNegativeDeltaT      = "E205" // delta_t must be >= 0
	ErrNegativeWindow      = "E206" // reorder_window must be >= 0
)

// identPattern is the shape of topology and stream names. Stream names end
// up in NATS subjects, URL paths and metric labels.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.TopologySpec:
		return ValidateTopology(spec)
	case ir.TopologySpec:
		return ValidateTopology(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// ValidateTopology checks naming and range rules for a topology.
func ValidateTopology(spec *ir.TopologySpec) []ValidationError {
	var errs []ValidationError

	if !identPattern.MatchString(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: nameMessage("topology", spec.Name),
			Code:    ErrTopologyNameInvalid,
		})
	}

	if spec.DeltaT < 0 {
		errs = append(errs, ValidationError{
			Field:   "delta_t",
			Message: fmt.Sprintf("delta_t must be non-negative, got %d", spec.DeltaT),
			Code:    ErrNegativeDeltaT,
		})
	}

	if spec.ReorderWindow < 0 {
		errs = append(errs, ValidationError{
			Field:   "reorder_window",
			Message: fmt.Sprintf("reorder_window must be non-negative, got %d", spec.ReorderWindow),
			Code:    ErrNegativeWindow,
		})
	}

	if len(spec.Streams) == 0 {
		errs = append(errs, ValidationError{
			Field:   "streams",
			Message: "at least one stream is required",
			Code:    ErrTopologyNoStreams,
		})
	}

	seen := make(map[string]int, len(spec.Streams))
	for i, s := range spec.Streams {
		field := fmt.Sprintf("streams[%d].name", i)
		if !identPattern.MatchString(s.Name) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: nameMessage("stream", s.Name),
				Code:    ErrStreamNameInvalid,
			})
		}
		if first, dup := seen[s.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate stream name %q (first at streams[%d])", s.Name, first),
				Code:    ErrDuplicateStreamName,
			})
			continue
		}
		seen[s.Name] = i
	}

	return errs
}

func nameMessage(kind, name string) string {
	if strings.TrimSpace(name) == "" {
		return kind + " name is required"
	}
	return fmt.Sprintf("invalid %s name %q, must match %s", kind, name, identPattern.String())
}
