package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stampsync/internal/ir"
)

// marshalPayload converts a payload to canonical JSON TEXT for storage.
func marshalPayload(payload ir.IRObject) (string, error) {
	if payload == nil {
		payload = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON TEXT back into an IRObject. Integers
// go through json.Number so values above 2^53 survive.
func unmarshalPayload(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// marshalSpec stores a topology as canonical JSON so that identical specs
// produce byte-identical rows.
func marshalSpec(spec ir.TopologySpec) (string, error) {
	streams := make(ir.IRArray, len(spec.Streams))
	for i, s := range spec.Streams {
		obj := ir.IRObject{"name": ir.IRString(s.Name)}
		if s.Description != "" {
			obj["description"] = ir.IRString(s.Description)
		}
		streams[i] = obj
	}
	data, err := ir.MarshalCanonical(ir.IRObject{
		"name":           ir.IRString(spec.Name),
		"purpose":        ir.IRString(spec.Purpose),
		"delta_t":        ir.IRInt(spec.DeltaT),
		"reorder_window": ir.IRInt(spec.ReorderWindow),
		"streams":        streams,
	})
	if err != nil {
		return "", fmt.Errorf("marshal spec: %w", err)
	}
	return string(data), nil
}

func unmarshalSpec(data string) (ir.TopologySpec, error) {
	var spec ir.TopologySpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return ir.TopologySpec{}, fmt.Errorf("unmarshal spec: %w", err)
	}
	return spec, nil
}
