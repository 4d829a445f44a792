// Package effconfig implements the deep-merge semantics used to validate
// or re-derive a canonical effective-config snapshot attached to a
// JobSpec. The core never performs host-side repo-config layering
// itself; this package exists so the worker can confirm a received
// effective_config was produced by merging layers the way the host
// claims it did.
package effconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Merge deep-merges layers in order: the first is the base, the last has
// highest precedence. Objects deep-merge key by key; arrays and scalars
// are replaced wholesale by the overlay, including an explicit null.
func Merge(layers ...json.RawMessage) (json.RawMessage, error) {
	var result any
	for i, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		var decoded any
		dec := json.NewDecoder(bytes.NewReader(layer))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("effconfig: decode layer %d: %w", i, err)
		}
		result = deepMerge(result, decoded)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("effconfig: marshal merged result: %w", err)
	}
	return out, nil
}

// deepMerge merges overlay onto base. Two objects merge key by key,
// recursively; anything else (arrays, scalars, a type change, an
// explicit null overlay) is replaced wholesale by overlay.
func deepMerge(base, overlay any) any {
	baseMap, baseIsObj := base.(map[string]any)
	overlayMap, overlayIsObj := overlay.(map[string]any)
	if !baseIsObj || !overlayIsObj {
		return overlay
	}

	merged := make(map[string]any, len(baseMap)+len(overlayMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for k, overlayVal := range overlayMap {
		if baseVal, ok := merged[k]; ok {
			merged[k] = deepMerge(baseVal, overlayVal)
		} else {
			merged[k] = overlayVal
		}
	}
	return merged
}
