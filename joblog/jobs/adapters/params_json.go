package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
)

// marshalMap stores hyperparameters and attributes as JSON text, readable
// with the database's own JSON functions.
func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal map: %v", ports.ErrSerialize, err)
	}
	return string(b), nil
}

// unmarshalMap decodes JSON text, keeping integers as int64 and other numbers as float64.
func unmarshalMap(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal map: %v", ports.ErrSerialize, err)
	}

	for k, v := range out {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
			} else if f, err := n.Float64(); err == nil {
				out[k] = f
			}
		}
	}
	return out, nil
}
