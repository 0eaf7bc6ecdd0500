package fingerprint

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Params maps hyperparameter names to scalar values.
type Params map[string]any

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// paramsSchema accepts an object of scalar values with non-empty names.
const paramsSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"propertyNames": {"minLength": 1},
	"additionalProperties": {"type": ["string", "number", "integer", "boolean", "null"]}
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(paramsSchema))
})

// Validate checks that every value of p is a scalar.
func Validate(p Params) error {
	if len(p) == 0 {
		return nil
	}

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile params schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(p)))
	if err != nil {
		// NaN, Inf and values encoding/json refuses end up here.
		return fmt.Errorf("%w: hyperparameters are not serializable: %v", ErrInvalidInput, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
	}

	return nil
}

// Canonical validates p and returns the normalized map that is hashed.
// Every integer kind becomes int64 (uint64 above MaxInt64 stays uint64),
// floats become float64, and integral floats become int64, so that 1 and 1.0
// identify the same hyperparameter value.
func Canonical(p Params) (map[string]any, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(p))
	for k, v := range p {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%w: hyperparameter %q: %v", ErrInvalidInput, k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u), nil
		}
		return u, nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite value %v", f)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	return f, nil
}
