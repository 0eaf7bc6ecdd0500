package jobports

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidStoreMode is returned for an unknown store mode.
	ErrInvalidStoreMode = errors.New("invalid store mode")
	// ErrUnsupportedStoreMode is returned when the trained model lacks the
	// capability a store mode needs (Scorer or Predictor).
	ErrUnsupportedStoreMode = errors.New("store mode not supported by model")
)

// StoreMode decides what is persisted after training.
type StoreMode string

const (
	StoreFullResult    StoreMode = "full-result"
	StoreSummaryMetric StoreMode = "summary-metric"
	StorePrediction    StoreMode = "prediction"
	StoreNone          StoreMode = "none"
)

// ParseStoreMode accepts the canonical names, the aliases "classifier" and
// "score", and "" for the default full-result mode.
func ParseStoreMode(s string) (StoreMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StoreFullResult), "classifier":
		return StoreFullResult, nil
	case string(StoreSummaryMetric), "score":
		return StoreSummaryMetric, nil
	case string(StorePrediction):
		return StorePrediction, nil
	case string(StoreNone):
		return StoreNone, nil
	default:
		return "", fmt.Errorf("%w: %q (want full-result, summary-metric, prediction or none)", ErrInvalidStoreMode, s)
	}
}

// Valid reports whether m is one of the known modes.
func (m StoreMode) Valid() bool {
	switch m {
	case StoreFullResult, StoreSummaryMetric, StorePrediction, StoreNone:
		return true
	}
	return false
}

// Payload is the closed set of values a record can hold.
type Payload interface {
	Mode() StoreMode
	isPayload()
}

// FullResult is a serialized model or any other serialized value.
type FullResult struct{ Data []byte }

// SummaryMetric is the model's own score on its training data.
type SummaryMetric struct{ Value float64 }

// Prediction is the model's prediction for its training features.
type Prediction struct{ Values []float64 }

// NoResult marks a record that stores nothing.
type NoResult struct{}

func (FullResult) Mode() StoreMode    { return StoreFullResult }
func (SummaryMetric) Mode() StoreMode { return StoreSummaryMetric }
func (Prediction) Mode() StoreMode    { return StorePrediction }
func (NoResult) Mode() StoreMode      { return StoreNone }

func (FullResult) isPayload()    {}
func (SummaryMetric) isPayload() {}
func (Prediction) isPayload()    {}
func (NoResult) isPayload()      {}

// IsEmpty reports whether p carries no stored value. A full result with no
// bytes is empty: storage keeps it as NULL.
func IsEmpty(p Payload) bool {
	switch v := p.(type) {
	case nil, NoResult:
		return true
	case FullResult:
		return len(v.Data) == 0
	}
	return false
}

// EncodePayload serializes p for storage. Empty payloads encode to nil.
func EncodePayload(s Serializer, p Payload) ([]byte, error) {
	switch v := p.(type) {
	case nil, NoResult:
		return nil, nil
	case FullResult:
		if len(v.Data) == 0 {
			return nil, nil
		}
		return v.Data, nil
	case SummaryMetric:
		return s.Marshal(v.Value)
	case Prediction:
		return s.Marshal(v.Values)
	default:
		return nil, fmt.Errorf("%w: unknown payload %T", ErrSerialize, p)
	}
}

// DecodePayload rebuilds a payload from its stored mode and bytes.
// A nil result means nothing is stored.
func DecodePayload(s Serializer, mode StoreMode, data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch mode {
	case StoreFullResult:
		return FullResult{Data: data}, nil
	case StoreSummaryMetric:
		var v float64
		if err := s.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return SummaryMetric{Value: v}, nil
	case StorePrediction:
		var vs []float64
		if err := s.Unmarshal(data, &vs); err != nil {
			return nil, err
		}
		return Prediction{Values: vs}, nil
	case StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreMode, mode)
	}
}
