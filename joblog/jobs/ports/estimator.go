package jobports

import (
	"context"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	"gonum.org/v1/gonum/mat"
)

// Params maps hyperparameter names to scalar values.
type Params = fingerprint.Params

// Model is a trained instance. It must be encodable by the configured Serializer
// to be stored as a full result.
type Model any

// Algorithm is the construction step of an external estimator: it names the
// implementation and builds an untrained estimator from hyperparameters.
type Algorithm interface {
	// Name is a stable identifier; it participates in the fingerprint.
	Name() string
	New(params Params) (Estimator, error)
}

// Estimator fits training data and produces a trained model.
type Estimator interface {
	Fit(ctx context.Context, X mat.Matrix, y mat.Vector) (Model, error)
}

// Scorer is implemented by models that can summarize their fit as a scalar.
type Scorer interface {
	Score(X mat.Matrix, y mat.Vector) (float64, error)
}

// Predictor is implemented by models that can predict targets for X.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Vector, error)
}

// FitFunc trains a model for one hyperparameter combination.
type FitFunc func(ctx context.Context, X mat.Matrix, y mat.Vector, params Params) (Model, error)

// NewAlgorithm adapts a function to the Algorithm contract.
func NewAlgorithm(name string, fit FitFunc) Algorithm {
	return funcAlgorithm{name: name, fit: fit}
}

type funcAlgorithm struct {
	name string
	fit  FitFunc
}

func (a funcAlgorithm) Name() string { return a.name }

func (a funcAlgorithm) New(params Params) (Estimator, error) {
	return funcEstimator{fit: a.fit, params: params}, nil
}

type funcEstimator struct {
	fit    FitFunc
	params Params
}

func (e funcEstimator) Fit(ctx context.Context, X mat.Matrix, y mat.Vector) (Model, error) {
	return e.fit(ctx, X, y, e.params)
}
