package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// ErrNoResult is returned when a job has no attached result to decode.
var ErrNoResult = errors.New("job has no result")

// State is the lifecycle position of a job.
type State int

const (
	StateUnchecked State = iota
	StateNew
	StateDuplicate
	StateRan
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateNew:
		return "new"
	case StateDuplicate:
		return "duplicate"
	case StateRan:
		return "ran"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is what Run and Rerun return. Model is the freshly trained model and
// is nil when the stored payload was served instead.
type Result struct {
	Model   ports.Model
	Payload ports.Payload
	Cached  bool
}

// Job is one memoized training computation. A Job is not safe for concurrent use.
type Job struct {
	algorithm ports.Algorithm
	x         mat.Matrix
	y         mat.Vector
	params    ports.Params
	canonical ports.Params
	label     *string
	fp        fingerprint.Fingerprint

	state     State
	duplicate bool
	payload   ports.Payload

	store      ports.Store
	serializer ports.Serializer
	tracer     ports.Tracer
	logger     zerolog.Logger
}

// Fingerprint identifies the job's computation.
func (j *Job) Fingerprint() fingerprint.Fingerprint { return j.fp }

// State returns the current lifecycle state.
func (j *Job) State() State { return j.state }

// Duplicate reports whether a record with the same fingerprint existed when the job was created.
func (j *Job) Duplicate() bool { return j.duplicate }

// Algorithm returns the algorithm the job trains.
func (j *Job) Algorithm() ports.Algorithm { return j.algorithm }

// Params returns a copy of the hyperparameters.
func (j *Job) Params() ports.Params { return j.params.Clone() }

// Label returns the label and whether one was given.
func (j *Job) Label() (string, bool) {
	if j.label == nil {
		return "", false
	}
	return *j.label, true
}

// Result returns the attached payload, or nil.
func (j *Job) Result() ports.Payload { return j.payload }

// check looks the fingerprint up and attaches any stored payload.
func (j *Job) check(ctx context.Context) error {
	rec, err := j.store.Find(ctx, j.fp)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		j.state = StateNew
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up job %s: %w", j.fp.Short(), err)
	}

	j.state = StateDuplicate
	j.duplicate = true
	j.attach(rec.Payload)
	return nil
}

func (j *Job) attach(p ports.Payload) {
	if ports.IsEmpty(p) {
		j.payload = nil
		return
	}
	j.payload = p
}

// Run trains the model unless a stored result is attached, in which case that
// result is returned without training.
func (j *Job) Run(ctx context.Context, mode ports.StoreMode) (Result, error) {
	mode, err := ports.ParseStoreMode(string(mode))
	if err != nil {
		return Result{}, err
	}

	if j.payload != nil {
		j.tracer.Event(ctx, "job.cache_hit", map[string]any{
			"fingerprint": j.fp.Short(),
			"mode":        string(j.payload.Mode()),
		})
		return Result{Payload: j.payload, Cached: true}, nil
	}

	return j.train(ctx, mode)
}

// Rerun always trains and overwrites the stored record.
func (j *Job) Rerun(ctx context.Context, mode ports.StoreMode) (Result, error) {
	mode, err := ports.ParseStoreMode(string(mode))
	if err != nil {
		return Result{}, err
	}
	return j.train(ctx, mode)
}

func (j *Job) train(ctx context.Context, mode ports.StoreMode) (res Result, err error) {
	ctx, finish := j.tracer.StartSpan(ctx, "job.train", map[string]any{
		"fingerprint": j.fp.Short(),
		"algorithm":   j.algorithm.Name(),
		"mode":        string(mode),
	})
	started := time.Now()
	defer func() {
		j.appendRun(ctx, mode, started, err)
		finish(err)
	}()

	est, err := j.algorithm.New(j.params.Clone())
	if err != nil {
		return Result{}, err
	}
	model, err := est.Fit(ctx, j.x, j.y)
	if err != nil {
		return Result{}, err
	}

	payload, err := j.apply(model, mode)
	if err != nil {
		return Result{}, err
	}

	rec := j.record()
	rec.Mode = mode
	rec.Payload = payload
	if err := j.store.UpsertResult(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("failed to store result of job %s: %w", j.fp.Short(), err)
	}

	j.state = StateRan
	j.attach(payload)

	j.logger.Debug().
		Str("fingerprint", j.fp.Short()).
		Str("mode", string(mode)).
		Dur("elapsed", time.Since(started)).
		Msg("Trained job")

	return Result{Model: model, Payload: payload}, nil
}

// apply turns a trained model into the payload the mode persists.
func (j *Job) apply(model ports.Model, mode ports.StoreMode) (ports.Payload, error) {
	switch mode {
	case ports.StoreFullResult:
		data, err := j.serializer.Marshal(model)
		if err != nil {
			return nil, err
		}
		return ports.FullResult{Data: data}, nil

	case ports.StoreSummaryMetric:
		scorer, ok := model.(ports.Scorer)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a Score method on %T", ports.ErrUnsupportedStoreMode, mode, model)
		}
		v, err := scorer.Score(j.x, j.y)
		if err != nil {
			return nil, fmt.Errorf("failed to score model: %w", err)
		}
		return ports.SummaryMetric{Value: v}, nil

	case ports.StorePrediction:
		predictor, ok := model.(ports.Predictor)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a Predict method on %T", ports.ErrUnsupportedStoreMode, mode, model)
		}
		pred, err := predictor.Predict(j.x)
		if err != nil {
			return nil, fmt.Errorf("failed to predict: %w", err)
		}
		values := make([]float64, pred.Len())
		for i := range values {
			values[i] = pred.AtVec(i)
		}
		return ports.Prediction{Values: values}, nil

	case ports.StoreNone:
		return ports.NoResult{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ports.ErrInvalidStoreMode, mode)
	}
}

// appendRun records the execution in the run log. A failed append is logged,
// never returned: the log does not take part in caching.
func (j *Job) appendRun(ctx context.Context, mode ports.StoreMode, started time.Time, runErr error) {
	entry := ports.RunEntry{
		ID:          uuid.NewString(),
		Fingerprint: j.fp,
		Algorithm:   j.algorithm.Name(),
		Mode:        mode,
		Status:      ports.RunSucceeded,
		StartedAt:   started,
		Duration:    time.Since(started),
	}
	if runErr != nil {
		entry.Status = ports.RunFailed
		entry.Error = runErr.Error()
	}

	if err := j.store.AppendRun(ctx, entry); err != nil {
		j.logger.Warn().Err(err).Str("fingerprint", j.fp.Short()).Msg("Could not append run log entry")
	}
}

// SetResult persists p as the job's result without training. A nil payload
// clears the stored result.
func (j *Job) SetResult(ctx context.Context, p ports.Payload) error {
	if p == nil {
		p = ports.NoResult{}
	}

	rec := j.record()
	rec.Mode = p.Mode()
	rec.Payload = p
	if err := j.store.UpsertResult(ctx, rec); err != nil {
		return fmt.Errorf("failed to store result of job %s: %w", j.fp.Short(), err)
	}

	j.attach(p)
	j.tracer.Event(ctx, "job.result_set", map[string]any{
		"fingerprint": j.fp.Short(),
		"mode":        string(p.Mode()),
	})
	return nil
}

// SetResultValue serializes v and persists it as a full result. Payload values
// are stored as they are.
func (j *Job) SetResultValue(ctx context.Context, v any) error {
	if p, ok := v.(ports.Payload); ok {
		return j.SetResult(ctx, p)
	}
	data, err := j.serializer.Marshal(v)
	if err != nil {
		return err
	}
	return j.SetResult(ctx, ports.FullResult{Data: data})
}

// ClearResult removes the stored payload but keeps the record.
func (j *Job) ClearResult(ctx context.Context) error {
	return j.SetResult(ctx, ports.NoResult{})
}

// DecodeResult deserializes an attached full result into v.
func (j *Job) DecodeResult(v any) error {
	switch p := j.payload.(type) {
	case nil:
		return fmt.Errorf("%w: %s", ErrNoResult, j.fp.Short())
	case ports.FullResult:
		return j.serializer.Unmarshal(p.Data, v)
	default:
		return fmt.Errorf("cannot decode a %s result of job %s", p.Mode(), j.fp.Short())
	}
}

// Reload re-reads the record and re-attaches its payload. A job whose record
// no longer exists ends up with no result.
func (j *Job) Reload(ctx context.Context) error {
	rec, err := j.store.Find(ctx, j.fp)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		j.payload = nil
		return nil
	case err != nil:
		return fmt.Errorf("failed to reload job %s: %w", j.fp.Short(), err)
	}
	j.attach(rec.Payload)
	return nil
}

// Attr returns a stored attribute of the job's record.
func (j *Job) Attr(ctx context.Context, key string) (any, error) {
	rec, err := j.store.Find(ctx, j.fp)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ports.ErrNoAttribute, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute %q: %w", key, err)
	}
	v, ok := rec.Attributes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ports.ErrNoAttribute, key)
	}
	return v, nil
}

// SetAttr stores an attribute on the job's record, creating the record when
// needed. The payload is left untouched.
func (j *Job) SetAttr(ctx context.Context, key string, value any) error {
	attrs := map[string]any{}
	rec, err := j.store.Find(ctx, j.fp)
	switch {
	case err == nil:
		maps.Copy(attrs, rec.Attributes)
	case !errors.Is(err, ports.ErrNotFound):
		return fmt.Errorf("failed to read attributes of job %s: %w", j.fp.Short(), err)
	}
	attrs[key] = value

	next := j.record()
	next.Attributes = attrs
	if err := j.store.UpsertAttributes(ctx, next); err != nil {
		return fmt.Errorf("failed to store attribute %q: %w", key, err)
	}
	return nil
}

func (j *Job) record() *ports.Record {
	return &ports.Record{
		Fingerprint: j.fp,
		Collection:  j.store.Collection(),
		Algorithm:   j.algorithm.Name(),
		Params:      j.canonical.Clone(),
		Label:       j.label,
	}
}
