// Package jobs memoizes model training. A Factory creates Jobs whose identity
// is the fingerprint of their inputs; a Job finds its stored result by that
// fingerprint and only trains when none is attached.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/ZanzyTHEbar/joblog/joblog/config"
	"github.com/ZanzyTHEbar/joblog/joblog/db"
	"github.com/ZanzyTHEbar/joblog/joblog/fingerprint"
	"github.com/ZanzyTHEbar/joblog/joblog/jobs/adapters"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Factory creates jobs that share one store.
type Factory struct {
	store      ports.Store
	serializer ports.Serializer
	tracer     ports.Tracer
	logger     zerolog.Logger
	conn       *db.Conn
	owned      bool // store and conn were built by Open
}

// NewFactory creates a factory over an existing store. The caller keeps
// ownership of the store.
func NewFactory(store ports.Store, opts ...Option) *Factory {
	f := &Factory{
		store:      store,
		serializer: adapters.NewCBORSerializer(),
		tracer:     &noOpTracer{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open builds the store stack described by cfg and returns a factory that owns it.
// A nil cfg uses config.Default.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Factory, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	serializer := adapters.NewCBORSerializer()

	store, conn, err := createStore(ctx, cfg.Storage, serializer, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		store = adapters.NewCachedStore(store, adapters.NewLRUCache(cfg.Cache.Capacity), serializer, cfg.Cache.TTL, logger)
	}

	blobs, err := createBlobStore(ctx, cfg.Blobs, logger)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	if blobs != nil {
		store = adapters.NewOffloadStore(store, blobs, cfg.Blobs.ThresholdBytes, cfg.Blobs.Prefix, logger)
	}

	f := NewFactory(store,
		WithSerializer(serializer),
		WithTracer(createTracer(cfg.Tracing, logger)),
		WithLogger(logger),
	)
	f.conn = conn
	f.owned = true

	logger.Debug().
		Str("collection", store.Collection()).
		Bool("cache", cfg.Cache.Enabled).
		Str("blobs", cfg.Blobs.Backend).
		Msg("Opened job factory")

	return f, nil
}

func createStore(ctx context.Context, cfg config.StorageConfig, serializer ports.Serializer, logger zerolog.Logger) (ports.Store, *db.Conn, error) {
	target, err := db.ResolveTarget(cfg)
	if err != nil {
		return nil, nil, err
	}
	if target.Kind == db.KindMemory {
		return adapters.NewMemoryStore(cfg.Collection), nil, nil
	}

	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return adapters.NewSQLStore(conn.DB, conn.Dialect, cfg.Collection, serializer, logger), conn, nil
}

func createBlobStore(ctx context.Context, cfg config.BlobConfig, logger zerolog.Logger) (ports.BlobStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return adapters.NewMemoryBlobStore(), nil
	case "s3":
		return adapters.NewS3BlobStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Backend)
	}
}

func createTracer(cfg config.TracingConfig, logger zerolog.Logger) ports.Tracer {
	if !cfg.Enabled {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(logger)
}

// Close releases the store and connection built by Open. It does nothing for
// a factory from NewFactory.
func (f *Factory) Close() error {
	if !f.owned {
		return nil
	}
	err := f.store.Close()
	if f.conn != nil {
		err = errors.Join(err, f.conn.Close())
	}
	return err
}

// Collection names the namespace the factory's jobs live in.
func (f *Factory) Collection() string {
	return f.store.Collection()
}

// Job fingerprints the inputs and checks the store for an existing record.
func (f *Factory) Job(ctx context.Context, alg ports.Algorithm, X mat.Matrix, y mat.Vector, params ports.Params, opts ...JobOption) (*Job, error) {
	o := applyJobOptions(opts)
	return f.newJob(ctx, alg, X, y, params, o.label)
}

func (f *Factory) newJob(ctx context.Context, alg ports.Algorithm, X mat.Matrix, y mat.Vector, params ports.Params, label *string) (*Job, error) {
	if alg == nil {
		return nil, fmt.Errorf("%w: nil algorithm", fingerprint.ErrInvalidInput)
	}

	canonical, err := fingerprint.Canonical(params)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.Compute(fingerprint.Inputs{
		Algorithm: alg.Name(),
		X:         X,
		Y:         y,
		Params:    params,
		Label:     label,
	})
	if err != nil {
		return nil, err
	}

	j := &Job{
		algorithm:  alg,
		x:          X,
		y:          y,
		params:     params.Clone(),
		canonical:  canonical,
		label:      label,
		fp:         fp,
		state:      StateUnchecked,
		store:      f.store,
		serializer: f.serializer,
		tracer:     f.tracer,
		logger:     f.logger,
	}
	if j.params == nil {
		j.params = ports.Params{}
	}

	if err := j.check(ctx); err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("fingerprint", fp.Short()).
		Str("algorithm", alg.Name()).
		Str("state", j.state.String()).
		Msg("Created job")

	return j, nil
}

// IterJobs yields one job per grid point, in grid order. Jobs that already
// have a record are skipped unless KeepDuplicates is given. Each point is
// checked against the store as it is produced. The first error is yielded
// once and ends the sequence.
func (f *Factory) IterJobs(ctx context.Context, alg ports.Algorithm, X mat.Matrix, y mat.Vector, grid Grid, opts ...JobOption) iter.Seq2[*Job, error] {
	o := applyJobOptions(opts)

	return func(yield func(*Job, error) bool) {
		if err := grid.Validate(); err != nil {
			yield(nil, err)
			return
		}

		skipped := 0
		for params := range grid.Points() {
			job, err := f.newJob(ctx, alg, X, y, params, o.label)
			if err != nil {
				yield(nil, err)
				return
			}
			if job.Duplicate() && !o.keepDuplicates {
				skipped++
				continue
			}
			if !yield(job, nil) {
				return
			}
		}

		if skipped > 0 {
			f.logger.Debug().Int("skipped", skipped).Msg("Skipped duplicate jobs")
		}
	}
}

// ClearJobs deletes every record of the collection. It cannot be undone.
func (f *Factory) ClearJobs(ctx context.Context) error {
	if err := f.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear collection %q: %w", f.store.Collection(), err)
	}
	f.tracer.Event(ctx, "jobs.cleared", map[string]any{"collection": f.store.Collection()})
	return nil
}

// Records lists stored records, most recently updated first.
func (f *Factory) Records(ctx context.Context, opts ports.ListOptions) ([]*ports.Record, error) {
	return f.store.List(ctx, opts)
}

// Lookup finds a record by full fingerprint or unique hex prefix.
func (f *Factory) Lookup(ctx context.Context, prefix string) (*ports.Record, error) {
	if fp, err := fingerprint.Parse(prefix); err == nil {
		return f.store.Find(ctx, fp)
	}
	return f.store.FindByPrefix(ctx, prefix)
}

// History returns the run log of fp, oldest first.
func (f *Factory) History(ctx context.Context, fp fingerprint.Fingerprint) ([]ports.RunEntry, error) {
	return f.store.Runs(ctx, fp)
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure no-op types implement their interfaces.
var _ ports.Tracer = (*noOpTracer)(nil)
