package jobs

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/joblog/joblog/config"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func svmGrid() Grid {
	return Grid{}.
		With("C", 0.1, 1, 10).
		With("kernel", "linear", "rbf")
}

type point struct {
	C      any
	kernel any
}

func points(t *testing.T, seq func(func(*Job, error) bool)) []point {
	t.Helper()
	var out []point
	for job, err := range seq {
		require.NoError(t, err)
		p := job.Params()
		out = append(out, point{p["C"], p["kernel"]})
	}
	return out
}

func TestFactory_IterJobsOrder(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	got := points(t, f.IterJobs(ctx, alg, X, y, svmGrid()))

	assert.Equal(t, []point{
		{0.1, "linear"}, {0.1, "rbf"},
		{1, "linear"}, {1, "rbf"},
		{10, "linear"}, {10, "rbf"},
	}, got)
	assert.Equal(t, 0, alg.fits)
}

func TestFactory_IterJobsFiltersDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	for _, p := range []ports.Params{{"C": 1, "kernel": "linear"}, {"C": 10, "kernel": "rbf"}} {
		job, err := f.Job(ctx, alg, X, y, p)
		require.NoError(t, err)
		_, err = job.Run(ctx, ports.StoreFullResult)
		require.NoError(t, err)
	}

	filtered := points(t, f.IterJobs(ctx, alg, X, y, svmGrid()))
	assert.Equal(t, []point{
		{0.1, "linear"}, {0.1, "rbf"},
		{1, "rbf"},
		{10, "linear"},
	}, filtered)

	all := points(t, f.IterJobs(ctx, alg, X, y, svmGrid(), KeepDuplicates()))
	assert.Len(t, all, 6)
}

func TestFactory_IterJobsIsRestartable(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	seq := f.IterJobs(ctx, alg, X, y, svmGrid())

	// Run the first two jobs, then stop.
	n := 0
	for job, err := range seq {
		require.NoError(t, err)
		_, err = job.Run(ctx, ports.StoreSummaryMetric)
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}

	// A new pass re-checks storage and skips what ran.
	rest := points(t, seq)
	assert.Equal(t, []point{
		{1, "linear"}, {1, "rbf"},
		{10, "linear"}, {10, "rbf"},
	}, rest)
}

func TestFactory_IterJobsSharesLabel(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	for job, err := range f.IterJobs(ctx, alg, X, y, svmGrid(), WithLabel("sweep-1")) {
		require.NoError(t, err)
		l, ok := job.Label()
		assert.True(t, ok)
		assert.Equal(t, "sweep-1", l)
		_, err = job.Run(ctx, ports.StoreNone)
		require.NoError(t, err)
	}

	// A different label is a different identity.
	assert.Len(t, points(t, f.IterJobs(ctx, alg, X, y, svmGrid(), WithLabel("sweep-2"))), 6)
	assert.Empty(t, points(t, f.IterJobs(ctx, alg, X, y, svmGrid(), WithLabel("sweep-1"))))
}

func TestFactory_IterJobsErrors(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	grid := Grid{}.With("C", 1, []int{1, 2}, 3)

	var jobs, errs int
	for job, err := range f.IterJobs(ctx, alg, X, y, grid) {
		if err != nil {
			errs++
			continue
		}
		assert.NotNil(t, job)
		jobs++
	}
	assert.Equal(t, 1, jobs)
	assert.Equal(t, 1, errs, "the first error ends the sequence")

	errs = 0
	for _, err := range f.IterJobs(ctx, alg, X, y, Grid{}.With("C", 1).With("C", 2)) {
		assert.ErrorIs(t, err, ErrInvalidGrid)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestFactory_ClearJobs(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	job, err := f.Job(ctx, alg, X, y, ports.Params{"C": 1})
	require.NoError(t, err)
	_, err = job.Run(ctx, ports.StoreFullResult)
	require.NoError(t, err)

	dup, err := f.Job(ctx, alg, X, y, ports.Params{"C": 1})
	require.NoError(t, err)
	require.True(t, dup.Duplicate())

	require.NoError(t, f.ClearJobs(ctx))

	fresh, err := f.Job(ctx, alg, X, y, ports.Params{"C": 1})
	require.NoError(t, err)
	assert.False(t, fresh.Duplicate())

	records, err := f.Records(ctx, ports.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFactory_LookupAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory()
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	job, err := f.Job(ctx, alg, X, y, ports.Params{"C": 1})
	require.NoError(t, err)
	_, err = job.Run(ctx, ports.StoreSummaryMetric)
	require.NoError(t, err)
	_, err = job.Rerun(ctx, ports.StoreSummaryMetric)
	require.NoError(t, err)

	rec, err := f.Lookup(ctx, job.Fingerprint().Short())
	require.NoError(t, err)
	assert.Equal(t, job.Fingerprint(), rec.Fingerprint)
	assert.Equal(t, "SVC", rec.Algorithm)
	assert.Equal(t, ports.Params{"C": int64(1)}, rec.Params)

	rec, err = f.Lookup(ctx, job.Fingerprint().String())
	require.NoError(t, err)
	assert.Equal(t, ports.SummaryMetric{Value: 0.5}, rec.Payload)

	history, err := f.History(ctx, job.Fingerprint())
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, e := range history {
		assert.Equal(t, ports.RunSucceeded, e.Status)
		assert.NotEmpty(t, e.ID)
	}
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestFactory_TracerSeesLifecycle(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.Storage.Target = "mem://"
	cfg.Tracing.Enabled = true

	f, err := Open(ctx, cfg, zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	defer f.Close()

	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()
	job, err := f.Job(ctx, alg, X, y, nil)
	require.NoError(t, err)
	_, err = job.Run(ctx, ports.StoreFullResult)
	require.NoError(t, err)
	_, err = job.Run(ctx, ports.StoreFullResult)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"span":"job.train"`)
	assert.Contains(t, out, `"event":"job.cache_hit"`)
}

// OpenTestSuite exercises factories built from configuration.
type OpenTestSuite struct {
	suite.Suite
	ctx context.Context
	dir string
}

func TestOpenSuite(t *testing.T) {
	suite.Run(t, new(OpenTestSuite))
}

func (s *OpenTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
}

func (s *OpenTestSuite) config() *config.Config {
	cfg := config.Default()
	cfg.Storage.DataDir = s.dir
	cfg.Storage.Collection = "svm"
	return cfg
}

func (s *OpenTestSuite) open(cfg *config.Config) *Factory {
	f, err := Open(s.ctx, cfg, zerolog.Nop())
	s.Require().NoError(err)
	s.T().Cleanup(func() { f.Close() })
	return f
}

func (s *OpenTestSuite) TestLocalSQLitePersistsAcrossFactories() {
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	first := s.open(s.config())
	job, err := first.Job(s.ctx, alg, X, y, ports.Params{"C": 1})
	s.Require().NoError(err)
	_, err = job.Run(s.ctx, ports.StoreFullResult)
	s.Require().NoError(err)
	s.Require().NoError(first.Close())

	s.FileExists(filepath.Join(s.dir, "job.db"))

	second := s.open(s.config())
	dup, err := second.Job(s.ctx, alg, X, y, ports.Params{"C": 1})
	s.Require().NoError(err)
	s.True(dup.Duplicate())

	res, err := dup.Run(s.ctx, ports.StoreFullResult)
	s.Require().NoError(err)
	s.True(res.Cached)
	s.Equal(1, alg.fits)

	var model meanModel
	s.Require().NoError(dup.DecodeResult(&model))
	s.Equal(0.5, model.Mean)
}

func (s *OpenTestSuite) TestCollectionsAreIndependent() {
	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()

	a := s.open(s.config())
	other := s.config()
	other.Storage.Collection = "ridge"
	b := s.open(other)

	job, err := a.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	_, err = job.Run(s.ctx, ports.StoreNone)
	s.Require().NoError(err)

	fromB, err := b.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	s.False(fromB.Duplicate())

	s.Require().NoError(b.ClearJobs(s.ctx))
	fromA, err := a.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	s.True(fromA.Duplicate())
}

func (s *OpenTestSuite) TestMemoryTarget() {
	cfg := s.config()
	cfg.Storage.Target = "mem://"
	f := s.open(cfg)

	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()
	job, err := f.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	_, err = job.Run(s.ctx, ports.StoreSummaryMetric)
	s.Require().NoError(err)

	dup, err := f.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	s.True(dup.Duplicate())
	s.NoFileExists(filepath.Join(s.dir, "job.db"))
}

func (s *OpenTestSuite) TestCacheAndBlobOffload() {
	cfg := s.config()
	cfg.Cache.Enabled = true
	cfg.Blobs.Backend = "memory"
	cfg.Blobs.ThresholdBytes = 8
	f := s.open(cfg)

	alg := &StubAlgorithm{name: "SVC"}
	X, y := trainingData()
	job, err := f.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	_, err = job.Run(s.ctx, ports.StoreFullResult)
	s.Require().NoError(err)

	for range 2 {
		dup, err := f.Job(s.ctx, alg, X, y, nil)
		s.Require().NoError(err)
		s.True(dup.Duplicate())

		var model meanModel
		s.Require().NoError(dup.DecodeResult(&model))
		s.Equal(0.5, model.Mean)
	}

	rec, err := f.Lookup(s.ctx, job.Fingerprint().Short())
	s.Require().NoError(err)
	s.True(strings.HasPrefix(rec.BlobRef, "joblog/svm/"+job.Fingerprint().String()+"/"), rec.BlobRef)

	s.Require().NoError(f.ClearJobs(s.ctx))
	fresh, err := f.Job(s.ctx, alg, X, y, nil)
	s.Require().NoError(err)
	s.False(fresh.Duplicate())
}

func (s *OpenTestSuite) TestRejectsInvalidConfig() {
	cfg := s.config()
	cfg.Storage.Target = "mongodb://localhost"
	_, err := Open(s.ctx, cfg, zerolog.Nop())
	s.Error(err)

	cfg = s.config()
	cfg.Storage.Collection = ""
	_, err = Open(s.ctx, cfg, zerolog.Nop())
	s.Error(err)
}

func TestNewFactoryCloseLeavesStoreOpen(t *testing.T) {
	store := &closeCountingStore{Store: newTestFactory().store}
	f := NewFactory(store)
	require.NoError(t, f.Close())
	assert.Equal(t, 0, store.closes)
}

type closeCountingStore struct {
	ports.Store
	closes int
}

func (s *closeCountingStore) Close() error {
	s.closes++
	return errors.New("should not be called")
}
