package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/joblog/joblog/config"
	"github.com/ZanzyTHEbar/joblog/joblog/jobs"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type fixture struct {
	target string
	fp     string
}

// seed stores one scored job in a fresh sqlite file.
func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	target := "file:" + filepath.Join(t.TempDir(), "jobs.db")
	cfg := config.Default()
	cfg.Storage.Target = target

	f, err := jobs.Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	alg := ports.NewAlgorithm("Ridge", func(ctx context.Context, X mat.Matrix, y mat.Vector, params ports.Params) (ports.Model, error) {
		return map[string]any{"alpha": params["alpha"]}, nil
	})
	X := mat.NewDense(2, 1, []float64{1, 2})
	y := mat.NewVecDense(2, []float64{1, 0})

	job, err := f.Job(ctx, alg, X, y, ports.Params{"alpha": 0.5}, jobs.WithLabel("baseline"))
	require.NoError(t, err)
	require.NoError(t, job.SetResult(ctx, ports.SummaryMetric{Value: 0.8125}))
	_, err = job.Rerun(ctx, ports.StoreFullResult)
	require.NoError(t, err)
	require.NoError(t, job.SetAttr(ctx, "owner", "ml-team"))

	return fixture{target: target, fp: job.Fingerprint().String()}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := InitApp(&out).Run(context.Background(), append([]string{"joblog", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	fx := seed(t)

	out, err := run(t, "--target", fx.target, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, fx.fp[:12])
	assert.Contains(t, out, "Ridge")
	assert.Contains(t, out, `"baseline"`)
	assert.Contains(t, out, "full-result")
}

func TestShowCommand(t *testing.T) {
	fx := seed(t)

	out, err := run(t, "--target", fx.target, "show", fx.fp[:10])
	require.NoError(t, err)

	assert.Contains(t, out, "fingerprint: "+fx.fp)
	assert.Contains(t, out, "algorithm: Ridge")
	assert.Contains(t, out, "label: baseline")
	assert.Contains(t, out, "alpha: 0.5")
	assert.Contains(t, out, "owner: ml-team")

	_, err = run(t, "--target", fx.target, "show", "not-a-prefix")
	assert.Error(t, err)

	_, err = run(t, "--target", fx.target, "show")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	fx := seed(t)

	out, err := run(t, "--target", fx.target, "history", fx.fp[:12])
	require.NoError(t, err)

	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "full-result")
}

func TestClearCommand(t *testing.T) {
	fx := seed(t)

	_, err := run(t, "--target", fx.target, "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := run(t, "--target", fx.target, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Ridge", "a refused clear deletes nothing")

	out, err = run(t, "--target", fx.target, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, `cleared collection "default"`)

	out, err = run(t, "--target", fx.target, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "Ridge")
}

func TestCollectionFlag(t *testing.T) {
	fx := seed(t)

	out, err := run(t, "--target", fx.target, "--collection", "other", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "Ridge")
}
