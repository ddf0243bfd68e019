package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/couchcryptid/watertag-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transformFixture struct {
	store   *memStore
	metrics *observability.Metrics
	tfm     *pipeline.JobTransformer
	dataDir string
}

func newTransformFixture(t *testing.T) *transformFixture {
	t.Helper()
	freezeClock(t)
	dataDir := t.TempDir()
	store := newMemStore()
	store.files[filepath.Join(dataDir, "in.nc")] = taggedDataset(t)
	metrics := observability.NewMetricsForTesting()
	runner := pipeline.NewRunner(store, store, discardLogger(), metrics)
	return &transformFixture{
		store:   store,
		metrics: metrics,
		tfm:     pipeline.NewTransformer(runner, dataDir, time.Minute, discardLogger(), metrics),
		dataDir: dataDir,
	}
}

func (f *transformFixture) run(t *testing.T, value string) (domain.OutputEvent, domain.JobResult) {
	t.Helper()
	out, err := f.tfm.Transform(context.Background(), domain.RawEvent{
		Value:     []byte(value),
		Topic:     "watertag-jobs",
		Partition: 2,
		Offset:    41,
	})
	require.NoError(t, err)
	var res domain.JobResult
	require.NoError(t, json.Unmarshal(out.Value, &res))
	return out, res
}

func TestJobTransformer_Preset(t *testing.T) {
	f := newTransformFixture(t)

	out, res := f.run(t, `{"job_id":"j-1","input":"in.nc","output":"out/combined.nc","preset":"rcp85"}`)

	want := domain.JobResult{
		JobID:  "j-1",
		Status: domain.StatusSucceeded,
		Input:  filepath.Join(f.dataDir, "in.nc"),
		Output: filepath.Join(f.dataDir, "out", "combined.nc"),
		Steps: []domain.StepReport{
			{NewRegion: "ERAS", Combined: []string{"PRECT_ERASr", "QFLX_ERASr"}, PassedThrough: 3},
			{NewRegion: "NAMG", Combined: []string{"PRECT_NAMGr"}, PassedThrough: 3},
			{NewRegion: "NATL", PassedThrough: 4},
			{NewRegion: "NPAC", PassedThrough: 4},
		},
		ProcessedAt: time.Date(2026, time.October, 15, 9, 30, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte("j-1"), out.Key)
	assert.Equal(t, domain.StatusSucceeded, out.Headers["status"])

	combined := f.store.get(t, filepath.Join(f.dataDir, "out", "combined.nc"))
	v, ok := combined.Var("PRECT_ERASr")
	require.True(t, ok)
	assert.Equal(t, []float64{11, 22}, v.Values())
}

func TestJobTransformer_InlineRecipe(t *testing.T) {
	f := newTransformFixture(t)

	_, res := f.run(t, `{"job_id":"j-2","input":"in.nc","output":"out.nc",
		"recipe":{"steps":[{"new_region":"ERAS","regions":["EURO","NASA"],"weights":{"EURO":2,"NASA":1}}]}}`)

	require.Equal(t, domain.StatusSucceeded, res.Status, res.Error)
	v, ok := f.store.get(t, filepath.Join(f.dataDir, "out.nc")).Var("PRECT_ERASr")
	require.True(t, ok)
	assert.Equal(t, []float64{12, 24}, v.Values())
}

func TestJobTransformer_RecipePath(t *testing.T) {
	f := newTransformFixture(t)
	recipeYAML := "input: in.nc\noutput: from-recipe.nc\nsteps:\n  - new_region: NAMG\n    regions: [WNAM, ENAM]\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, "namg.yaml"), []byte(recipeYAML), 0o600))

	_, res := f.run(t, `{"job_id":"j-3","recipe_path":"namg.yaml"}`)

	require.Equal(t, domain.StatusSucceeded, res.Status, res.Error)
	assert.Equal(t, filepath.Join(f.dataDir, "from-recipe.nc"), res.Output)
}

func TestJobTransformer_FailedJobs(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		jobID   string
		errPart string
	}{
		{"unparseable", `not json`, "watertag-jobs-2-41", "parse job request"},
		{"no recipe source", `{"job_id":"j","input":"in.nc","output":"out.nc"}`, "j", "exactly one of"},
		{"unknown preset", `{"job_id":"j","input":"in.nc","output":"out.nc","preset":"rcp45"}`, "j", "unknown preset"},
		{"escaping input", `{"job_id":"j","input":"../etc/in.nc","output":"out.nc","preset":"0ka"}`, "j", "escapes data directory"},
		{"absolute output outside", `{"job_id":"j","input":"in.nc","output":"/tmp/out.nc","preset":"0ka"}`, "j", "escapes data directory"},
		{"overwrite input", `{"job_id":"j","input":"in.nc","output":"./in.nc","preset":"0ka"}`, "j", "overwrite input"},
		{"missing output", `{"job_id":"j","input":"in.nc","preset":"0ka"}`, "j", "input and output are required"},
		{"missing input file", `{"job_id":"j","input":"gone.nc","output":"out.nc","preset":"0ka"}`, "j", "load input"},
		{"bad step", `{"job_id":"j","input":"in.nc","output":"out.nc","recipe":{"steps":[{"new_region":"X","regions":["EURO"],"join":"inner"}]}}`, "j", "join must be"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTransformFixture(t)

			out, res := f.run(t, tc.value)

			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, tc.jobID, res.JobID)
			assert.Contains(t, res.Error, tc.errPart)
			assert.Equal(t, domain.StatusFailed, out.Headers["status"])
			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.JobsFailed), 0)
		})
	}
}
