package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
)

// ErrPathEscapesDataDir is returned for job paths outside the data directory.
var ErrPathEscapesDataDir = errors.New("path escapes data directory")

// JobTransformer implements Transformer by running the recipe a job request
// names and reporting the outcome as a JobResult.
type JobTransformer struct {
	runner  *Runner
	dataDir string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTransformer creates a JobTransformer. Job paths resolve against dataDir;
// a zero timeout means jobs run until the pipeline context ends.
func NewTransformer(runner *Runner, dataDir string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *JobTransformer {
	return &JobTransformer{
		runner:  runner,
		dataDir: filepath.Clean(dataDir),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Transform runs one job. A job that fails still yields a result event with
// status "failed"; only a result that cannot be serialized is an error.
func (t *JobTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseJobRequest(raw)
	if err != nil {
		if req.JobID == "" {
			req.JobID = fmt.Sprintf("%s-%d-%d", raw.Topic, raw.Partition, raw.Offset)
		}
		return t.result(req, nil, err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	rec, err := t.resolve(req)
	if err != nil {
		return t.result(req, nil, err)
	}
	t.logger.Info("job started", "job_id", req.JobID, "input", rec.Input, "output", rec.Output, "steps", len(rec.Steps))
	report, err := t.runner.Run(ctx, rec)
	return t.result(req, report, err)
}

// resolve builds the recipe a job asks for with paths confined to dataDir.
func (t *JobTransformer) resolve(req domain.JobRequest) (*recipe.Recipe, error) {
	var (
		rec *recipe.Recipe
		err error
	)
	switch {
	case req.Preset != "":
		rec, err = recipe.Preset(req.Preset)
	case len(req.Recipe) > 0:
		rec, err = recipe.Parse(req.Recipe, recipe.FormatJSON)
	default:
		var path string
		if path, err = t.resolvePath(req.RecipePath); err == nil {
			rec, err = recipe.Load(path)
		}
	}
	if err != nil {
		return nil, err
	}

	if req.Input != "" {
		rec.Input = req.Input
	}
	if req.Output != "" {
		rec.Output = req.Output
	}
	if rec.Input == "" || rec.Output == "" {
		return nil, fmt.Errorf("%w: input and output are required", domain.ErrInvalidJob)
	}
	if rec.Input, err = t.resolvePath(rec.Input); err != nil {
		return nil, err
	}
	if rec.Output, err = t.resolvePath(rec.Output); err != nil {
		return nil, err
	}
	if rec.Input == rec.Output {
		return nil, fmt.Errorf("%w: output would overwrite input", domain.ErrInvalidJob)
	}
	return rec, nil
}

// resolvePath joins relative paths onto dataDir and rejects anything that
// ends up outside it.
func (t *JobTransformer) resolvePath(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.dataDir, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(t.dataDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesDataDir, p)
	}
	return p, nil
}

func (t *JobTransformer) result(req domain.JobRequest, report *RunReport, runErr error) (domain.OutputEvent, error) {
	res := domain.JobResult{
		JobID:       req.JobID,
		Status:      domain.StatusSucceeded,
		ProcessedAt: domain.Now(),
	}
	if report != nil {
		res.Input = report.Input
		res.Output = report.Output
		res.Steps = report.Steps
	}
	if runErr != nil {
		res.Status = domain.StatusFailed
		res.Error = runErr.Error()
		t.metrics.JobsFailed.Inc()
		t.logger.Warn("job failed", "job_id", req.JobID, "error", runErr)
	} else {
		t.logger.Info("job succeeded", "job_id", req.JobID, "output", res.Output, "steps", len(res.Steps))
	}
	return domain.SerializeJobResult(res)
}
