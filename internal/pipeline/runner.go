package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
)

// DatasetLoader reads a dataset by path.
type DatasetLoader interface {
	Load(ctx context.Context, path string) (*domain.Dataset, error)
}

// DatasetSaver writes a dataset to path.
type DatasetSaver interface {
	Save(ctx context.Context, path string, ds *domain.Dataset) error
}

// StepObserver is told about each finished step, e.g. to drive a progress bar.
type StepObserver interface {
	StepDone(index, total int, report domain.StepReport)
}

// RunReport summarizes a recipe run.
type RunReport struct {
	Input  string
	Output string
	Steps  []domain.StepReport
}

// Runner applies recipes to datasets on disk.
type Runner struct {
	loader   DatasetLoader
	saver    DatasetSaver
	logger   *slog.Logger
	metrics  *observability.Metrics
	observer StepObserver
}

// NewRunner creates a Runner. metrics may be nil.
func NewRunner(l DatasetLoader, s DatasetSaver, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{loader: l, saver: s, logger: logger, metrics: metrics}
}

// WithObserver returns a copy of the runner that reports steps to o.
func (r *Runner) WithObserver(o StepObserver) *Runner {
	cp := *r
	cp.observer = o
	return &cp
}

// Run loads rec.Input, applies every step in order and saves rec.Output.
// Nothing is written when any step fails.
func (r *Runner) Run(ctx context.Context, rec *recipe.Recipe) (*RunReport, error) {
	if rec.Input == "" || rec.Output == "" {
		return nil, fmt.Errorf("%w: input and output are required", recipe.ErrInvalidRecipe)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	ds, err := r.loader.Load(ctx, rec.Input)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}

	out, reports, err := r.Apply(ctx, ds, rec.Steps)
	if err != nil {
		return nil, err
	}

	regions := make([]string, len(rec.Steps))
	for i, s := range rec.Steps {
		regions[i] = s.NewRegion
	}
	domain.AppendHistory(out, "watertag combine "+strings.Join(regions, ",")+" "+rec.Input+" "+rec.Output)

	if err := r.saver.Save(ctx, rec.Output, out); err != nil {
		return nil, fmt.Errorf("save output: %w", err)
	}
	r.logger.Info("recipe applied", "input", rec.Input, "output", rec.Output, "steps", len(rec.Steps))
	return &RunReport{Input: rec.Input, Output: rec.Output, Steps: reports}, nil
}

// Apply runs steps over ds in memory. Each step sees the previous step's
// output; ds itself is not modified.
func (r *Runner) Apply(ctx context.Context, ds *domain.Dataset, steps []recipe.Step) (*domain.Dataset, []domain.StepReport, error) {
	reports := make([]domain.StepReport, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		opts, err := step.Options()
		if err != nil {
			return nil, nil, fmt.Errorf("step %d (%s): %w", i+1, step.NewRegion, err)
		}

		start := time.Now()
		res, err := domain.Combine(ds, step.Regions, step.NewRegion, opts)
		if err != nil {
			var alignErr *domain.AlignmentError
			if errors.As(err, &alignErr) {
				r.logger.Warn("alignment failed", "step", i+1, "new_region", step.NewRegion, "dim", alignErr.Dim, "vars", alignErr.Vars)
			}
			return nil, nil, fmt.Errorf("step %d (%s): %w", i+1, step.NewRegion, err)
		}
		elapsed := time.Since(start)
		ds = res.Dataset

		rep := domain.NewStepReport(step.NewRegion, res)
		reports = append(reports, rep)
		r.record(step.NewRegion, res, elapsed)
		r.logger.Info("step combined",
			"step", i+1,
			"new_region", step.NewRegion,
			"groups_combined", len(res.Combined),
			"groups_skipped", len(res.Skipped),
			"passed_through", len(res.PassedThrough),
			"duration", elapsed,
		)
		for _, s := range res.Skipped {
			r.logger.Debug("group skipped", "new_region", step.NewRegion, "group", s.Key.String(), "missing", s.Missing)
		}
		if r.observer != nil {
			r.observer.StepDone(i, len(steps), rep)
		}
	}
	return ds, reports, nil
}

func (r *Runner) record(newRegion string, res *domain.CombineResult, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.GroupsCombined.WithLabelValues(newRegion).Add(float64(len(res.Combined)))
	r.metrics.GroupsSkipped.WithLabelValues(newRegion).Add(float64(len(res.Skipped)))
	r.metrics.VariablesPassedThrough.WithLabelValues(newRegion).Add(float64(len(res.PassedThrough)))
	r.metrics.StepDuration.WithLabelValues(newRegion).Observe(elapsed.Seconds())
}
