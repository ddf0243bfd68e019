package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/observability"
)

// BatchExtractor reads up to batchSize job requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer runs the job in a raw event and returns its result event.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes job results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline consumes job requests, runs them and publishes their results.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has published at least one result.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any job results yet")
	}
	return nil
}

// Run consumes jobs in batches until the context is cancelled. Source and
// sink failures are retried with exponential backoff.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for ctx.Err() == nil {
		err := p.runBatch(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			p.logger.Error("batch failed", "error", err, "retry_in", backoff)
			if sleepWithContext(ctx, backoff) {
				backoff = min(backoff*2, maxBackoff)
			}
		default:
			backoff = initialBackoff
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// runBatch extracts one batch, runs every job in it and publishes the
// results. Offsets are committed only after their results are written, so a
// sink failure leaves the jobs to be redelivered.
func (p *Pipeline) runBatch(ctx context.Context) error {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	results := make([]domain.OutputEvent, 0, len(batch))
	done := make([]domain.RawEvent, 0, len(batch))
	for _, raw := range batch {
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			// No result can be produced; drop the message rather than loop on it.
			p.logger.Warn("job result not produced, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.JobsFailed.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		results = append(results, out)
		done = append(done, raw)
	}
	if len(results) == 0 {
		return nil
	}

	if err := p.loader.LoadBatch(ctx, results); err != nil {
		return err
	}
	p.metrics.MessagesProduced.Add(float64(len(results)))
	for _, raw := range done {
		p.commitOffset(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
