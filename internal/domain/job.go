package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidJob marks a job request that can never succeed as written.
var ErrInvalidJob = errors.New("invalid job request")

// Job result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// JobRequest asks the worker to run a combination recipe over one file.
// Exactly one of Preset, Recipe and RecipePath selects the steps. Input and
// Output override the recipe's own paths when set.
type JobRequest struct {
	JobID      string          `json:"job_id"`
	Input      string          `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Preset     string          `json:"preset,omitempty"`
	Recipe     json.RawMessage `json:"recipe,omitempty"`
	RecipePath string          `json:"recipe_path,omitempty"`
}

// ParseJobRequest decodes a job from a source message. A request without a
// job_id gets a deterministic one derived from its content, so redelivered
// messages report under the same ID.
func ParseJobRequest(raw RawEvent) (JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return JobRequest{}, fmt.Errorf("parse job request: %w", err)
	}

	sources := 0
	for _, set := range []bool{req.Preset != "", len(req.Recipe) > 0, req.RecipePath != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return req, fmt.Errorf("%w: exactly one of preset, recipe or recipe_path is required, got %d", ErrInvalidJob, sources)
	}

	if req.JobID == "" {
		req.JobID = generateJobID(req)
	}
	return req, nil
}

// generateJobID hashes the fields that determine a job's outcome.
func generateJobID(req JobRequest) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s", req.Input, req.Output, req.Preset, req.Recipe, req.RecipePath)
	hash := sha256.Sum256([]byte(input))
	return "job-" + hex.EncodeToString(hash[:8])
}

// StepReport summarizes one combination step.
type StepReport struct {
	NewRegion     string              `json:"new_region"`
	Combined      []string            `json:"combined"`
	Skipped       map[string][]string `json:"skipped,omitempty"`
	PassedThrough int                 `json:"passed_through"`
}

// NewStepReport summarizes a combination result. Skipped groups are keyed by
// their tuple rendering.
func NewStepReport(newRegion string, res *CombineResult) StepReport {
	rep := StepReport{
		NewRegion:     newRegion,
		Combined:      res.Combined,
		PassedThrough: len(res.PassedThrough),
	}
	if len(res.Skipped) > 0 {
		rep.Skipped = make(map[string][]string, len(res.Skipped))
		for _, s := range res.Skipped {
			rep.Skipped[s.Key.String()] = s.Missing
		}
	}
	return rep
}

// JobResult is published to the sink topic for every consumed job.
type JobResult struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	Input       string       `json:"input,omitempty"`
	Output      string       `json:"output,omitempty"`
	Steps       []StepReport `json:"steps,omitempty"`
	Error       string       `json:"error,omitempty"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// SerializeJobResult marshals a result into a sink message keyed by job ID.
func SerializeJobResult(res JobResult) (OutputEvent, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize job result: %w", err)
	}
	return OutputEvent{
		Key:   []byte(res.JobID),
		Value: data,
		Headers: map[string]string{
			"status":       res.Status,
			"processed_at": res.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}
