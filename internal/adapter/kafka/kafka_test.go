package kafka

import (
	"testing"
	"time"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("job-1"),
		Value:     []byte(`{"job_id":"job-1","preset":"rcp85"}`),
		Topic:     "watertag-jobs",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "submitted_by", Value: []byte("cron")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("job-1"), raw.Key)
	assert.JSONEq(t, `{"job_id":"job-1","preset":"rcp85"}`, string(raw.Value))
	assert.Equal(t, "watertag-jobs", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "cron", raw.Headers["submitted_by"])
	assert.Nil(t, raw.Commit)
}

func TestToMessage(t *testing.T) {
	now := time.Date(2026, time.October, 15, 9, 30, 0, 0, time.UTC)
	out, err := domain.SerializeJobResult(domain.JobResult{
		JobID:       "job-1",
		Status:      domain.StatusSucceeded,
		Output:      "/data/out.nc",
		ProcessedAt: now,
	})
	require.NoError(t, err)

	msg := toMessage(out)

	assert.Equal(t, []byte("job-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"status":"succeeded"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "processed_at", msg.Headers[0].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[0].Value)
	assert.Equal(t, "status", msg.Headers[1].Key)
	assert.Equal(t, []byte("succeeded"), msg.Headers[1].Value)
}
