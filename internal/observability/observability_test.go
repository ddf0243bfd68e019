package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTo(t *testing.T) {
	t.Run("json at info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerTo(&buf, "info", "json")
		logger.Debug("hidden")
		logger.Info("combined", "new_region", "ERAS")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"new_region":"ERAS"`)
	})

	t.Run("text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerTo(&buf, "DEBUG", "text")
		logger.Debug("loaded", "path", "in.nc")

		assert.Contains(t, buf.String(), "path=in.nc")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.GroupsCombined.WithLabelValues("ERAS").Add(3)

	assert.InDelta(t, 3, testutil.ToFloat64(a.GroupsCombined.WithLabelValues("ERAS")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.GroupsCombined.WithLabelValues("ERAS")), 0)
}

func TestPusher_Push(t *testing.T) {
	var method, path, body string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	pusher, metrics := NewPusher(gateway.URL, "watertag_run")
	metrics.GroupsCombined.WithLabelValues("ERAS").Inc()

	require.NoError(t, pusher.Push(context.Background()))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/watertag_run", path)
	assert.NotEmpty(t, body)
}

func TestPusher_PushError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	pusher, _ := NewPusher(gateway.URL, "watertag_run")
	require.Error(t, pusher.Push(context.Background()))
}
