package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLogger_JSONTimestampKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)
	logger.EvaluationLogger("run-1", 2, 10, 1, 42.5, time.Second)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Contains(t, record, "timestamp")
	assert.NotContains(t, record, "time")
	assert.Equal(t, "run-1", record["run_id"])
	assert.Equal(t, float64(1), record["skipped_events"])
}

func TestLogger_CacheKeyTruncated(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelDebug)
	logger.CacheLogger("get", "0123456789abcdef", true)
	assert.Contains(t, buf.String(), "01234567...")
	assert.NotContains(t, buf.String(), "0123456789abcdef")
}

func TestMetrics_CacheHitRate(t *testing.T) {
	m := NewMetrics()
	m.IncrementCacheHit()
	m.IncrementCacheHit()
	m.IncrementCacheHit()
	m.IncrementCacheMiss()
	m.IncrementCacheIOError()

	stats := m.GetStats()
	assert.Equal(t, int64(3), stats["cache_hits"])
	assert.Equal(t, int64(1), stats["cache_misses"])
	assert.Equal(t, 75.0, stats["cache_hit_rate_percent"])
	assert.Equal(t, int64(1), stats["cache_io_errors"])
}

func TestMetrics_ExternalAPIStats(t *testing.T) {
	m := NewMetrics()
	m.RecordExternalAPIRequest("github", true)
	m.RecordExternalAPIRequest("github", false)
	m.RecordExternalAPIRequest("jira", true)

	stats := m.GetExternalAPIStats()
	gh := stats["github"].(map[string]interface{})
	assert.Equal(t, int64(2), gh["requests"])
	assert.Equal(t, int64(1), gh["errors"])
	assert.Equal(t, 50.0, gh["error_rate"])
}

func TestMetrics_RecordEvaluation(t *testing.T) {
	m := NewMetrics()
	m.RecordEvaluation(10, 2, 1)
	m.RecordEvaluation(5, 0, 0)

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats["evaluations"])
	assert.Equal(t, int64(15), stats["events_scored"])
	assert.Equal(t, int64(2), stats["events_skipped"])
	assert.Equal(t, int64(1), stats["normalization_warnings"])
}

func TestMetrics_Percentile(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, time.Duration(0), m.GetPercentileResponseTime(50))
	for i := 1; i <= 100; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, m.GetPercentileResponseTime(100))
	assert.Equal(t, 50*time.Millisecond, m.GetPercentileResponseTime(50))
}

func TestMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	r := gin.New()
	r.Use(MonitoringMiddleware(m, Discard()))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/fail", "/ok"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
	}

	assert.Equal(t, int64(3), m.RequestCount)
	assert.Equal(t, int64(1), m.ErrorCount)
	dist := m.GetStatusCodeDistribution()
	assert.Equal(t, int64(2), dist[http.StatusOK])
	assert.Equal(t, int64(1), dist[http.StatusBadRequest])
}
