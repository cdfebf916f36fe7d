package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ingest.Observer = (*Ingest)(nil)

func TestIngest_Counters(t *testing.T) {
	m := New()

	m.ChunkStarted()
	m.ChunkStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inFlight))

	m.ChunkRetried()
	m.ChunkFinished(ingest.OutcomeSucceeded, 150*time.Millisecond)
	m.ChunkFinished(ingest.OutcomeExhausted, time.Second)
	m.RecordsSettled(998, 2)
	m.RecordsSettled(0, 1000)
	m.RunFinished("completed")

	assert.Zero(t, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues(ingest.OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues(ingest.OutcomeExhausted)))
	assert.Equal(t, 998.0, testutil.ToFloat64(m.records.WithLabelValues("processed")))
	assert.Equal(t, 1002.0, testutil.ToFloat64(m.records.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.chunkDuration))
}

func TestIngest_Handler(t *testing.T) {
	m := New()
	m.RunFinished("cancelled")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ingest_runs_total{status="cancelled"} 1`)
	assert.Contains(t, rec.Body.String(), "ingest_chunks_in_flight 0")
}
