package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	return &pb
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.ObserveRun("ok", time.Second)
	m.IncHandleFailed()
	m.IncPostsFetched()
	m.ObservePost("resolve", "done")
	m.ObserveStage("persist", time.Millisecond)
	m.IncAssetsCreated()
	m.IncAssetsLinked()
	m.IncSessionLogins()
	m.IncFetchRequests("ok")
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRun("ok", 2*time.Second)
	m.ObserveRun("skipped", 0)
	m.ObserveRun("skipped", 0)
	m.IncFetchRequests("429")
	m.ObservePost("classify", "no_asset")

	assert.Equal(t, 1.0, read(t, m.runsTotal.WithLabelValues("ok")).GetCounter().GetValue())
	assert.Equal(t, 2.0, read(t, m.runsTotal.WithLabelValues("skipped")).GetCounter().GetValue())
	assert.Equal(t, 1.0, read(t, m.fetchRequests.WithLabelValues("429")).GetCounter().GetValue())
	assert.Equal(t, 1.0, read(t, m.postOutcomes.WithLabelValues("classify", "no_asset")).GetCounter().GetValue())
	assert.Equal(t, uint64(1), read(t, m.runDuration).GetHistogram().GetSampleCount(), "skipped runs are not timed")
	assert.Greater(t, read(t, m.lastRunSuccess).GetGauge().GetValue(), 0.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncAssetsCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kolwatch_assets_created_total 1")
}
