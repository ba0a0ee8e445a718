package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMaster(t *testing.T) {
	before := testutil.ToFloat64(LeaderTransitions.WithLabelValues("master"))

	SetMaster(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(LeaderIsMaster))
	assert.Equal(t, before+1, testutil.ToFloat64(LeaderTransitions.WithLabelValues("master")))

	SetMaster(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(LeaderIsMaster))
}

func TestObserveFire(t *testing.T) {
	runs := SweepRunsTotal.WithLabelValues("test_daily", "succeeded")
	before := testutil.ToFloat64(runs)

	ObserveFire("test_daily", "succeeded", 2*time.Second, true)
	ObserveFire("test_daily", "skipped_not_master", 0, false)

	assert.Equal(t, before+1, testutil.ToFloat64(runs))
	assert.Equal(t, float64(1), testutil.ToFloat64(SweepRunsTotal.WithLabelValues("test_daily", "skipped_not_master")))
	assert.Equal(t, 1, testutil.CollectAndCount(SweepDuration, "ordersweep_sweep_duration_seconds"))
}

func TestRecorderAddAffected(t *testing.T) {
	counter := RecordsAffected.WithLabelValues("test_step")
	before := testutil.ToFloat64(counter)

	Recorder{}.AddAffected("test_step", 3)
	Recorder{}.AddAffected("test_step", 4)

	assert.Equal(t, before+7, testutil.ToFloat64(counter))
}

func TestObserveHTTP(t *testing.T) {
	counter := HTTPRequestsTotal.WithLabelValues("PATCH", "418")
	before := testutil.ToFloat64(counter)

	ObserveHTTP("PATCH", 418, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveAlert("delivered")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ordersweep_leader_is_master")
	assert.Contains(t, rec.Body.String(), `ordersweep_alerts_total{status="delivered"}`)
}
