package metrics

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/coresched/internal/scheduler"
	"github.com/ChuLiYu/coresched/pkg/types"
)

var _ scheduler.Observer = (*Observer)(nil)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg), reg
}

func TestNewCollectorRegistersDefault(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg

	collector := NewCollector()
	require.NotNil(t, collector)

	collector.RecordRPC("JobArrived", "OK")
	count, err := testutil.GatherAndCount(reg, "coresched_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserverCounters(t *testing.T) {
	collector, _ := newTestCollector(t)
	obs := collector.Observer(types.PSJF)

	obs.JobArrived(types.Job{ID: 1})
	obs.JobArrived(types.Job{ID: 2})
	obs.JobDispatched(0, types.Job{ID: 1})
	obs.JobPreempted(0, types.Job{ID: 1})
	obs.JobDispatched(0, types.Job{ID: 2})
	obs.QuantumExpired(0, types.Job{ID: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.jobsArrived.WithLabelValues("psjf")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.jobsDispatched.WithLabelValues("psjf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsPreempted.WithLabelValues("psjf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.quantumExpired.WithLabelValues("psjf")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.jobsArrived.WithLabelValues("fcfs")), "labels isolate schemes")
}

func TestObserverCompletion(t *testing.T) {
	collector, reg := newTestCollector(t)
	obs := collector.Observer(types.FCFS)

	obs.JobCompleted(types.JobRecord{ID: 1, Turnaround: 6, Waiting: 2, Response: 2})
	obs.JobCompleted(types.JobRecord{ID: 2, Turnaround: 3, Waiting: 0, Response: 0})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.jobsCompleted.WithLabelValues("fcfs")))

	expected := `
# HELP coresched_job_turnaround_units Job turnaround time in simulated time units
# TYPE coresched_job_turnaround_units histogram
coresched_job_turnaround_units_bucket{scheme="fcfs",le="1"} 0
coresched_job_turnaround_units_bucket{scheme="fcfs",le="2"} 0
coresched_job_turnaround_units_bucket{scheme="fcfs",le="4"} 1
coresched_job_turnaround_units_bucket{scheme="fcfs",le="8"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="16"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="32"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="64"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="128"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="256"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="512"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="1024"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="2048"} 2
coresched_job_turnaround_units_bucket{scheme="fcfs",le="+Inf"} 2
coresched_job_turnaround_units_sum{scheme="fcfs"} 9
coresched_job_turnaround_units_count{scheme="fcfs"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "coresched_job_turnaround_units"))
}

func TestObserverQueueDepth(t *testing.T) {
	collector, _ := newTestCollector(t)
	obs := collector.Observer(types.RR)

	obs.QueueDepth(5, 2)
	obs.QueueDepth(3, 4)

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.waitingJobs.WithLabelValues("rr")))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.busyCores.WithLabelValues("rr")))
}

func TestRecordRun(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.RecordRun(types.SJF, 10*time.Millisecond, nil)
	collector.RecordRun(types.SJF, 20*time.Millisecond, nil)
	collector.RecordRun(types.SJF, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.runs.WithLabelValues("sjf", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("sjf", "error")))

	count, err := testutil.GatherAndCount(reg, "coresched_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one histogram series per scheme")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for _, scheme := range types.AllSchemes() {
		wg.Add(1)
		go func(s types.Scheme) {
			defer wg.Done()
			obs := collector.Observer(s)
			for i := 0; i < 100; i++ {
				obs.JobArrived(types.Job{ID: i})
			}
		}(scheme)
	}
	wg.Wait()

	for _, scheme := range types.AllSchemes() {
		assert.Equal(t, 100.0, testutil.ToFloat64(collector.jobsArrived.WithLabelValues(scheme.String())))
	}
}

func TestHandler(t *testing.T) {
	collector, reg := newTestCollector(t)
	collector.Observer(types.PPRI).JobArrived(types.Job{ID: 1})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `coresched_jobs_arrived_total{scheme="ppri"} 1`)
}

func TestWriteText(t *testing.T) {
	collector, reg := newTestCollector(t)
	obs := collector.Observer(types.RR)
	obs.JobArrived(types.Job{ID: 1})
	obs.QuantumExpired(0, types.Job{ID: 1})
	collector.RecordRun(types.RR, time.Millisecond, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))

	out := buf.String()
	assert.Contains(t, out, "# TYPE coresched_jobs_arrived_total counter")
	assert.Contains(t, out, `coresched_jobs_arrived_total{scheme="rr"} 1`)
	assert.Contains(t, out, `coresched_quantum_expired_total{scheme="rr"} 1`)
	assert.Contains(t, out, `coresched_runs_total{scheme="rr",status="ok"} 1`)
}
