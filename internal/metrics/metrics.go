// ============================================================================
// coresched Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集排程決策並以 Prometheus 格式暴露
//
// 指標分類（全部以 scheme 標籤區分排程策略）:
//
//   1. 排程計數器 (Counter):
//      - coresched_jobs_arrived_total
//      - coresched_jobs_dispatched_total
//      - coresched_jobs_preempted_total
//      - coresched_quantum_expired_total
//      - coresched_jobs_completed_total
//      - coresched_runs_total{status}        每次模擬（ok / error）
//      - coresched_rpc_requests_total{method,code}
//
//   2. 時間分佈 (Histogram)，單位為模擬時間:
//      - coresched_job_turnaround_units
//      - coresched_job_waiting_units
//      - coresched_job_response_units
//      - coresched_run_duration_seconds    模擬本身花費的真實時間
//
//   3. 狀態指標 (Gauge):
//      - coresched_waiting_jobs
//      - coresched_busy_cores
//
// Prometheus 查詢示例:
//
//   # 各策略平均周轉時間
//   rate(coresched_job_turnaround_units_sum[5m]) / rate(coresched_job_turnaround_units_count[5m])
//
//   # 搶佔比例
//   coresched_jobs_preempted_total / coresched_jobs_dispatched_total
//
// HTTP 端點:
//   /metrics，默認端口 9090
//
// 一次性命令（run / compare）沒有 HTTP 端點，改用 WriteText 將私有
// registry 的指標以文字格式附加在報告之後。
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/ChuLiYu/coresched/pkg/types"
)

// 模擬時間單位的桶：1, 2, 4, ... 2048
var unitBuckets = prometheus.ExponentialBuckets(1, 2, 12)

// Collector Prometheus 指標收集器
type Collector struct {
	// 排程計數器
	jobsArrived    *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsPreempted  *prometheus.CounterVec
	quantumExpired *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec

	// 時間分佈
	turnaround *prometheus.HistogramVec
	waiting    *prometheus.HistogramVec
	response   *prometheus.HistogramVec

	// 狀態指標
	waitingJobs *prometheus.GaugeVec
	busyCores   *prometheus.GaugeVec

	// 模擬與 RPC
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rpcRequests *prometheus.CounterVec
}

// NewCollector 創建指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith 創建指標收集器並註冊到 reg
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	byScheme := []string{"scheme"}
	c := &Collector{
		jobsArrived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_jobs_arrived_total",
			Help: "Total number of jobs registered with the engine",
		}, byScheme),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_jobs_dispatched_total",
			Help: "Total number of times a job was placed on a core",
		}, byScheme),
		jobsPreempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_jobs_preempted_total",
			Help: "Total number of running jobs displaced by a more important arrival",
		}, byScheme),
		quantumExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_quantum_expired_total",
			Help: "Total number of round-robin rotations",
		}, byScheme),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_jobs_completed_total",
			Help: "Total number of jobs completed",
		}, byScheme),
		turnaround: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coresched_job_turnaround_units",
			Help:    "Job turnaround time in simulated time units",
			Buckets: unitBuckets,
		}, byScheme),
		waiting: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coresched_job_waiting_units",
			Help:    "Job waiting time in simulated time units",
			Buckets: unitBuckets,
		}, byScheme),
		response: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coresched_job_response_units",
			Help:    "Job response time in simulated time units",
			Buckets: unitBuckets,
		}, byScheme),
		waitingJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coresched_waiting_jobs",
			Help: "Current number of jobs in the waiting queue",
		}, byScheme),
		busyCores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coresched_busy_cores",
			Help: "Current number of cores running a job",
		}, byScheme),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_runs_total",
			Help: "Total number of simulation runs",
		}, []string{"scheme", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coresched_run_duration_seconds",
			Help:    "Wall-clock duration of simulation runs",
			Buckets: prometheus.DefBuckets,
		}, byScheme),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coresched_rpc_requests_total",
			Help: "Total number of scheduler RPCs handled",
		}, []string{"method", "code"}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsArrived,
		c.jobsDispatched,
		c.jobsPreempted,
		c.quantumExpired,
		c.jobsCompleted,
		c.turnaround,
		c.waiting,
		c.response,
		c.waitingJobs,
		c.busyCores,
		c.runs,
		c.runDuration,
		c.rpcRequests,
	)
	return c
}

// RecordRun 記錄一次模擬的結果與耗時
func (c *Collector) RecordRun(scheme types.Scheme, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.runs.WithLabelValues(scheme.String(), status).Inc()
	c.runDuration.WithLabelValues(scheme.String()).Observe(elapsed.Seconds())
}

// RecordRPC 記錄一次 RPC
func (c *Collector) RecordRPC(method, code string) {
	c.rpcRequests.WithLabelValues(method, code).Inc()
}

// Observer 回傳寫入此收集器的排程觀察者（實作 scheduler.Observer）
func (c *Collector) Observer(scheme types.Scheme) *Observer {
	label := scheme.String()
	return &Observer{
		arrived:     c.jobsArrived.WithLabelValues(label),
		dispatched:  c.jobsDispatched.WithLabelValues(label),
		preempted:   c.jobsPreempted.WithLabelValues(label),
		expired:     c.quantumExpired.WithLabelValues(label),
		completed:   c.jobsCompleted.WithLabelValues(label),
		turnaround:  c.turnaround.WithLabelValues(label),
		waiting:     c.waiting.WithLabelValues(label),
		response:    c.response.WithLabelValues(label),
		waitingJobs: c.waitingJobs.WithLabelValues(label),
		busyCores:   c.busyCores.WithLabelValues(label),
	}
}

// Observer 將排程轉換轉為指標，標籤已預先綁定
type Observer struct {
	arrived    prometheus.Counter
	dispatched prometheus.Counter
	preempted  prometheus.Counter
	expired    prometheus.Counter
	completed  prometheus.Counter

	turnaround prometheus.Observer
	waiting    prometheus.Observer
	response   prometheus.Observer

	waitingJobs prometheus.Gauge
	busyCores   prometheus.Gauge
}

func (o *Observer) JobArrived(types.Job) { o.arrived.Inc() }

func (o *Observer) JobDispatched(int, types.Job) { o.dispatched.Inc() }

func (o *Observer) JobPreempted(int, types.Job) { o.preempted.Inc() }

func (o *Observer) QuantumExpired(int, types.Job) { o.expired.Inc() }

func (o *Observer) JobCompleted(record types.JobRecord) {
	o.completed.Inc()
	o.turnaround.Observe(float64(record.Turnaround))
	o.waiting.Observe(float64(record.Waiting))
	o.response.Observe(float64(record.Response))
}

func (o *Observer) QueueDepth(waiting, busy int) {
	o.waitingJobs.Set(float64(waiting))
	o.busyCores.Set(float64(busy))
}

// ============================================================================
// HTTP 端點
// ============================================================================

// Handler 回傳 gatherer 的 /metrics handler，nil 時使用 DefaultGatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// WriteText 以 Prometheus 文字格式寫出 gatherer 的所有指標
func WriteText(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("failed to encode %s: %w", family.GetName(), err)
		}
	}
	return nil
}

// Serve 啟動 Prometheus metrics HTTP 伺服器，ctx 結束時關閉
//
// 參數：
//   - port: HTTP 伺服器端口
//   - gatherer: 指標來源，nil 時使用 DefaultGatherer
func Serve(ctx context.Context, port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
