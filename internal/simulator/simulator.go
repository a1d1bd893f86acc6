// ============================================================================
// coresched 模擬器 - 離散事件驅動器
// ============================================================================
//
// Package: internal/simulator
// 文件: simulator.go
// 功能: 以模擬時間逐單位推進，依時間順序呼叫排程引擎的三個事件入口
//
// 每個時間點 t 的處理順序:
//   1. JobFinished    - 剩餘時間歸零的執行中任務
//   2. QuantumExpired - （僅 RR）已連續執行 quantum 個單位的核心
//   3. JobArrived     - arrival == t 的任務（依 ID 順序）
//   然後每個忙碌核心執行一個單位，t++
//
// 所有核心閒置且仍有未到達任務時，直接跳到下一個到達時間。
//
// 核心視圖:
//   模擬器不讀取引擎內部狀態，只依引擎回傳值維護 onCore[core] = jobID，
//   並自行追蹤每個任務的剩餘時間與每個核心的時間片用量。
//
// 並發安全:
//   Simulator 可被多個 goroutine 同時呼叫 Run，每次 Run 使用獨立的引擎。
//
// ============================================================================

package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/scheduler"
	"github.com/ChuLiYu/coresched/internal/workload"
	"github.com/ChuLiYu/coresched/pkg/types"
)

var (
	ErrInvalidQuantum = errors.New("simulator: rr needs a quantum of at least 1")
	ErrStalled        = errors.New("simulator: no runnable job but work remains")
)

// Config 模擬器配置
type Config struct {
	Cores    int                // 核心數量
	Scheme   types.Scheme       // 排程策略
	Quantum  int                // RR 時間片長度
	Strict   bool               // 引擎檢查 driver 契約
	Observer scheduler.Observer // 選用：指標、trace 等觀察者
	Logger   *slog.Logger       // 選用，預設 slog.Default()
}

// Simulator 模擬器
type Simulator struct {
	config Config
	log    *slog.Logger
}

// New 驗證配置並建立模擬器
func New(config Config) (*Simulator, error) {
	if config.Cores < 1 {
		return nil, fmt.Errorf("%w: got %d", scheduler.ErrInvalidCoreCount, config.Cores)
	}
	if !config.Scheme.Valid() {
		return nil, fmt.Errorf("%w: %d", scheduler.ErrUnknownScheme, int(config.Scheme))
	}
	if config.Scheme == types.RR && config.Quantum < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantum, config.Quantum)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		config: config,
		log:    logger.With("scheme", config.Scheme.String(), "cores", config.Cores),
	}, nil
}

// Config 回傳模擬器配置
func (s *Simulator) Config() Config { return s.config }

// Backend 模擬器驅動的排程引擎
// *scheduler.Engine 直接滿足此介面；遠端引擎由 server.Remote 轉接
type Backend interface {
	JobArrived(jobID, time, runTime, priority int) (int, error)
	JobFinished(core, jobID, time int) (int, error)
	QuantumExpired(core, time int) (int, error)
}

var _ Backend = (*scheduler.Engine)(nil)

// run 一次模擬的可變狀態
type run struct {
	backend   Backend
	remaining map[int]int // jobID -> 剩餘執行時間
	onCore    []int       // core -> jobID，閒置為 None
	slice     []int       // core -> 本次分派後已執行的單位數
	done      int         // 已完成任務數
}

func (r *run) place(core, jobID int) {
	if core == scheduler.None {
		return
	}
	r.onCore[core] = jobID
	r.slice[core] = 0
}

func (r *run) busy() bool {
	for _, id := range r.onCore {
		if id != scheduler.None {
			return true
		}
	}
	return false
}

// Run 執行一次完整模擬，回傳報告
//
// 流程：
//  1. 驗證工作負載並建立新引擎
//  2. 推進模擬時間直到所有任務完成
//  3. 由完成紀錄建立報告
func (s *Simulator) Run(ctx context.Context, w *workload.Workload) (*report.Report, error) {
	engine, err := scheduler.New(scheduler.Config{
		Cores:    s.config.Cores,
		Scheme:   s.config.Scheme,
		Strict:   s.config.Strict,
		Observer: s.config.Observer,
		Logger:   s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.CleanUp()

	started := time.Now()
	if err := s.Drive(ctx, w, engine); err != nil {
		return nil, err
	}

	rep := report.New(s.config.Scheme, s.config.Cores, s.config.Quantum, engine.Completed())
	s.log.Info("Simulation finished",
		"run_id", rep.RunID,
		"makespan", rep.Makespan,
		"avg_waiting", rep.AvgWaiting,
		"avg_turnaround", rep.AvgTurnaround,
		"avg_response", rep.AvgResponse,
		"elapsed", time.Since(started))
	return rep, nil
}

// Drive 以模擬時鐘驅動 backend 直到所有任務完成
//
// backend 必須是剛建立、核心數與排程策略和模擬器配置相同的引擎。
// 每個時間點依序處理：完成 → RR 時間片到期 → 新到達，之後每個忙碌
// 核心執行一個單位。所有核心閒置時直接跳到下一個到達時間。
func (s *Simulator) Drive(ctx context.Context, w *workload.Workload, backend Backend) error {
	if err := w.Validate(); err != nil {
		return err
	}
	jobs := &workload.Workload{Name: w.Name, Jobs: append([]types.WorkloadJob(nil), w.Jobs...)}
	jobs.Sort()

	r := &run{
		backend:   backend,
		remaining: make(map[int]int, len(jobs.Jobs)),
		onCore:    make([]int, s.config.Cores),
		slice:     make([]int, s.config.Cores),
	}
	for core := range r.onCore {
		r.onCore[core] = scheduler.None
	}

	s.log.Info("Simulation started", "workload", jobs.Name, "jobs", len(jobs.Jobs))

	total := len(jobs.Jobs)
	next := 0
	t := jobs.Jobs[0].Arrival
	for r.done < total {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation cancelled at t=%d: %w", t, err)
		}

		if err := s.finish(r, t); err != nil {
			return err
		}
		if err := s.rotate(r, t); err != nil {
			return err
		}
		for next < total && jobs.Jobs[next].Arrival == t {
			if err := s.arrive(r, jobs.Jobs[next], t); err != nil {
				return err
			}
			next++
		}

		if !r.busy() {
			if r.done == total {
				break
			}
			if next >= total {
				return fmt.Errorf("%w: t=%d completed %d/%d", ErrStalled, t, r.done, total)
			}
			t = jobs.Jobs[next].Arrival
			continue
		}

		for core, id := range r.onCore {
			if id != scheduler.None {
				r.remaining[id]--
				r.slice[core]++
			}
		}
		t++
	}
	return nil
}

// finish 完成剩餘時間歸零的任務
func (s *Simulator) finish(r *run, t int) error {
	for core, id := range r.onCore {
		if id == scheduler.None || r.remaining[id] > 0 {
			continue
		}
		nextID, err := r.backend.JobFinished(core, id, t)
		if err != nil {
			return fmt.Errorf("job %d finish on core %d at t=%d: %w", id, core, t, err)
		}
		delete(r.remaining, id)
		r.done++
		r.onCore[core] = scheduler.None
		r.place(core, nextID)
	}
	return nil
}

// rotate 處理 RR 時間片到期
func (s *Simulator) rotate(r *run, t int) error {
	if s.config.Scheme != types.RR {
		return nil
	}
	for core, id := range r.onCore {
		if id == scheduler.None || r.slice[core] < s.config.Quantum {
			continue
		}
		nextID, err := r.backend.QuantumExpired(core, t)
		if err != nil {
			return fmt.Errorf("quantum on core %d at t=%d: %w", core, t, err)
		}
		r.place(core, nextID)
	}
	return nil
}

// arrive 登記新任務；回傳的核心若原本忙碌，表示其任務已被搶佔
func (s *Simulator) arrive(r *run, job types.WorkloadJob, t int) error {
	core, err := r.backend.JobArrived(job.ID, t, job.RunTime, job.Priority)
	if err != nil {
		return fmt.Errorf("job %d arrival at t=%d: %w", job.ID, t, err)
	}
	r.remaining[job.ID] = job.RunTime
	r.place(core, job.ID)
	return nil
}
