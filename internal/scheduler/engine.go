// ============================================================================
// coresched Scheduling Engine - multi-core scheduling state machine
// ============================================================================
//
// Package: internal/scheduler
// File: engine.go
// Purpose: Decide which job runs on which core, one driver event at a time.
//
// State Machine:
//   Job:  Waiting <-> Running(core) -> Completed
//   Core: Idle <-> Occupied(job)
//
// Transitions:
//   - JobArrived:     new job -> lowest idle core, or preempt (PSJF/PPRI), or Waiting
//   - JobFinished:    Running -> Completed, core takes the waiting-queue front or goes Idle
//   - QuantumExpired: Running -> Waiting (appended to the end), core takes the front (RR)
//
// Data Structures:
//   waiting queue.Ordered[*Job]  - ordered by the scheme comparator
//   idle    queue.Ordered[int]   - ascending core id, lowest free core wins
//   running []*Job               - one slot per core, nil when idle
//   active  map[int]*Job         - waiting + running jobs by id
//
// Invariants:
//   - a job is referenced by at most one core slot and never also waiting
//   - a core id is in the idle queue iff its running slot is nil
//   - statistics only grow, and only on completion
//
// Concurrency:
//   Engine is not safe for concurrent use. Callers serialise access.
//
// ============================================================================

package scheduler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChuLiYu/coresched/internal/queue"
	"github.com/ChuLiYu/coresched/pkg/types"
)

// None is returned when no core or job is assigned.
const None = types.None

// Config Engine configuration
type Config struct {
	Cores    int          // number of cores, ids 0..Cores-1
	Scheme   types.Scheme // scheduling discipline
	Strict   bool         // check driver contract (monotonic time, unique arrivals, no overrun)
	Observer Observer     // optional transition hook
	Logger   *slog.Logger // optional, defaults to slog.Default()
}

// Engine owns the waiting queue, the idle-core queue and the core table.
type Engine struct {
	policy  policy
	waiting *queue.Ordered[*types.Job]
	idle    *queue.Ordered[int]
	running []*types.Job
	active  map[int]*types.Job

	stats     types.Stats
	completed []types.JobRecord

	observer Observer
	log      *slog.Logger

	strict   bool
	lastTime int
	arrivals map[int]struct{}

	closed bool
}

// New builds an engine with every core idle and zeroed statistics.
func New(cfg Config) (*Engine, error) {
	if cfg.Cores < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCoreCount, cfg.Cores)
	}
	p, err := policyFor(cfg.Scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", err, int(cfg.Scheme))
	}

	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		policy:   p,
		waiting:  queue.NewOrdered[*types.Job](p.compare),
		idle:     queue.NewOrdered(func(a, b int) int { return a - b }),
		running:  make([]*types.Job, cfg.Cores),
		active:   make(map[int]*types.Job),
		observer: observer,
		log:      logger.With("scheme", cfg.Scheme.String()),
		strict:   cfg.Strict,
		lastTime: types.Unset,
		arrivals: make(map[int]struct{}),
	}
	for core := 0; core < cfg.Cores; core++ {
		e.idle.InsertSorted(core)
	}

	e.log.Debug("Engine started", "cores", cfg.Cores)
	return e, nil
}

// Scheme returns the active scheduling discipline.
func (e *Engine) Scheme() types.Scheme { return e.policy.scheme }

// Cores returns the number of cores.
func (e *Engine) Cores() int { return len(e.running) }

// JobArrived registers a new job. It returns the core the job should run on,
// or None when the job was queued. A returned core that was busy has been
// preempted.
func (e *Engine) JobArrived(jobID, time, runTime, priority int) (int, error) {
	if err := e.checkTime(time); err != nil {
		return None, err
	}
	if runTime < 0 {
		return None, fmt.Errorf("%w: job %d run time %d", ErrInvalidRunTime, jobID, runTime)
	}
	if _, ok := e.active[jobID]; ok {
		return None, fmt.Errorf("%w: %d", ErrDuplicateJob, jobID)
	}
	if e.strict {
		if _, ok := e.arrivals[time]; ok {
			return None, fmt.Errorf("%w: %d", ErrDuplicateArrival, time)
		}
		// preemption charges every running job up to time
		if e.policy.preemptive && e.idle.IsEmpty() {
			for _, running := range e.running {
				if err := e.checkOverrun(running, time); err != nil {
					return None, err
				}
			}
		}
		e.arrivals[time] = struct{}{}
	}
	e.advance(time)

	job := types.NewJob(jobID, time, runTime, priority)
	e.active[jobID] = job
	e.observer.JobArrived(*job)

	if core, ok := e.idle.PollFront(); ok {
		e.schedule(job, core, time)
		e.reportDepth()
		return core, nil
	}

	if e.policy.preemptive {
		if core, ok := e.preempt(job, time); ok {
			e.reportDepth()
			return core, nil
		}
	}

	e.waiting.InsertSorted(job)
	e.reportDepth()
	return None, nil
}

// preempt replaces the least important running job with job when job
// compares strictly more important. Every core must be busy.
func (e *Engine) preempt(job *types.Job, time int) (int, bool) {
	least := 0
	for core, running := range e.running {
		e.sync(running, time)
		if core > 0 && e.policy.compare(running, e.running[least]) > 0 {
			least = core
		}
	}

	if e.policy.compare(job, e.running[least]) >= 0 {
		return None, false
	}

	victim := e.unschedule(least, time)
	e.observer.JobPreempted(least, *victim)
	e.schedule(job, least, time)
	e.log.Debug("Job preempted",
		"core", least,
		"victim", victim.ID,
		"victim_remaining", victim.RemainingTime,
		"job", job.ID,
		"at", time)
	return least, true
}

// JobFinished completes the job running on core and returns the id of the
// job that takes the core over, or None when the core goes idle.
func (e *Engine) JobFinished(core, jobID, time int) (int, error) {
	if err := e.checkTime(time); err != nil {
		return None, err
	}
	job, err := e.runningOn(core)
	if err != nil {
		return None, err
	}
	if job.ID != jobID {
		return None, fmt.Errorf("%w: core %d runs job %d, not %d", ErrJobMismatch, core, job.ID, jobID)
	}
	e.advance(time)

	e.running[core] = nil
	delete(e.active, job.ID)

	turnaround := time - job.ArrivalTime
	record := types.JobRecord{
		ID:         job.ID,
		Priority:   job.Priority,
		Arrival:    job.ArrivalTime,
		Start:      job.StartTime,
		Finish:     time,
		RunTime:    job.RunTime,
		Waiting:    turnaround - job.RunTime,
		Turnaround: turnaround,
		Response:   job.StartTime - job.ArrivalTime,
		Core:       core,
	}
	e.stats.Completed++
	e.stats.TotalTurnaround += record.Turnaround
	e.stats.TotalWaiting += record.Waiting
	e.stats.TotalResponse += record.Response
	e.completed = append(e.completed, record)
	e.observer.JobCompleted(record)

	e.log.Debug("Job finished",
		"core", core,
		"job", job.ID,
		"at", time,
		"turnaround", record.Turnaround)

	next := e.dispatchNext(core, time)
	e.reportDepth()
	return next, nil
}

// QuantumExpired rotates the job on core to the end of the waiting queue
// and returns the id of the job that now runs on core. Round-robin only.
func (e *Engine) QuantumExpired(core, time int) (int, error) {
	if err := e.checkTime(time); err != nil {
		return None, err
	}
	if e.policy.scheme != types.RR {
		return None, fmt.Errorf("%w: scheme %s", ErrQuantumNotApplicable, e.policy.scheme)
	}
	running, err := e.runningOn(core)
	if err != nil {
		return None, err
	}
	if e.strict {
		if err := e.checkOverrun(running, time); err != nil {
			return None, err
		}
	}
	e.advance(time)

	job := e.unplug(core, time)
	e.waiting.Append(job)
	e.observer.QuantumExpired(core, *job)

	next := e.dispatchNext(core, time)
	e.reportDepth()
	return next, nil
}

// AverageWaitingTime returns total waiting time over completed jobs.
func (e *Engine) AverageWaitingTime() (float64, error) {
	return e.average(e.stats.TotalWaiting)
}

// AverageTurnaroundTime returns total turnaround time over completed jobs.
func (e *Engine) AverageTurnaroundTime() (float64, error) {
	return e.average(e.stats.TotalTurnaround)
}

// AverageResponseTime returns total response time over completed jobs.
func (e *Engine) AverageResponseTime() (float64, error) {
	return e.average(e.stats.TotalResponse)
}

func (e *Engine) average(total int) (float64, error) {
	if e.closed {
		return 0, ErrEngineClosed
	}
	if e.stats.Completed == 0 {
		return 0, ErrNoCompletedJobs
	}
	return float64(total) / float64(e.stats.Completed), nil
}

// Stats returns the running totals.
func (e *Engine) Stats() types.Stats { return e.stats }

// Completed returns a copy of the completion records in completion order.
func (e *Engine) Completed() []types.JobRecord {
	out := make([]types.JobRecord, len(e.completed))
	copy(out, e.completed)
	return out
}

// State returns a read-only view of the core table and waiting order.
func (e *Engine) State() types.EngineState {
	state := types.EngineState{
		Scheme: e.policy.scheme,
		Cores:  make([]types.CoreState, len(e.running)),
		Stats:  e.stats,
	}
	for core, job := range e.running {
		cs := types.CoreState{Core: core, Idle: job == nil, JobID: None}
		if job != nil {
			cs.JobID = job.ID
		}
		state.Cores[core] = cs
	}
	if e.waiting != nil {
		for _, job := range e.waiting.Slice() {
			state.Waiting = append(state.Waiting, *job)
		}
	}
	return state
}

// ShowQueue renders running jobs by core, then waiting jobs in queue order,
// as "id(core)" with core -1 for waiting jobs. Example: "4(0) 2(-1) 1(-1)".
func (e *Engine) ShowQueue() string {
	var parts []string
	for core, job := range e.running {
		if job != nil {
			parts = append(parts, fmt.Sprintf("%d(%d)", job.ID, core))
		}
	}
	if e.waiting != nil {
		for _, job := range e.waiting.Slice() {
			parts = append(parts, fmt.Sprintf("%d(%d)", job.ID, None))
		}
	}
	return strings.Join(parts, " ")
}

// CleanUp releases both queues and the core table. Later calls fail with
// ErrEngineClosed.
func (e *Engine) CleanUp() {
	if e.closed {
		return
	}
	e.waiting.Destroy()
	e.idle.Destroy()
	e.waiting = nil
	e.idle = nil
	e.running = nil
	e.active = nil
	e.arrivals = nil
	e.closed = true
	e.log.Debug("Engine cleaned up", "completed", e.stats.Completed)
}

// ============================================================================
// internal transitions
// ============================================================================

func (e *Engine) checkTime(time int) error {
	if e.closed {
		return ErrEngineClosed
	}
	if e.strict && time < e.lastTime {
		return fmt.Errorf("%w: %d after %d", ErrTimeRegression, time, e.lastTime)
	}
	return nil
}

func (e *Engine) advance(time int) {
	if time > e.lastTime {
		e.lastTime = time
	}
}

func (e *Engine) runningOn(core int) (*types.Job, error) {
	if core < 0 || core >= len(e.running) {
		return nil, fmt.Errorf("%w: %d (cores %d)", ErrInvalidCore, core, len(e.running))
	}
	job := e.running[core]
	if job == nil {
		return nil, fmt.Errorf("%w: %d", ErrCoreIdle, core)
	}
	return job, nil
}

// checkOverrun rejects a running job that would be charged past its run
// time at time, meaning its finish was never reported.
func (e *Engine) checkOverrun(job *types.Job, time int) error {
	if left := job.RemainingTime - (time - job.LastUpdateTime); left < 0 {
		return fmt.Errorf("%w: job %d by %d at %d", ErrOverrun, job.ID, -left, time)
	}
	return nil
}

// sync charges the time since the last update against the job's remaining time.
// Strict engines reject overruns before reaching here.
func (e *Engine) sync(job *types.Job, time int) {
	job.RemainingTime -= time - job.LastUpdateTime
	if job.RemainingTime < 0 {
		e.log.Warn("Remaining time below zero, clamping",
			"job", job.ID,
			"remaining", job.RemainingTime,
			"at", time)
		job.RemainingTime = 0
	}
	job.LastUpdateTime = time
}

func (e *Engine) schedule(job *types.Job, core, time int) {
	if job.StartTime == types.Unset {
		job.StartTime = time
	}
	job.LastUpdateTime = time
	e.running[core] = job
	e.observer.JobDispatched(core, *job)
}

// unplug takes the job off core. A job that was placed at this same instant
// never ran, so its start time is cleared.
func (e *Engine) unplug(core, time int) *types.Job {
	job := e.running[core]
	e.running[core] = nil
	if job.StartTime == time {
		job.StartTime = types.Unset
	}
	e.sync(job, time)
	return job
}

func (e *Engine) unschedule(core, time int) *types.Job {
	job := e.unplug(core, time)
	e.waiting.InsertSorted(job)
	return job
}

func (e *Engine) dispatchNext(core, time int) int {
	if next, ok := e.waiting.PollFront(); ok {
		e.schedule(next, core, time)
		return next.ID
	}
	e.idle.InsertSorted(core)
	return None
}

func (e *Engine) reportDepth() {
	busy := len(e.running) - e.idle.Len()
	e.observer.QueueDepth(e.waiting.Len(), busy)
}
