package trace

import (
	"sort"
	"sync"

	"github.com/ChuLiYu/coresched/pkg/types"
)

// Recorder writes engine transitions to a Log. It satisfies
// scheduler.Observer. The first write error is kept and later events are
// dropped; check Err after the run.
type Recorder struct {
	log *Log

	mu  sync.Mutex
	err error
}

// NewRecorder returns a Recorder appending to log.
func NewRecorder(log *Log) *Recorder {
	return &Recorder{log: log}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.log.Append(event, false)
}

func (r *Recorder) JobArrived(job types.Job) {
	r.record(Event{
		Type:      EventArrive,
		JobID:     job.ID,
		Core:      types.None,
		Time:      job.ArrivalTime,
		Remaining: job.RemainingTime,
	})
}

func (r *Recorder) JobDispatched(core int, job types.Job) {
	r.record(Event{
		Type:      EventDispatch,
		JobID:     job.ID,
		Core:      core,
		Time:      job.LastUpdateTime,
		Remaining: job.RemainingTime,
	})
}

func (r *Recorder) JobPreempted(core int, job types.Job) {
	r.record(Event{
		Type:      EventPreempt,
		JobID:     job.ID,
		Core:      core,
		Time:      job.LastUpdateTime,
		Remaining: job.RemainingTime,
	})
}

func (r *Recorder) QuantumExpired(core int, job types.Job) {
	r.record(Event{
		Type:      EventQuantum,
		JobID:     job.ID,
		Core:      core,
		Time:      job.LastUpdateTime,
		Remaining: job.RemainingTime,
	})
}

func (r *Recorder) JobCompleted(record types.JobRecord) {
	r.record(Event{
		Type:  EventFinish,
		JobID: record.ID,
		Core:  record.Core,
		Time:  record.Finish,
	})
}

// QueueDepth is not traced.
func (r *Recorder) QueueDepth(int, int) {}

// Summary aggregates a replayed trace.
type Summary struct {
	Events      int               `json:"events"`
	Counts      map[EventType]int `json:"counts"`
	Jobs        int               `json:"jobs"`
	Unfinished  []int             `json:"unfinished,omitempty"`
	Makespan    int               `json:"makespan"`
	BusyByCore  map[int]int       `json:"busy_by_core"`
	LastSeq     uint64            `json:"last_seq"`
	FirstArrive int               `json:"first_arrive"`
}

// Summarize folds events into a Summary. Busy time per core is measured
// from DISPATCH to the next PREEMPT, QUANTUM or FINISH on the same core.
func Summarize(events []Event) Summary {
	s := Summary{
		Counts:      make(map[EventType]int),
		BusyByCore:  make(map[int]int),
		FirstArrive: types.Unset,
	}
	since := make(map[int]int) // core -> dispatch time
	open := make(map[int]bool) // job id -> arrived, not finished

	for _, e := range events {
		s.Events++
		s.Counts[e.Type]++
		s.LastSeq = e.Seq

		switch e.Type {
		case EventArrive:
			s.Jobs++
			open[e.JobID] = true
			if s.FirstArrive == types.Unset || e.Time < s.FirstArrive {
				s.FirstArrive = e.Time
			}
		case EventDispatch:
			since[e.Core] = e.Time
		case EventPreempt, EventQuantum, EventFinish:
			if start, ok := since[e.Core]; ok {
				s.BusyByCore[e.Core] += e.Time - start
				delete(since, e.Core)
			}
			if e.Type == EventFinish {
				delete(open, e.JobID)
				if e.Time > s.Makespan {
					s.Makespan = e.Time
				}
			}
		}
	}

	for id := range open {
		s.Unfinished = append(s.Unfinished, id)
	}
	sort.Ints(s.Unfinished)
	return s
}
