package scheduler

import "github.com/ChuLiYu/coresched/pkg/types"

// Observer receives scheduling transitions as they happen. Jobs are passed
// by value; observers never see the engine's own records.
type Observer interface {
	JobArrived(job types.Job)
	JobDispatched(core int, job types.Job)
	JobPreempted(core int, job types.Job)
	QuantumExpired(core int, job types.Job)
	JobCompleted(record types.JobRecord)
	QueueDepth(waiting, busy int)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) JobArrived(types.Job) {}
func (NopObserver) JobDispatched(int, types.Job) {}
func (NopObserver) JobPreempted(int, types.Job) {}
func (NopObserver) QuantumExpired(int, types.Job) {}
func (NopObserver) JobCompleted(types.JobRecord) {}
func (NopObserver) QueueDepth(int, int) {}

type multiObserver []Observer

// MultiObserver fans notifications out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return NopObserver{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiObserver) JobArrived(job types.Job) {
	for _, o := range m {
		o.JobArrived(job)
	}
}

func (m multiObserver) JobDispatched(core int, job types.Job) {
	for _, o := range m {
		o.JobDispatched(core, job)
	}
}

func (m multiObserver) JobPreempted(core int, job types.Job) {
	for _, o := range m {
		o.JobPreempted(core, job)
	}
}

func (m multiObserver) QuantumExpired(core int, job types.Job) {
	for _, o := range m {
		o.QuantumExpired(core, job)
	}
}

func (m multiObserver) JobCompleted(record types.JobRecord) {
	for _, o := range m {
		o.JobCompleted(record)
	}
}

func (m multiObserver) QueueDepth(waiting, busy int) {
	for _, o := range m {
		o.QueueDepth(waiting, busy)
	}
}
