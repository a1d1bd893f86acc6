package scheduler

import (
	"cmp"

	"github.com/ChuLiYu/coresched/pkg/types"
)

// Comparator orders jobs: a negative result means a is more important than b.
type Comparator func(a, b *types.Job) int

// policy is the per-scheme capability chosen once at construction.
type policy struct {
	scheme     types.Scheme
	compare    Comparator
	preemptive bool
}

// byArrival orders by arrival time; arrival times are unique.
func byArrival(a, b *types.Job) int {
	return cmp.Compare(a.ArrivalTime, b.ArrivalTime)
}

// byRemaining orders by remaining time, ties by arrival.
func byRemaining(a, b *types.Job) int {
	if c := cmp.Compare(a.RemainingTime, b.RemainingTime); c != 0 {
		return c
	}
	return byArrival(a, b)
}

// byPriority orders by priority value (lower first), ties by arrival.
func byPriority(a, b *types.Job) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	return byArrival(a, b)
}

func policyFor(scheme types.Scheme) (policy, error) {
	p := policy{scheme: scheme, preemptive: scheme.Preemptive()}
	switch scheme {
	case types.FCFS, types.RR:
		p.compare = byArrival
	case types.SJF, types.PSJF:
		p.compare = byRemaining
	case types.PRI, types.PPRI:
		p.compare = byPriority
	default:
		return policy{}, ErrUnknownScheme
	}
	return p, nil
}

// ComparatorFor exposes the waiting-queue ordering installed for a scheme.
func ComparatorFor(scheme types.Scheme) (Comparator, error) {
	p, err := policyFor(scheme)
	if err != nil {
		return nil, err
	}
	return p.compare, nil
}
