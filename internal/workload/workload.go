// Package workload reads, writes and generates job workloads for the
// simulator. Files are YAML; JSON is accepted since it is a YAML subset.
//
// Example:
//
//	jobs:
//	  - {id: 0, arrival: 0, run_time: 8, priority: 1}
//	  - {id: 1, arrival: 1, run_time: 4, priority: 2}
package workload

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/coresched/pkg/types"
)

var (
	ErrEmptyWorkload    = errors.New("workload: no jobs")
	ErrDuplicateID      = errors.New("workload: duplicate job id")
	ErrDuplicateArrival = errors.New("workload: duplicate arrival time")
	ErrInvalidJob       = errors.New("workload: invalid job")
)

// Workload is an ordered set of jobs.
type Workload struct {
	Name string              `yaml:"name,omitempty" json:"name,omitempty"`
	Jobs []types.WorkloadJob `yaml:"jobs" json:"jobs"`
}

// Load reads and validates a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates workload data. Jobs come back sorted by
// arrival time.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workload: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	w.Sort()
	return &w, nil
}

// Save writes the workload as YAML.
func (w *Workload) Save(path string) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal workload: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write workload: %w", err)
	}
	return nil
}

// Validate checks the driver contract: ids and arrival times are unique,
// arrival times are non-negative and every job needs at least one unit of
// CPU time.
func (w *Workload) Validate() error {
	if len(w.Jobs) == 0 {
		return ErrEmptyWorkload
	}
	ids := make(map[int]struct{}, len(w.Jobs))
	arrivals := make(map[int]struct{}, len(w.Jobs))
	for _, job := range w.Jobs {
		if job.Arrival < 0 {
			return fmt.Errorf("%w: job %d arrival %d", ErrInvalidJob, job.ID, job.Arrival)
		}
		if job.RunTime < 1 {
			return fmt.Errorf("%w: job %d run_time %d", ErrInvalidJob, job.ID, job.RunTime)
		}
		if _, ok := ids[job.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, job.ID)
		}
		if _, ok := arrivals[job.Arrival]; ok {
			return fmt.Errorf("%w: %d (job %d)", ErrDuplicateArrival, job.Arrival, job.ID)
		}
		ids[job.ID] = struct{}{}
		arrivals[job.Arrival] = struct{}{}
	}
	return nil
}

// Sort orders jobs by arrival time, then id.
func (w *Workload) Sort() {
	sort.SliceStable(w.Jobs, func(i, j int) bool {
		if w.Jobs[i].Arrival != w.Jobs[j].Arrival {
			return w.Jobs[i].Arrival < w.Jobs[j].Arrival
		}
		return w.Jobs[i].ID < w.Jobs[j].ID
	})
}

// TotalRunTime sums the CPU time the workload asks for.
func (w *Workload) TotalRunTime() int {
	total := 0
	for _, job := range w.Jobs {
		total += job.RunTime
	}
	return total
}

// GenerateOptions controls Generate.
type GenerateOptions struct {
	Jobs        int   // number of jobs
	MaxGap      int   // arrival gaps are drawn from [1, MaxGap]
	MaxRunTime  int   // run times are drawn from [1, MaxRunTime]
	MaxPriority int   // priorities are drawn from [0, MaxPriority]
	Seed        int64 // same seed, same workload
}

// DefaultGenerateOptions returns a small mixed workload shape.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Jobs: 20, MaxGap: 4, MaxRunTime: 12, MaxPriority: 5, Seed: 1}
}

// Generate builds a random workload that satisfies Validate. The first job
// arrives at time 0 and ids follow arrival order.
func Generate(opts GenerateOptions) (*Workload, error) {
	if opts.Jobs < 1 || opts.MaxGap < 1 || opts.MaxRunTime < 1 || opts.MaxPriority < 0 {
		return nil, fmt.Errorf("%w: generate options %+v", ErrInvalidJob, opts)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	w := &Workload{
		Name: fmt.Sprintf("generated-seed-%d", opts.Seed),
		Jobs: make([]types.WorkloadJob, opts.Jobs),
	}
	arrival := 0
	for i := range w.Jobs {
		if i > 0 {
			arrival += 1 + rng.Intn(opts.MaxGap)
		}
		w.Jobs[i] = types.WorkloadJob{
			ID:       i,
			Arrival:  arrival,
			RunTime:  1 + rng.Intn(opts.MaxRunTime),
			Priority: rng.Intn(opts.MaxPriority + 1),
		}
	}
	return w, nil
}
