package scheduler

import "errors"

// Precondition violations. Always checked.
var (
	ErrInvalidCoreCount     = errors.New("scheduler: core count must be at least 1")
	ErrUnknownScheme        = errors.New("scheduler: unknown scheme")
	ErrInvalidCore          = errors.New("scheduler: core id out of range")
	ErrCoreIdle             = errors.New("scheduler: core is idle")
	ErrJobMismatch          = errors.New("scheduler: job is not running on core")
	ErrDuplicateJob         = errors.New("scheduler: job id already active")
	ErrInvalidRunTime       = errors.New("scheduler: run time must not be negative")
	ErrQuantumNotApplicable = errors.New("scheduler: quantum expiry outside round-robin")
	ErrNoCompletedJobs      = errors.New("scheduler: no job has completed")
	ErrEngineClosed         = errors.New("scheduler: engine cleaned up")
)

// Driver contract violations. Checked only when Config.Strict is set.
var (
	ErrTimeRegression   = errors.New("scheduler: time moved backwards")
	ErrDuplicateArrival = errors.New("scheduler: arrival time already used")
	ErrOverrun          = errors.New("scheduler: job ran past its run time")
)
