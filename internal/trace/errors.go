package trace

// ============================================================================
// Trace Error Definitions
// Purpose: Define all trace-related error types
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrCorruptedTrace indicates the trace file cannot be parsed
	ErrCorruptedTrace = errors.New("trace: file is corrupted")

	// ErrChecksumMismatch indicates checksum mismatch (data corruption or tampering)
	ErrChecksumMismatch = errors.New("trace: checksum mismatch")

	// ErrSequenceGap indicates a missing or repeated sequence number
	ErrSequenceGap = errors.New("trace: sequence gap")

	// ErrTraceClosed indicates the trace is closed, cannot perform operation
	ErrTraceClosed = errors.New("trace: already closed")
)

// ChecksumError represents checksum error with detailed information
type ChecksumError struct {
	Seq      uint64 // Sequence number of failed event
	Expected uint32 // Expected checksum
	Actual   uint32 // Stored checksum
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("trace: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)",
		e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError represents trace corruption error
type CorruptionError struct {
	Seq    uint64 // Sequence number of the last good event
	Offset int64  // Byte offset in file
	Cause  error  // Underlying error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("trace: corrupted after seq=%d at offset %d: %v", e.Seq, e.Offset, e.Cause)
}

// Is lets errors.Is(err, ErrCorruptedTrace) match any CorruptionError.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruptedTrace
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
