package trace

// ============================================================================
// Trace Type Definitions
// Responsibility: Define the records written to the scheduling trace
// ============================================================================

// EventType defines trace event types
type EventType string

const (
	EventArrive   EventType = "ARRIVE"   // Job registered with the engine
	EventDispatch EventType = "DISPATCH" // Job placed on a core
	EventPreempt  EventType = "PREEMPT"  // Job taken off a core by a more important arrival
	EventQuantum  EventType = "QUANTUM"  // Job rotated to the back of the queue (RR)
	EventFinish   EventType = "FINISH"   // Job completed
)

// Event represents one trace record
type Event struct {
	Seq       uint64    `json:"seq"`       // Event sequence number (monotonically increasing, from 1)
	Type      EventType `json:"type"`      // Event type
	JobID     int       `json:"job_id"`    // Job ID
	Core      int       `json:"core"`      // Core id, -1 for ARRIVE
	Time      int       `json:"time"`      // Simulated time of the transition
	Remaining int       `json:"remaining"` // Remaining run time after the transition
	Checksum  uint32    `json:"checksum"`  // CRC32 checksum
}

// EventHandler is the function type for processing trace events during Replay
type EventHandler func(event Event) error
