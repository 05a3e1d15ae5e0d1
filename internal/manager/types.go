package manager

import "time"

// State is the orchestrator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateError         State = "error"
)

// DisplayStatus is the user-facing status derived from State and the
// outcome of the last initialization.
type DisplayStatus string

const (
	StatusNotDownloaded DisplayStatus = "not-downloaded"
	StatusInitializing  DisplayStatus = "initializing"
	StatusReady         DisplayStatus = "ready"
	StatusDegraded      DisplayStatus = "degraded"
	StatusError         DisplayStatus = "error"
)

// Snapshot is a read-only projection of the orchestrator state.
type Snapshot struct {
	State         State
	Status        DisplayStatus
	ModelID       string
	EngineRunning bool
	// Capabilities lists the declared capability types of ModelID.
	Capabilities   []string
	LastError      string
	ErrorRate      float64
	RecentRequests int
	StartedAt      time.Time
}

// ModelName returns the model id, or nil when none is selected.
func (s Snapshot) ModelName() *string {
	if s.ModelID == "" {
		return nil
	}
	id := s.ModelID
	return &id
}
