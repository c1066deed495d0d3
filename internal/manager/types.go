package manager

import "time"

// State represents the lifecycle state of the manager.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// ModelInfo is a minimal view of the resident model.
type ModelInfo struct {
	ID       string
	Path     string
	Local    bool
	LoadedAt time.Time
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}
