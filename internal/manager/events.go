package manager

import "time"

// Event names published by the manager.
const (
	EventEnsureStart   = "ensure_start"
	EventEnsureReady   = "ensure_ready"
	EventLoadFailed    = "load_failed"
	EventRelease       = "release"
	EventGenerateStart = "generate_start"
	EventGenerateDone  = "generate_done"
	EventGenerateError = "generate_error"
	EventRecover       = "recover"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string         `json:"event"`
	ModelID string         `json:"model_id,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, ModelID: modelID, Time: m.now(), Fields: fields})
}
