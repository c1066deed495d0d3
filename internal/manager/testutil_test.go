package manager

import (
	"path/filepath"
	"testing"
	"time"

	"prunejuice/internal/engine/enginetest"
)

// newTestManager returns a manager over a fake runtime with temp dirs.
func newTestManager(t *testing.T, rt *enginetest.Runtime) (*Manager, *MemoryPublisher) {
	t.Helper()
	dir := t.TempDir()
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{
		Runtime:   rt,
		ModelsDir: filepath.Join(dir, "models"),
		OutputDir: filepath.Join(dir, "outputs"),
		Publisher: pub,
	})
	return m, pub
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func ptr[T any](v T) *T { return &v }
