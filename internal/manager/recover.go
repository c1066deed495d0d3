package manager

import (
	"context"

	"prunejuice/internal/vram"
)

// EmergencyRelease runs a full device memory release under the slot, so it
// never overlaps a running generation. The resident pipeline stays loaded.
func (m *Manager) EmergencyRelease(ctx context.Context) (vram.Release, error) {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return vram.Release{}, err
	}
	defer release()
	rel, err := m.vram.EmergencyRelease(ctx)
	fields := map[string]any{"freed_bytes": rel.Freed()}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.publish(EventRecover, "", fields)
	return rel, err
}
