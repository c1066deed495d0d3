package manager

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Unload releases the resident pipeline, if any, and leaves the manager idle.
func (m *Manager) Unload(ctx context.Context) error {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	m.releaseLocked(ctx, "unload")
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	return nil
}

// releaseLocked closes the resident pipeline and returns cached device memory.
// Close and cleanup failures are logged; the slot always ends up empty.
// Requires the slot.
func (m *Manager) releaseLocked(ctx context.Context, reason string) {
	m.mu.Lock()
	p, cur := m.pipe, m.cur
	m.pipe, m.cur = nil, nil
	m.mu.Unlock()
	if p == nil {
		return
	}
	id := ""
	if cur != nil {
		id = cur.ID
	}
	if err := p.Close(ctx); err != nil {
		log.Warn().Err(err).Str("model", id).Msg("manager: close pipeline")
	}
	if err := m.vram.PostRun(ctx); err != nil {
		log.Warn().Err(err).Msg("manager: post-release cleanup")
	}
	residentModel.Reset()
	m.publish(EventRelease, id, map[string]any{"reason": reason})
}
