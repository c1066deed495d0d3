package manager

import (
	"context"

	"github.com/dustin/go-humanize"

	"prunejuice/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur *ModelInfo
	if m.cur != nil {
		c := *m.cur
		cur = &c
	}
	return Snapshot{State: m.state, CurrentModel: cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:             string(m.state),
		LastError:         m.err,
		LoadsTotal:        m.loads,
		LoadFailuresTotal: m.loadFails,
		GenerationsTotal:  m.generations,
		OOMTotal:          m.ooms,
		UptimeSeconds:     int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:    now.Unix(),
		Queue: types.QueueStatus{
			Waiting:    int(m.slot.waiting.Load()),
			Busy:       m.slot.busy.Load(),
			CurrentJob: m.currentJob,
		},
	}
	if m.cur != nil {
		resp.CurrentModel = m.cur.ID
	}
	return resp
}

// Health reports device memory and the resident model. It never loads a model
// and never waits for the slot.
func (m *Manager) Health(ctx context.Context) types.HealthResponse {
	st, err := m.vram.Status(ctx)
	resp := types.HealthResponse{
		Status:            "ok",
		Device:            st.Device,
		Accelerated:       st.Accelerated,
		DeviceFreeBytes:   st.FreeBytes,
		DeviceTotalBytes:  st.TotalBytes,
		DeviceFree:        humanize.Bytes(uint64(max(st.FreeBytes, 0))),
		DeviceTotal:       humanize.Bytes(uint64(max(st.TotalBytes, 0))),
		HostMemoryPercent: st.HostMemoryPercent,
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
	}
	m.mu.RLock()
	if m.cur != nil {
		resp.CurrentModel = m.cur.ID
		resp.ModelLoaded = m.pipe != nil
	}
	m.mu.RUnlock()
	return resp
}
