// Package vram keeps a loaded pipeline inside the device memory budget. It
// toggles the engine's memory strategies once per load and runs the cleanup
// cycle around every generation.
//
// None of these operations are safe to run concurrently with an in-flight
// generation on the same pipeline; the manager calls them while holding its
// exclusive slot.
package vram

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/mem"

	"prunejuice/internal/engine"
)

// DefaultLimitBytes is the advisory ceiling for allocated device memory (7.5 GB).
const DefaultLimitBytes int64 = 7_500_000_000

// requiredOptimizations are enabled in this order; failures abort the load.
var requiredOptimizations = []engine.Optimization{
	engine.OptModelCPUOffload,
	engine.OptVAESlicing,
	engine.OptVAETiling,
	engine.OptAttentionSlicing,
}

// Status is a point-in-time memory report.
type Status struct {
	engine.MemoryStats
	HostMemoryPercent float64
	LimitBytes        int64
}

// Release reports the outcome of an emergency release.
type Release struct {
	BeforeBytes int64
	AfterBytes  int64
}

// Freed returns the number of allocated bytes reclaimed, never negative.
func (r Release) Freed() int64 {
	if d := r.BeforeBytes - r.AfterBytes; d > 0 {
		return d
	}
	return 0
}

// Manager wraps an engine runtime's memory controls.
type Manager struct {
	rt    engine.Runtime
	limit int64
	// hostPercent reports host memory usage; replaced in tests.
	hostPercent func(ctx context.Context) (float64, error)
}

// New returns a Manager. limitBytes <= 0 selects DefaultLimitBytes.
func New(rt engine.Runtime, limitBytes int64) *Manager {
	if limitBytes <= 0 {
		limitBytes = DefaultLimitBytes
	}
	return &Manager{rt: rt, limit: limitBytes, hostPercent: hostMemoryPercent}
}

// Limit returns the configured ceiling in bytes.
func (m *Manager) Limit() int64 { return m.limit }

// ApplyOptimizations enables every memory strategy on p in a fixed order and
// returns the same pipeline. Memory-efficient attention is best effort: its
// failure is logged and ignored.
func (m *Manager) ApplyOptimizations(ctx context.Context, p engine.Pipeline) (engine.Pipeline, error) {
	for _, opt := range requiredOptimizations {
		if err := p.Enable(ctx, opt); err != nil {
			return nil, fmt.Errorf("enable %s: %w", opt, err)
		}
	}
	if err := p.Enable(ctx, engine.OptMemoryEfficientAttention); err != nil {
		log.Warn().Str("pipeline", p.ID()).Err(err).Msg("vram: memory efficient attention unavailable, continuing without it")
	}
	return p, nil
}

// PreRun runs a full collection (including inter-process handles) before a
// generation.
func (m *Manager) PreRun(ctx context.Context) error {
	return m.rt.Collect(ctx, engine.CollectOptions{IPC: true})
}

// PostRun releases cached allocations after a generation or unload.
func (m *Manager) PostRun(ctx context.Context) error {
	return m.rt.Collect(ctx, engine.CollectOptions{})
}

// Status reports device and host memory. A host memory failure is logged and
// reported as zero; a device failure is returned alongside what is known.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{LimitBytes: m.limit}
	if pct, err := m.hostPercent(ctx); err == nil {
		st.HostMemoryPercent = pct
	} else {
		log.Debug().Err(err).Msg("vram: host memory unavailable")
	}
	ms, err := m.rt.Memory(ctx)
	st.MemoryStats = ms
	if err != nil {
		return st, err
	}
	deviceUsage.WithLabelValues("allocated").Set(float64(ms.AllocatedBytes))
	deviceUsage.WithLabelValues("reserved").Set(float64(ms.ReservedBytes))
	deviceUsage.WithLabelValues("free").Set(float64(ms.FreeBytes))
	return st, nil
}

// EnforceLimit runs PostRun when allocated device memory exceeds the ceiling.
// It never rejects work; the return value reports whether cleanup ran.
func (m *Manager) EnforceLimit(ctx context.Context) (bool, error) {
	ms, err := m.rt.Memory(ctx)
	if err != nil {
		return false, err
	}
	if ms.AllocatedBytes <= m.limit {
		return false, nil
	}
	log.Warn().
		Str("allocated", humanize.Bytes(uint64(ms.AllocatedBytes))).
		Str("limit", humanize.Bytes(uint64(m.limit))).
		Msg("vram: over limit, releasing cached memory")
	limitCleanups.Inc()
	return true, m.PostRun(ctx)
}

// EmergencyRelease runs a full collection and measures what it reclaimed.
// Memory readings are best effort; the collection result is what is returned
// as error.
func (m *Manager) EmergencyRelease(ctx context.Context) (Release, error) {
	var rel Release
	if ms, err := m.rt.Memory(ctx); err == nil {
		rel.BeforeBytes = ms.AllocatedBytes
	}
	if err := m.PreRun(ctx); err != nil {
		return rel, err
	}
	if ms, err := m.rt.Memory(ctx); err == nil {
		rel.AfterBytes = ms.AllocatedBytes
	} else {
		rel.AfterBytes = rel.BeforeBytes
	}
	emergencyReleases.Inc()
	releasedBytes.Add(float64(rel.Freed()))
	log.Info().Str("freed", humanize.Bytes(uint64(rel.Freed()))).Msg("vram: emergency release")
	return rel, nil
}

func hostMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
