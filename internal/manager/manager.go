package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"prunejuice/internal/engine"
	"prunejuice/internal/registry"
	"prunejuice/internal/vram"
	"prunejuice/pkg/types"
)

// Manager owns at most one loaded pipeline.
type Manager struct {
	slot *slot

	mu          sync.RWMutex
	state       State
	cur         *ModelInfo
	pipe        engine.Pipeline
	err         string
	currentJob  string
	loads       uint64
	loadFails   uint64
	generations uint64
	ooms        uint64

	rt           engine.Runtime
	vram         *vram.Manager
	defaultModel string
	modelsDir    string
	outputDir    string
	publisher    EventPublisher
	now          func() time.Time
	startTime    time.Time
}

// New constructs a Manager over rt with default directories and model.
func New(rt engine.Runtime, modelsDir, outputDir string) *Manager {
	return NewWithConfig(ManagerConfig{Runtime: rt, ModelsDir: modelsDir, OutputDir: outputDir})
}

// DefaultModel returns the model id loaded when a request names none.
func (m *Manager) DefaultModel() string { return m.defaultModel }

// Ready reports whether the manager can take work. An idle manager is ready:
// models load on first use.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateIdle || m.state == StateReady
}

// ListAvailable returns the default model id followed by every local model
// under the models dir, and the resident id. It never loads anything and never
// creates the models dir.
func (m *Manager) ListAvailable() types.ModelsResponse {
	ids := []string{m.defaultModel}
	local, err := registry.LoadDir(m.modelsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", m.modelsDir).Msg("manager: scan models dir")
	}
	for _, mdl := range local {
		if mdl.ID == m.defaultModel {
			continue
		}
		ids = append(ids, mdl.ID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.ModelsResponse{Models: ids}
	if m.cur != nil {
		resp.Current = m.cur.ID
	}
	return resp
}
