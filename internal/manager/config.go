package manager

import (
	"time"

	"prunejuice/internal/engine"
	"prunejuice/internal/vram"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	DefaultModelID   = "stabilityai/stable-diffusion-xl-base-1.0"
	defaultModelsDir = "models"
	defaultOutputDir = "outputs"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Runtime is the inference engine. Nil selects engine.Unavailable.
	Runtime engine.Runtime
	// VRAM wraps Runtime's memory controls. Nil builds one from VRAMLimitBytes.
	VRAM           *vram.Manager
	VRAMLimitBytes int64

	DefaultModel string
	ModelsDir    string
	OutputDir    string

	Publisher EventPublisher
	// Now is the clock used for output names and durations (tests).
	Now func() time.Time
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	rt := cfg.Runtime
	if rt == nil {
		rt = engine.Unavailable{Reason: "no engine configured"}
	}
	vm := cfg.VRAM
	if vm == nil {
		vm = vram.New(rt, cfg.VRAMLimitBytes)
	}
	m := &Manager{
		state:        StateIdle,
		rt:           rt,
		vram:         vm,
		defaultModel: cfg.DefaultModel,
		modelsDir:    cfg.ModelsDir,
		outputDir:    cfg.OutputDir,
		publisher:    cfg.Publisher,
		now:          cfg.Now,
	}
	if m.defaultModel == "" {
		m.defaultModel = DefaultModelID
	}
	if m.modelsDir == "" {
		m.modelsDir = defaultModelsDir
	}
	if m.outputDir == "" {
		m.outputDir = defaultOutputDir
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.slot = newSlot()
	m.startTime = m.now()
	return m
}
