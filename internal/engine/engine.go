// Package engine defines the boundary between the lifecycle controller and the
// inference engine that owns the diffusion model, its solvers and the device.
//
// The controller never does tensor work itself. It asks a Runtime to load
// weights into a Pipeline, toggles memory strategies on that Pipeline, picks a
// solver per request and asks for one image. Implementations live in
// subpackages (diffusers: HTTP client for a co-located worker process).
package engine

import "context"

// Source describes where weights for a model id should come from.
type Source struct {
	// ID is the model identifier requested by the caller.
	ID string
	// Path is the local directory or file to load when Local is true;
	// otherwise the engine resolves ID against its remote registry.
	Path  string
	Local bool
}

// Ref returns what the engine should actually load.
func (s Source) Ref() string {
	if s.Local && s.Path != "" {
		return s.Path
	}
	return s.ID
}

// Optimization names one memory-reduction strategy a Pipeline can enable.
type Optimization string

const (
	// OptModelCPUOffload keeps sub-models that are not computing in host memory.
	OptModelCPUOffload Optimization = "model_cpu_offload"
	// OptVAESlicing decodes the latent batch in chunks.
	OptVAESlicing Optimization = "vae_slicing"
	// OptVAETiling decodes large outputs tile by tile.
	OptVAETiling Optimization = "vae_tiling"
	// OptAttentionSlicing computes attention in slices.
	OptAttentionSlicing Optimization = "attention_slicing"
	// OptMemoryEfficientAttention swaps in a memory-efficient attention kernel.
	// Not every device supports it.
	OptMemoryEfficientAttention Optimization = "memory_efficient_attention"
)

// SolverFamily identifies a scheduler algorithm.
type SolverFamily string

const (
	// SolverEulerAncestral is the ancestral sampler used for few-step runs.
	SolverEulerAncestral SolverFamily = "euler_ancestral"
	// SolverDPMMultistep is DPM-Solver++ multistep, used for quality runs.
	SolverDPMMultistep SolverFamily = "dpm_multistep"
)

// SchedulerConfig is the solver configuration attached to a pipeline.
type SchedulerConfig struct {
	Family          SolverFamily `json:"family"`
	TimestepSpacing string       `json:"timestep_spacing,omitempty"`
	KarrasSigmas    bool         `json:"use_karras_sigmas"`
}

// RunParams are the inputs of a single pipeline invocation.
type RunParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"num_inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	// Seed seeds a deterministic generator when non-nil.
	Seed *int64 `json:"seed,omitempty"`
}

// Image is one encoded output image.
type Image struct {
	Data        []byte
	ContentType string
}

// CollectOptions tunes a memory collection pass.
type CollectOptions struct {
	// IPC also reclaims memory held by inter-process handles.
	IPC bool `json:"ipc"`
}

// MemoryStats is a point-in-time view of device memory as seen by the engine.
type MemoryStats struct {
	Device         string `json:"device"`
	Accelerated    bool   `json:"accelerated"`
	AllocatedBytes int64  `json:"allocated_bytes"`
	ReservedBytes  int64  `json:"reserved_bytes"`
	FreeBytes      int64  `json:"free_bytes"`
	TotalBytes     int64  `json:"total_bytes"`
}

// Runtime is the inference engine capability.
type Runtime interface {
	// Load reads weights and returns a ready pipeline handle.
	Load(ctx context.Context, src Source) (Pipeline, error)
	// Collect runs a garbage collection pass and releases cached device
	// allocations that nothing references.
	Collect(ctx context.Context, opts CollectOptions) error
	// Memory reports current device memory usage.
	Memory(ctx context.Context) (MemoryStats, error)
}

// Pipeline is a loaded model plus its attached solver configuration.
type Pipeline interface {
	// ID returns the engine-side handle identifier.
	ID() string
	// Enable turns on a memory strategy. Enabling twice is a no-op.
	Enable(ctx context.Context, opt Optimization) error
	// SetScheduler replaces the pipeline's solver configuration.
	SetScheduler(ctx context.Context, cfg SchedulerConfig) error
	// Run produces one image.
	Run(ctx context.Context, params RunParams) (Image, error)
	// Close releases the handle and asks the engine to free its device memory.
	Close(ctx context.Context) error
}
