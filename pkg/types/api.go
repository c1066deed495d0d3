package types

// Defaults applied to a GenerateRequest when the caller omits a field.
const (
	DefaultWidth         = 1024
	DefaultHeight        = 1024
	DefaultStepCount     = 20
	DefaultGuidanceScale = 7.5
)

// GenerateRequest is the POST /generate payload.
type GenerateRequest struct {
	// Required prompt text.
	// example: a lighthouse at dusk
	Prompt string `json:"prompt" example:"a lighthouse at dusk"`
	// Things the image should avoid.
	// example: blurry, low quality
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, low quality"`
	// Output width in pixels. Passed through to the engine unvalidated beyond > 0.
	// example: 1024
	Width *int `json:"width,omitempty" example:"1024"`
	// Output height in pixels.
	// example: 1024
	Height *int `json:"height,omitempty" example:"1024"`
	// Number of denoising steps. Values <= 8 select the fast solver family.
	// example: 20
	StepCount *int `json:"step_count,omitempty" example:"20"`
	// Alias of step_count kept for clients of the original bridge.
	NumInferenceSteps *int `json:"num_inference_steps,omitempty" swaggerignore:"true"`
	// Classifier-free guidance scale.
	// example: 7.5
	GuidanceScale *float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Seed for reproducible output; omit for a non-deterministic run.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// Optional style preset id (see GET /styles). Unknown ids are ignored.
	// example: photographic
	Style string `json:"style,omitempty" example:"photographic"`
	// Optional model id; when set the model is made resident first.
	// example: stabilityai/stable-diffusion-xl-base-1.0
	Model string `json:"model,omitempty" example:"stabilityai/stable-diffusion-xl-base-1.0"`
}

// Params resolves the request against the package defaults. Preset expansion
// happens after this step.
func (r GenerateRequest) Params() GenerateParams {
	p := GenerateParams{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		StepCount:      DefaultStepCount,
		GuidanceScale:  DefaultGuidanceScale,
		Seed:           r.Seed,
		Model:          r.Model,
	}
	if r.Width != nil {
		p.Width = *r.Width
	}
	if r.Height != nil {
		p.Height = *r.Height
	}
	if r.NumInferenceSteps != nil {
		p.StepCount = *r.NumInferenceSteps
	}
	if r.StepCount != nil {
		p.StepCount = *r.StepCount
	}
	if r.GuidanceScale != nil {
		p.GuidanceScale = *r.GuidanceScale
	}
	return p
}

// GenerateParams is a fully resolved generation request.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	StepCount      int
	GuidanceScale  float64
	Seed           *int64
	Model          string
}

// GenerateMetadata echoes the parameters a generation actually ran with.
type GenerateMetadata struct {
	// example: 1024
	Width int `json:"width" example:"1024"`
	// example: 1024
	Height int `json:"height" example:"1024"`
	// example: 20
	Steps int `json:"steps" example:"20"`
	// example: 7.5
	GuidanceScale float64 `json:"guidance_scale" example:"7.5"`
	// Seed used, null when the run was non-deterministic.
	Seed *int64 `json:"seed"`
	// example: stabilityai/stable-diffusion-xl-base-1.0
	Model string `json:"model" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	// Solver family selected for this run.
	// example: dpm_multistep
	Scheduler string `json:"scheduler" example:"dpm_multistep"`

	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

// GenerateResult is returned by POST /generate.
type GenerateResult struct {
	// example: 1f0c7a52-4b8e-4d55-9d59-3b2c3c1f7c11
	ID string `json:"id" example:"1f0c7a52-4b8e-4d55-9d59-3b2c3c1f7c11"`
	// Path of the written PNG; readable as soon as the response is sent.
	// example: outputs/out_1700000000.png
	ImageURL string           `json:"image_url" example:"outputs/out_1700000000.png"`
	Metadata GenerateMetadata `json:"metadata"`
	// Wall-clock duration of the engine run in seconds.
	// example: 12.4
	GenerationTime float64 `json:"generation_time" example:"12.4"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Known model ids, default first.
	Models []string `json:"models"`
	// Resident model id, empty when nothing is loaded.
	// example: stabilityai/stable-diffusion-xl-base-1.0
	Current string `json:"current" example:"stabilityai/stable-diffusion-xl-base-1.0"`
}

// SwitchModelRequest is the POST /models/switch payload.
type SwitchModelRequest struct {
	// example: pruned_sdxl
	ModelID string `json:"model_id" example:"pruned_sdxl"`
}

// SwitchModelResponse reports a successful switch.
type SwitchModelResponse struct {
	Success bool `json:"success" example:"true"`
	// example: pruned_sdxl
	CurrentModel string `json:"current_model" example:"pruned_sdxl"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	// example: NVIDIA GeForce RTX 3070
	Device string `json:"device" example:"NVIDIA GeForce RTX 3070"`
	// False when the engine runs on CPU.
	Accelerated bool `json:"accelerated"`
	// example: 6442450944
	DeviceFreeBytes int64 `json:"device_free_bytes" example:"6442450944"`
	// example: 8589934592
	DeviceTotalBytes int64 `json:"device_total_bytes" example:"8589934592"`
	// example: 6.0 GB
	DeviceFree string `json:"device_free" example:"6.0 GB"`
	// example: 8.6 GB
	DeviceTotal string `json:"device_total" example:"8.6 GB"`
	// example: 41.5
	HostMemoryPercent float64 `json:"host_memory_percent" example:"41.5"`
	// example: stabilityai/stable-diffusion-xl-base-1.0
	CurrentModel string `json:"current_model" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	ModelLoaded  bool   `json:"model_loaded"`
	// Populated when the engine could not report memory.
	Error string `json:"error,omitempty"`
}

// RecoverResponse is returned by POST /recover.
type RecoverResponse struct {
	// True when the release reclaimed any device memory.
	Freed bool `json:"freed"`
	// example: 268435456
	FreedBytes int64 `json:"freed_bytes" example:"268435456"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// GenerationErrorResponse is the structured failure body of POST /generate.
type GenerationErrorResponse struct {
	// One of RESOURCE_EXHAUSTED, INFERENCE_ERROR, INTERNAL_ERROR.
	// example: RESOURCE_EXHAUSTED
	ErrorCode string `json:"error_code" example:"RESOURCE_EXHAUSTED"`
	Message   string `json:"message"`
	// Present for RESOURCE_EXHAUSTED.
	Details *GenerationErrorDetails `json:"details,omitempty"`
}

// GenerationErrorDetails carries retry guidance for resource failures.
type GenerationErrorDetails struct {
	Retryable   bool     `json:"retryable"`
	Suggestions []string `json:"suggestions"`
	// Bytes released by the emergency cleanup that followed the failure.
	FreedBytes int64 `json:"freed_bytes"`
}

// QueueStatus summarizes contention on the exclusive generation slot.
type QueueStatus struct {
	// Requests currently waiting for the slot.
	Waiting int `json:"waiting" example:"0"`
	// True while a load, generation or recovery holds the slot.
	Busy bool `json:"busy"`
	// Generation id of the running job, if any.
	CurrentJob string `json:"current_job,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (idle, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: stabilityai/stable-diffusion-xl-base-1.0
	CurrentModel string `json:"current_model,omitempty" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	// Last error observed by the manager (if any).
	LastError string      `json:"last_error,omitempty"`
	Queue     QueueStatus `json:"queue"`
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// example: 0
	LoadFailuresTotal uint64 `json:"load_failures_total" example:"0"`
	// example: 42
	GenerationsTotal uint64 `json:"generations_total" example:"42"`
	// example: 1
	OOMTotal uint64 `json:"oom_total" example:"1"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
