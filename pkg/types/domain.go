package types

// Model represents a diffusion checkpoint the service can load, either a
// directory or weights file under the models dir or a remote registry id.
type Model struct {
	// Stable identifier for the model.
	// example: stabilityai/stable-diffusion-xl-base-1.0
	ID string `json:"id" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	// Human-friendly name.
	// example: sdxl-base
	Name string `json:"name" example:"sdxl-base"`
	// Absolute path on disk; empty for remote ids.
	// example: /home/user/prunejuice/models/pruned_sdxl
	Path string `json:"path,omitempty" example:"/home/user/prunejuice/models/pruned_sdxl"`
	// True when the weights are available locally.
	Local bool `json:"local"`
}

// Style is the public summary of a style preset.
type Style struct {
	// example: photographic
	ID string `json:"id" example:"photographic"`
	// example: Photographic
	Name string `json:"name" example:"Photographic"`
}
