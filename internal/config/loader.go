package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Defaults applied by WithDefaults.
const (
	DefaultAddr                 = "127.0.0.1:8000"
	DefaultModelsDir            = "models"
	DefaultOutputDir            = "outputs"
	DefaultModel                = "stabilityai/stable-diffusion-xl-base-1.0"
	DefaultVRAMLimitGB          = 7.5
	DefaultLogLevel             = "info"
	DefaultMaxBodyBytes         = 1 << 20
	DefaultEngineTimeoutSeconds = 120
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "PRUNEJUICE_"

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	OutputDir    string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// EngineURL is the diffusers worker base URL. Empty disables generation.
	EngineURL            string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	EngineAPIKey         string `json:"engine_api_key" yaml:"engine_api_key" toml:"engine_api_key"`
	EngineTimeoutSeconds int    `json:"engine_timeout_seconds" yaml:"engine_timeout_seconds" toml:"engine_timeout_seconds"`

	VRAMLimitGB float64 `json:"vram_limit_gb" yaml:"vram_limit_gb" toml:"vram_limit_gb"`

	// TokenDir is where .bridge_token is written. Empty means the working dir.
	TokenDir    string `json:"token_dir" yaml:"token_dir" toml:"token_dir"`
	PresetsFile string `json:"presets_file" yaml:"presets_file" toml:"presets_file"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`

	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	WeightsManifest string `json:"weights_manifest" yaml:"weights_manifest" toml:"weights_manifest"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults returns a copy with every unspecified field defaulted.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.EngineTimeoutSeconds <= 0 {
		c.EngineTimeoutSeconds = DefaultEngineTimeoutSeconds
	}
	if c.VRAMLimitGB <= 0 {
		c.VRAMLimitGB = DefaultVRAMLimitGB
	}
	if c.TokenDir == "" {
		c.TokenDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// VRAMLimitBytes converts the configured limit to bytes (decimal GB).
func (c Config) VRAMLimitBytes() int64 {
	return int64(c.VRAMLimitGB * 1e9)
}

// Merge returns c with every non-zero field of o applied on top.
func (c Config) Merge(o Config) Config {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&c.Addr, o.Addr)
	setStr(&c.ModelsDir, o.ModelsDir)
	setStr(&c.OutputDir, o.OutputDir)
	setStr(&c.DefaultModel, o.DefaultModel)
	setStr(&c.EngineURL, o.EngineURL)
	setStr(&c.EngineAPIKey, o.EngineAPIKey)
	setStr(&c.TokenDir, o.TokenDir)
	setStr(&c.PresetsFile, o.PresetsFile)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.LogFile, o.LogFile)
	setStr(&c.WeightsManifest, o.WeightsManifest)
	if o.EngineTimeoutSeconds > 0 {
		c.EngineTimeoutSeconds = o.EngineTimeoutSeconds
	}
	if o.VRAMLimitGB > 0 {
		c.VRAMLimitGB = o.VRAMLimitGB
	}
	if len(o.CORSOrigins) > 0 {
		c.CORSOrigins = append([]string(nil), o.CORSOrigins...)
	}
	if o.MaxBodyBytes > 0 {
		c.MaxBodyBytes = o.MaxBodyBytes
	}
	return c
}

// FromEnv builds a Config from PRUNEJUICE_* variables. Malformed numbers are
// reported rather than ignored.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	var c Config
	get := func(k string) string {
		v, _ := lookup(EnvPrefix + k)
		return strings.TrimSpace(v)
	}
	c.Addr = get("ADDR")
	c.ModelsDir = get("MODELS_DIR")
	c.OutputDir = get("OUTPUT_DIR")
	c.DefaultModel = get("DEFAULT_MODEL")
	c.EngineURL = get("ENGINE_URL")
	c.EngineAPIKey = get("ENGINE_API_KEY")
	c.TokenDir = get("TOKEN_DIR")
	c.PresetsFile = get("PRESETS_FILE")
	c.LogLevel = get("LOG_LEVEL")
	c.LogFile = get("LOG_FILE")
	c.WeightsManifest = get("WEIGHTS_MANIFEST")
	c.CORSOrigins = SplitCSV(get("CORS_ORIGINS"))
	if v := get("ENGINE_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%sENGINE_TIMEOUT_SECONDS: %w", EnvPrefix, err)
		}
		c.EngineTimeoutSeconds = n
	}
	if v := get("VRAM_LIMIT_GB"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, fmt.Errorf("%sVRAM_LIMIT_GB: %w", EnvPrefix, err)
		}
		c.VRAMLimitGB = f
	}
	if v := get("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		c.MaxBodyBytes = n
	}
	return c, nil
}

// SplitCSV splits a comma separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
