package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"prunejuice/internal/config"
)

// options carries flag values and the resolved configuration shared by the
// subcommands.
type options struct {
	configPath string
	envFile    string
	flags      config.Config

	cfg config.Config
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&options{}) }

func newRootCmdWith(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "prunejuiced",
		Short:         "Local text-to-image generation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(o.envFile); err != nil {
				return err
			}
			if err := o.resolve(cmd); err != nil {
				return err
			}
			return setupLogging(o.cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to a config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading "+config.EnvPrefix+"* variables; missing is fine")
	pf.StringVar(&o.flags.LogLevel, "log-level", config.DefaultLogLevel, "Log level: trace, debug, info, warn, error")
	pf.StringVar(&o.flags.LogFile, "log-file", "", "Also write JSON logs to this file, rotated by size")
	pf.StringVar(&o.flags.ModelsDir, "models-dir", config.DefaultModelsDir, "Directory holding local checkpoints and downloaded weights")

	root.AddCommand(newServeCmd(o), newPullCmd(o))
	return root
}

// loadEnvFile exports the variables of path into the process environment
// without overriding ones already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// resolve layers the config file, PRUNEJUICE_* variables and explicitly set
// flags, in increasing precedence, then applies defaults.
func (o *options) resolve(cmd *cobra.Command) error {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return fmt.Errorf("config %s: %w", o.configPath, err)
		}
		cfg = c
	}
	env, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		return err
	}
	o.cfg = cfg.Merge(env).Merge(o.changedFlags(cmd)).WithDefaults()
	return nil
}

// changedFlags returns only the flags the user set on the command line, so
// flag defaults never mask file or environment values.
func (o *options) changedFlags(cmd *cobra.Command) config.Config {
	set := cmd.Flags()
	var c config.Config
	copyIf := func(name string, apply func()) {
		if set.Lookup(name) != nil && set.Changed(name) {
			apply()
		}
	}
	copyIf("log-level", func() { c.LogLevel = o.flags.LogLevel })
	copyIf("log-file", func() { c.LogFile = o.flags.LogFile })
	copyIf("models-dir", func() { c.ModelsDir = o.flags.ModelsDir })
	copyIf("addr", func() { c.Addr = o.flags.Addr })
	copyIf("output-dir", func() { c.OutputDir = o.flags.OutputDir })
	copyIf("default-model", func() { c.DefaultModel = o.flags.DefaultModel })
	copyIf("engine-url", func() { c.EngineURL = o.flags.EngineURL })
	copyIf("engine-timeout", func() { c.EngineTimeoutSeconds = o.flags.EngineTimeoutSeconds })
	copyIf("vram-limit-gb", func() { c.VRAMLimitGB = o.flags.VRAMLimitGB })
	copyIf("token-dir", func() { c.TokenDir = o.flags.TokenDir })
	copyIf("presets-file", func() { c.PresetsFile = o.flags.PresetsFile })
	copyIf("cors-origins", func() { c.CORSOrigins = o.flags.CORSOrigins })
	copyIf("max-body-bytes", func() { c.MaxBodyBytes = o.flags.MaxBodyBytes })
	copyIf("manifest", func() { c.WeightsManifest = o.flags.WeightsManifest })
	return c
}
