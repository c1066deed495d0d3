package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"prunejuice/internal/config"
	"prunejuice/internal/weights"
)

func newPullCmd(o *options) *cobra.Command {
	var (
		retries int
		token   string
	)
	cmd := &cobra.Command{
		Use:   "pull [name...]",
		Short: "Download model weights listed in the manifest",
		Long: "Download the required entries of the weights manifest into the models dir, " +
			"or only the named entries. Files already present with a matching checksum are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(o.cfg)
			if err != nil {
				return err
			}
			f := weights.NewFetcher(o.cfg.ModelsDir, retries)
			f.Token = token

			var results []weights.Result
			if len(args) == 0 {
				results, err = f.FetchAll(cmd.Context(), m)
			} else {
				for _, name := range args {
					e, ok := m.Lookup(name)
					if !ok {
						return fmt.Errorf("unknown manifest entry %q", name)
					}
					r, ferr := f.Fetch(cmd.Context(), e)
					if ferr != nil {
						err = fmt.Errorf("%s: %w", name, ferr)
						break
					}
					results = append(results, r)
				}
			}
			for _, r := range results {
				ev := log.Info().Str("name", r.Entry.Name).Str("path", r.Path)
				if r.Skipped {
					ev.Msg("already present")
					continue
				}
				ev.Str("size", humanize.Bytes(uint64(r.Bytes))).Msg("downloaded")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&o.flags.WeightsManifest, "manifest", "", "Weights manifest YAML; empty uses the embedded one")
	cmd.Flags().IntVar(&retries, "retries", 4, "Retries per download on network or server errors")
	cmd.Flags().StringVar(&token, "hf-token", os.Getenv("HF_TOKEN"), "Bearer token for gated repositories")
	return cmd
}

func loadManifest(cfg config.Config) (weights.Manifest, error) {
	if cfg.WeightsManifest == "" {
		return weights.Builtin(), nil
	}
	return weights.LoadManifest(cfg.WeightsManifest)
}
