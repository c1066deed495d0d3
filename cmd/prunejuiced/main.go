// Command prunejuiced serves the prunejuice generation API and fetches the
// model weights it runs on.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("prunejuiced")
		os.Exit(1)
	}
}
