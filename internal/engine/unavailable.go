package engine

import (
	"context"
	"fmt"
)

// Unavailable is the Runtime used when no inference engine is configured.
// It refuses to load anything rather than pretending to generate images.
type Unavailable struct {
	Reason string
}

func (u Unavailable) err() error {
	if u.Reason == "" {
		return ErrDependencyUnavailable
	}
	return fmt.Errorf("%w: %s", ErrDependencyUnavailable, u.Reason)
}

func (u Unavailable) Load(ctx context.Context, src Source) (Pipeline, error) {
	return nil, u.err()
}

// Collect is a no-op: there is no device memory to release.
func (u Unavailable) Collect(ctx context.Context, opts CollectOptions) error { return nil }

func (u Unavailable) Memory(ctx context.Context) (MemoryStats, error) {
	return MemoryStats{Device: "unavailable"}, u.err()
}
