package engine

import "errors"

// Sentinel errors reported across the engine boundary. Implementations wrap
// them with context; callers test with errors.Is.
var (
	// ErrOutOfMemory reports device memory exhaustion during load or run.
	ErrOutOfMemory = errors.New("engine: device out of memory")
	// ErrLoadFailed reports missing, corrupt or incompatible weights.
	ErrLoadFailed = errors.New("engine: failed to load model")
	// ErrUnsupported reports an optional feature the device cannot provide.
	ErrUnsupported = errors.New("engine: not supported on this device")
	// ErrDependencyUnavailable reports that no engine is reachable.
	ErrDependencyUnavailable = errors.New("engine: inference engine unavailable")
)

// IsOutOfMemory reports whether err is a device out-of-memory condition.
func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }

// IsUnsupported reports whether err signals an unsupported optional feature.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupported) }
