package manager

import "errors"

// noPipelineError signals that no pipeline could be made resident. Callers
// treat it as a retryable precondition failure.
type noPipelineError struct {
	modelID string
	cause   error
}

func (e noPipelineError) Error() string {
	if e.cause == nil {
		return "no pipeline loaded: " + e.modelID
	}
	return "no pipeline loaded: " + e.modelID + ": " + e.cause.Error()
}

func (e noPipelineError) Unwrap() error { return e.cause }

// ErrNoPipeline constructs a noPipelineError.
func ErrNoPipeline(modelID string, cause error) error {
	return noPipelineError{modelID: modelID, cause: cause}
}

// IsNoPipeline reports whether err indicates a failed or missing load.
func IsNoPipeline(err error) bool {
	var e noPipelineError
	return errors.As(err, &e)
}

// resourceExhaustedError signals device memory exhaustion during a generation
// so the HTTP layer can release memory and return 507.
type resourceExhaustedError struct{ cause error }

func (e resourceExhaustedError) Error() string { return "resource exhausted: " + e.cause.Error() }

func (e resourceExhaustedError) Unwrap() error { return e.cause }

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(cause error) error { return resourceExhaustedError{cause: cause} }

// IsResourceExhausted reports whether err is an out-of-memory failure.
func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}

// inferenceError wraps any other engine failure during a generation.
type inferenceError struct{ cause error }

func (e inferenceError) Error() string { return "inference failed: " + e.cause.Error() }

func (e inferenceError) Unwrap() error { return e.cause }

// ErrInference constructs an inferenceError.
func ErrInference(cause error) error { return inferenceError{cause: cause} }

// IsInferenceError reports whether err is a non-OOM engine failure.
func IsInferenceError(err error) bool {
	var e inferenceError
	return errors.As(err, &e)
}
