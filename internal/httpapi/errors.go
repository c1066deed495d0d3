package httpapi

import (
	"encoding/json"
	"net/http"

	"prunejuice/pkg/types"
)

// Generation failure codes returned in GenerationErrorResponse.ErrorCode.
const (
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeInferenceError    = "INFERENCE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// oomSuggestions are returned with every RESOURCE_EXHAUSTED response.
var oomSuggestions = []string{
	"Reduce image resolution (e.g. 768x768)",
	"Lower the step count",
	"Retry once the emergency release has completed",
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeGenerationError writes the structured failure body of the compute routes.
func writeGenerationError(w http.ResponseWriter, status int, code, msg string, details *types.GenerationErrorDetails) {
	writeJSON(w, status, types.GenerationErrorResponse{ErrorCode: code, Message: msg, Details: details})
}
