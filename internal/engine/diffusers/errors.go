package diffusers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"prunejuice/internal/engine"
)

// StatusError is a non-2xx worker response. It unwraps to the engine sentinel
// matching the worker's error code, if any.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("diffusers %s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("diffusers %s %s: %d: %s", e.Method, e.Path, e.Status, msg)
}

func (e *StatusError) Unwrap() error { return e.kind }

// classify builds a StatusError from a worker response. OOM detection by
// message text is confined to this function; everything above the client
// matches on engine.ErrOutOfMemory.
func classify(method, path string, status int, raw []byte) error {
	se := &StatusError{Method: method, Path: path, Status: status}
	var we workerError
	if err := json.Unmarshal(raw, &we); err == nil && (we.ErrorCode != "" || we.Message != "") {
		se.Code = strings.ToUpper(strings.TrimSpace(we.ErrorCode))
		se.Message = we.Message
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	switch {
	case se.Code == CodeOutOfMemory || status == http.StatusInsufficientStorage:
		se.kind = engine.ErrOutOfMemory
	case se.Code == CodeUnsupported || status == http.StatusNotImplemented:
		se.kind = engine.ErrUnsupported
	case se.Code == CodeLoadFailed:
		se.kind = engine.ErrLoadFailed
	case strings.Contains(strings.ToLower(se.Message), "out of memory"):
		se.kind = engine.ErrOutOfMemory
	}
	return se
}
