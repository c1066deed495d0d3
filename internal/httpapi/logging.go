package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zlog is the structured logger used by the HTTP layer. Nil means the global
// zerolog logger.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logger() *zerolog.Logger {
	if zlog != nil {
		return zlog
	}
	return &log.Logger
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from PRUNEJUICE_LOG_LEVEL. Unset means info so
// generations are logged out of the box.
var defaultLogLevel = func() LogLevel {
	v, ok := os.LookupEnv("PRUNEJUICE_LOG_LEVEL")
	if !ok {
		return LevelInfo
	}
	return parseLevel(v)
}()

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEvent returns an event at info (or error when err is set and the level
// allows it) carrying the request id, or nil when the request level mutes it.
func logEvent(r *http.Request, lvl LogLevel, err error) *zerolog.Event {
	var ev *zerolog.Event
	switch {
	case err != nil && lvl >= LevelError:
		ev = logger().Error().Err(err)
	case err == nil && lvl >= LevelInfo:
		ev = logger().Info()
	default:
		return nil
	}
	ev = ev.Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	return ev
}

// logEnd logs the outcome of a compute request.
func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if ev := logEvent(r, lvl, err); ev != nil {
		ev.Int("status", status).Dur("dur", time.Since(start)).Msg("request end")
	}
}
