package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prunejuice/internal/auth"
	"prunejuice/internal/presets"
	"prunejuice/internal/vram"
	"prunejuice/pkg/types"
)

// ServiceName is reported by GET /.
const ServiceName = "Prunejuice AI Backend"

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListAvailable() types.ModelsResponse
	SwitchTo(ctx context.Context, id string) bool
	Generate(ctx context.Context, params types.GenerateParams) (types.GenerateResult, error)
	EmergencyRelease(ctx context.Context) (vram.Release, error)
	Health(ctx context.Context) types.HealthResponse
	Status() types.StatusResponse
	Ready() bool
}

// Options wires the optional collaborators of the mux.
type Options struct {
	// Gate guards the compute routes. A nil Gate rejects every guarded request.
	Gate *auth.Gate
	// Styles expands the style field of generation requests. Nil means the
	// embedded catalog.
	Styles *presets.Catalog
	// Events serves GET /events. Nil leaves the route unregistered.
	Events http.Handler
}

type server struct {
	svc    Service
	styles *presets.Catalog
}

// NewMux builds the HTTP handler. Read-only routes are public; anything that
// touches the device sits behind the bridge token.
func NewMux(svc Service, opts Options) http.Handler {
	s := &server{svc: svc, styles: opts.Styles}
	if s.styles == nil {
		s.styles = presets.Builtin()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)
		r.Get("/healthz", s.handleHealthz)
		r.Get("/readyz", s.handleReadyz)
		r.Get("/status", s.handleStatus)
		r.Get("/models", s.handleModels)
		r.Get("/styles", s.handleStyles)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		MountSwagger(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(guard(opts.Gate))
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Post("/models/switch", s.handleSwitch)
			r.Post("/generate", s.handleGenerate)
			r.Post("/v1/images/generations", s.handleOpenAIImages)
			r.Post("/recover", s.handleRecover)
		})
		if opts.Events != nil {
			r.Get("/events", opts.Events.ServeHTTP)
		}
	})

	return r
}

func guard(g *auth.Gate) func(http.Handler) http.Handler {
	if g != nil {
		return g.Middleware
	}
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusForbidden, "bridge token not configured")
		})
	}
}

// handleRoot godoc
// @Summary      Service banner
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       / [get]
func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

// handleHealth godoc
// @Summary      Device and model health
// @Description  Never loads a model and never waits for a running generation.
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health(r.Context()))
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// handleStatus godoc
// @Summary      Manager status
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleModels godoc
// @Summary      List models
// @Description  Default model first, then local checkpoints. Never loads.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListAvailable())
}

// handleStyles godoc
// @Summary      List style presets
// @Tags         generation
// @Produce      json
// @Success      200  {array}  types.Style
// @Router       /styles [get]
func (s *server) handleStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.styles.List())
}

// handleSwitch godoc
// @Summary      Make a model resident
// @Tags         models
// @Accept       json
// @Produce      json
// @Security     BridgeToken
// @Param        body  body      types.SwitchModelRequest  true  "Model to load"
// @Success      200   {object}  types.SwitchModelResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      403   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Router       /models/switch [post]
func (s *server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req types.SwitchModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ModelID == "" {
		writeJSONError(w, http.StatusBadRequest, "model_id is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if !s.svc.SwitchTo(ctx, req.ModelID) {
		if canceled(r) {
			return
		}
		writeJSONError(w, http.StatusNotFound, "Model not found")
		return
	}
	writeJSON(w, http.StatusOK, types.SwitchModelResponse{Success: true, CurrentModel: req.ModelID})
}

// handleRecover godoc
// @Summary      Force an emergency device memory release
// @Tags         generation
// @Produce      json
// @Security     BridgeToken
// @Success      200  {object}  types.RecoverResponse
// @Failure      403  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /recover [post]
func (s *server) handleRecover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	rel, err := s.svc.EmergencyRelease(ctx)
	if err != nil {
		if canceled(r) {
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.RecoverResponse{Freed: rel.Freed() > 0, FreedBytes: rel.Freed()})
}
