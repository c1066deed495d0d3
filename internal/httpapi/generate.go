package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"prunejuice/internal/manager"
	"prunejuice/pkg/types"
)

// decodeJSON enforces the JSON content type and the body limit. It writes the
// error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// oversize bodies also land here; no size detail is leaked
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// validateGenerate checks the fields the engine cannot be trusted to reject.
func validateGenerate(req types.GenerateRequest) string {
	if strings.TrimSpace(req.Prompt) == "" {
		return "prompt is required"
	}
	if req.StepCount != nil && *req.StepCount <= 0 {
		return "step_count must be positive"
	}
	if req.NumInferenceSteps != nil && *req.NumInferenceSteps <= 0 {
		return "num_inference_steps must be positive"
	}
	if (req.Width != nil && *req.Width <= 0) || (req.Height != nil && *req.Height <= 0) {
		return "width and height must be positive"
	}
	return ""
}

// handleGenerate godoc
// @Summary      Generate an image
// @Description  Waits for the exclusive generation slot, loads the requested model when needed and writes a PNG under the output directory.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BridgeToken
// @Param        body  body      types.GenerateRequest  true  "Generation request"
// @Success      200   {object}  types.GenerateResult
// @Failure      400   {object}  types.ErrorResponse
// @Failure      403   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      500   {object}  types.GenerationErrorResponse
// @Failure      507   {object}  types.GenerationErrorResponse
// @Router       /generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := validateGenerate(req); msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}
	params := s.styles.Apply(req.Style, req.Params())

	lvl := requestLogLevel(r)
	if ev := logEvent(r, lvl, nil); ev != nil {
		ev.Str("model", params.Model).Str("style", req.Style).Int("steps", params.StepCount).Msg("generate start")
	}
	start := time.Now()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	res, err := s.svc.Generate(ctx, params)
	if err != nil {
		if clientGone(r, err) {
			return
		}
		status := s.writeGenerationFailure(w, r, err)
		logEnd(r, lvl, status, start, err)
		return
	}
	if canceled(r) {
		// the image is on disk; nobody is left to read the response
		return
	}
	writeJSON(w, http.StatusOK, res)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// clientGone reports whether a failed generation can be dropped silently
// because the caller went away. An OOM still goes through
// writeGenerationFailure so device memory is released for the next request.
func clientGone(r *http.Request, err error) bool {
	return canceled(r) && !manager.IsResourceExhausted(err)
}

// writeGenerationFailure maps a Generate error to its response. Device OOM
// triggers an emergency release before the 507 goes out so the client can
// retry immediately.
func (s *server) writeGenerationFailure(w http.ResponseWriter, r *http.Request, err error) int {
	switch {
	case manager.IsResourceExhausted(err):
		countGenerationError(CodeResourceExhausted)
		rel, rerr := s.svc.EmergencyRelease(context.WithoutCancel(r.Context()))
		if rerr != nil {
			if ev := logEvent(r, LevelError, rerr); ev != nil {
				ev.Msg("emergency release after OOM")
			}
		}
		writeGenerationError(w, http.StatusInsufficientStorage, CodeResourceExhausted,
			"GPU out of memory; device memory was released, retry with a smaller request",
			&types.GenerationErrorDetails{Retryable: true, Suggestions: oomSuggestions, FreedBytes: rel.Freed()})
		return http.StatusInsufficientStorage
	case manager.IsInferenceError(err):
		countGenerationError(CodeInferenceError)
		writeGenerationError(w, http.StatusInternalServerError, CodeInferenceError, err.Error(), nil)
	default:
		countGenerationError(CodeInternalError)
		writeGenerationError(w, http.StatusInternalServerError, CodeInternalError, err.Error(), nil)
	}
	return http.StatusInternalServerError
}

// parseImageSize parses "WxH" as used by the OpenAI images API. Empty means
// the defaults.
func parseImageSize(size string) (int, int, error) {
	if size == "" {
		return types.DefaultWidth, types.DefaultHeight, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size must look like 1024x1024")
	}
	wi, err1 := strconv.Atoi(ws)
	hi, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return 0, 0, fmt.Errorf("size must look like 1024x1024")
	}
	return wi, hi, nil
}

// handleOpenAIImages godoc
// @Summary      OpenAI-compatible image generation
// @Description  Accepts an OpenAI images request and runs it through the same executor as /generate. The style field selects a preset.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Security     BridgeToken
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  types.ErrorResponse
// @Failure      403  {object}  types.ErrorResponse
// @Failure      500  {object}  types.GenerationErrorResponse
// @Failure      507  {object}  types.GenerationErrorResponse
// @Router       /v1/images/generations [post]
func (s *server) handleOpenAIImages(w http.ResponseWriter, r *http.Request) {
	var req openai.ImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	width, height, err := parseImageSize(req.Size)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	if n > maxImagesPerRequest {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("n must be at most %d", maxImagesPerRequest))
		return
	}
	switch req.ResponseFormat {
	case "", openai.CreateImageResponseFormatURL, openai.CreateImageResponseFormatB64JSON:
	default:
		writeJSONError(w, http.StatusBadRequest, "response_format must be url or b64_json")
		return
	}

	gr := types.GenerateRequest{Prompt: req.Prompt, Width: &width, Height: &height, Model: req.Model}
	params := s.styles.Apply(req.Style, gr.Params())

	lvl := requestLogLevel(r)
	start := time.Now()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	resp := openai.ImageResponse{Created: time.Now().Unix()}
	for i := 0; i < n; i++ {
		res, err := s.svc.Generate(ctx, params)
		if err != nil {
			if clientGone(r, err) {
				return
			}
			status := s.writeGenerationFailure(w, r, err)
			logEnd(r, lvl, status, start, err)
			return
		}
		item := openai.ImageResponseDataInner{RevisedPrompt: res.Metadata.Prompt}
		if req.ResponseFormat == openai.CreateImageResponseFormatB64JSON {
			data, err := os.ReadFile(res.ImageURL)
			if err != nil {
				countGenerationError(CodeInternalError)
				writeGenerationError(w, http.StatusInternalServerError, CodeInternalError, err.Error(), nil)
				logEnd(r, lvl, http.StatusInternalServerError, start, err)
				return
			}
			item.B64JSON = base64.StdEncoding.EncodeToString(data)
		} else {
			item.URL = res.ImageURL
		}
		resp.Data = append(resp.Data, item)
	}
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, http.StatusOK, start, nil)
}
