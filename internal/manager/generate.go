package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"prunejuice/internal/common/fsutil"
	"prunejuice/internal/engine"
	"prunejuice/pkg/types"
)

// Generate runs one text-to-image generation on the resident pipeline,
// loading params.Model (or the default when nothing is resident) first. The
// image is written under the output dir before Generate returns.
//
// ctx only bounds waiting for the slot. Once the slot is held the load and
// run complete even if ctx is canceled; the caller discards the result.
//
// Errors: IsNoPipeline when the load fails, IsResourceExhausted on device
// OOM, IsInferenceError for other engine failures. Persistence failures are
// returned wrapped.
func (m *Manager) Generate(ctx context.Context, params types.GenerateParams) (types.GenerateResult, error) {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return types.GenerateResult{}, err
	}
	defer release()

	id := params.Model
	if id == "" {
		m.mu.RLock()
		if m.cur != nil {
			id = m.cur.ID
		}
		m.mu.RUnlock()
	}
	p, err := m.ensureLocked(ctx, id)
	if err != nil {
		return types.GenerateResult{}, err
	}
	if id == "" {
		id = m.defaultModel
	}

	jobID := uuid.NewString()
	m.mu.Lock()
	m.currentJob = jobID
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.currentJob = ""
		m.mu.Unlock()
	}()

	sched := SelectScheduler(params.StepCount)
	m.publish(EventGenerateStart, id, map[string]any{"id": jobID, "steps": params.StepCount, "scheduler": string(sched.Family)})

	if err := m.vram.PreRun(ctx); err != nil {
		log.Warn().Err(err).Str("id", jobID).Msg("manager: pre-run cleanup")
	}

	if err := p.SetScheduler(ctx, sched); err != nil {
		return types.GenerateResult{}, m.generationFailed(jobID, id, sched, err)
	}

	start := m.now()
	img, err := p.Run(ctx, engine.RunParams{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Width:          params.Width,
		Height:         params.Height,
		Steps:          params.StepCount,
		GuidanceScale:  params.GuidanceScale,
		Seed:           params.Seed,
	})
	elapsed := m.now().Sub(start)
	if err != nil {
		return types.GenerateResult{}, m.generationFailed(jobID, id, sched, err)
	}

	path, err := m.persist(start, jobID, img.Data)
	if err != nil {
		generationsTotal.WithLabelValues("persist_error").Inc()
		m.publish(EventGenerateError, id, map[string]any{"id": jobID, "error": err.Error()})
		return types.GenerateResult{}, err
	}

	if err := m.vram.PostRun(ctx); err != nil {
		log.Warn().Err(err).Str("id", jobID).Msg("manager: post-run cleanup")
	}
	if _, err := m.vram.EnforceLimit(ctx); err != nil {
		log.Debug().Err(err).Msg("manager: limit check")
	}

	m.mu.Lock()
	m.generations++
	m.mu.Unlock()
	generationsTotal.WithLabelValues("ok").Inc()
	generationDuration.WithLabelValues(string(sched.Family)).Observe(elapsed.Seconds())

	res := types.GenerateResult{
		ID:       jobID,
		ImageURL: filepath.ToSlash(path),
		Metadata: types.GenerateMetadata{
			Width:          params.Width,
			Height:         params.Height,
			Steps:          params.StepCount,
			GuidanceScale:  params.GuidanceScale,
			Seed:           params.Seed,
			Model:          id,
			Scheduler:      string(sched.Family),
			Prompt:         params.Prompt,
			NegativePrompt: params.NegativePrompt,
		},
		GenerationTime: elapsed.Seconds(),
	}
	log.Info().
		Str("id", jobID).
		Str("model", id).
		Str("scheduler", string(sched.Family)).
		Int("steps", params.StepCount).
		Dur("dur", elapsed).
		Str("path", res.ImageURL).
		Msg("manager: generation done")
	m.publish(EventGenerateDone, id, map[string]any{"id": jobID, "image_url": res.ImageURL, "generation_time": res.GenerationTime})
	return res, nil
}

// generationFailed classifies an engine error and records it.
func (m *Manager) generationFailed(jobID, modelID string, sched engine.SchedulerConfig, err error) error {
	var out error
	outcome := "inference_error"
	if engine.IsOutOfMemory(err) {
		out = ErrResourceExhausted(err)
		outcome = "oom"
		m.mu.Lock()
		m.ooms++
		m.mu.Unlock()
	} else {
		out = ErrInference(err)
	}
	if errors.Is(err, context.Canceled) {
		outcome = "canceled"
	}
	m.mu.Lock()
	m.err = err.Error()
	m.mu.Unlock()
	generationsTotal.WithLabelValues(outcome).Inc()
	log.Error().Err(err).Str("id", jobID).Str("model", modelID).Str("scheduler", string(sched.Family)).Msg("manager: generation failed")
	m.publish(EventGenerateError, modelID, map[string]any{"id": jobID, "error": err.Error(), "oom": outcome == "oom"})
	return out
}

// persist writes the image as <output>/out_<unix>.png. When a file with that
// name already exists (two runs in the same second) the job id is appended
// so no earlier result is overwritten.
func (m *Manager) persist(at time.Time, jobID string, data []byte) (string, error) {
	path := filepath.Join(m.outputDir, fmt.Sprintf("out_%d.png", at.Unix()))
	if fsutil.PathExists(path) {
		path = filepath.Join(m.outputDir, fmt.Sprintf("out_%d_%s.png", at.Unix(), jobID[:8]))
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persist image: %w", err)
	}
	return path, nil
}
