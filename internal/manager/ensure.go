package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"prunejuice/internal/engine"
	"prunejuice/internal/registry"
)

// EnsureLoaded makes id the resident model and returns its pipeline. An empty
// id means the default model. Asking for the resident model is a no-op; any
// other id releases the current pipeline before loading.
func (m *Manager) EnsureLoaded(ctx context.Context, id string) (engine.Pipeline, error) {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.ensureLocked(ctx, id)
}

// SwitchTo loads id for the swap endpoint. False means the load failed and
// nothing is resident.
func (m *Manager) SwitchTo(ctx context.Context, id string) bool {
	_, err := m.EnsureLoaded(ctx, id)
	return err == nil
}

// ensureLocked requires the slot.
func (m *Manager) ensureLocked(ctx context.Context, id string) (engine.Pipeline, error) {
	if id == "" {
		id = m.defaultModel
	}
	m.mu.RLock()
	p := m.pipe
	resident := p != nil && m.cur != nil && m.cur.ID == id
	m.mu.RUnlock()
	if resident {
		return p, nil
	}

	m.releaseLocked(ctx, "swap")

	src := m.source(id)
	m.mu.Lock()
	m.state = StateLoading
	m.mu.Unlock()
	m.publish(EventEnsureStart, id, map[string]any{"local": src.Local})
	log.Info().Str("model", id).Bool("local", src.Local).Str("ref", src.Ref()).Msg("manager: loading model")

	start := time.Now()
	p, err := m.rt.Load(ctx, src)
	if err == nil {
		if _, err = m.vram.ApplyOptimizations(ctx, p); err != nil {
			if cerr := p.Close(ctx); cerr != nil {
				log.Warn().Err(cerr).Str("model", id).Msg("manager: close after failed optimization")
			}
			if cerr := m.vram.PostRun(ctx); cerr != nil {
				log.Warn().Err(cerr).Str("model", id).Msg("manager: cleanup after failed optimization")
			}
		}
	}
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		m.loadFails++
		m.mu.Unlock()
		loadFailuresTotal.Inc()
		log.Error().Err(err).Str("model", id).Msg("manager: load failed")
		m.publish(EventLoadFailed, id, map[string]any{"error": err.Error()})
		return nil, ErrNoPipeline(id, err)
	}

	dur := time.Since(start)
	m.mu.Lock()
	m.pipe = p
	m.cur = &ModelInfo{ID: id, Path: src.Path, Local: src.Local, LoadedAt: m.now()}
	m.state = StateReady
	m.err = ""
	m.loads++
	m.mu.Unlock()
	loadsTotal.Inc()
	loadDuration.Observe(dur.Seconds())
	residentModel.Reset()
	residentModel.WithLabelValues(id).Set(1)
	log.Info().Str("model", id).Dur("dur", dur).Msg("manager: model ready")
	m.publish(EventEnsureReady, id, map[string]any{"duration_ms": dur.Milliseconds()})
	return p, nil
}

// source prefers a local copy under the models dir over the remote id.
func (m *Manager) source(id string) engine.Source {
	if mdl, ok := registry.Resolve(m.modelsDir, id); ok {
		return engine.Source{ID: id, Path: mdl.Path, Local: true}
	}
	return engine.Source{ID: id}
}
