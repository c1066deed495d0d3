// Package enginetest provides an in-memory engine.Runtime for tests.
package enginetest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"prunejuice/internal/engine"
)

// PNGHeader prefixes every image the fake produces.
var PNGHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Runtime is a scriptable fake. Zero value is usable.
type Runtime struct {
	mu sync.Mutex

	// LoadErr, when set, is consulted for every Load.
	LoadErr func(src engine.Source) error
	// RunErr is returned by every pipeline Run when set.
	RunErr error
	// EnableErr fails Enable for the given optimization.
	EnableErr map[engine.Optimization]error
	// MemoryErr fails Memory when set.
	MemoryErr error
	// CollectErr fails Collect when set; the call is still recorded.
	CollectErr error
	// BeforeRun is called at the start of every pipeline Run; tests use it
	// to hold a generation in flight.
	BeforeRun func(ctx context.Context)
	// BeforeLoad is called at the start of every Load, outside the lock.
	BeforeLoad func(ctx context.Context)

	// Allocated is reported by Memory; Collect subtracts FreeOnCollect.
	Allocated     int64
	Total         int64
	FreeOnCollect int64
	// LoadCost is added to Allocated per successful load.
	LoadCost int64

	loads     []engine.Source
	collects  []engine.CollectOptions
	calls     []string
	pipelines []*Pipeline
	seq       int
}

var _ engine.Runtime = (*Runtime)(nil)

// Load fails with ctx's error when ctx ends during BeforeLoad, like an HTTP
// call abandoned mid-flight.
func (r *Runtime) Load(ctx context.Context, src engine.Source) (engine.Pipeline, error) {
	r.mu.Lock()
	hook := r.BeforeLoad
	r.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, src)
	r.calls = append(r.calls, "load:"+src.ID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.LoadErr != nil {
		if err := r.LoadErr(src); err != nil {
			return nil, err
		}
	}
	r.seq++
	p := &Pipeline{rt: r, id: fmt.Sprintf("p%d", r.seq), Source: src}
	r.pipelines = append(r.pipelines, p)
	r.Allocated += r.LoadCost
	return p, nil
}

func (r *Runtime) Collect(ctx context.Context, opts engine.CollectOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collects = append(r.collects, opts)
	if opts.IPC {
		r.calls = append(r.calls, "collect:ipc")
	} else {
		r.calls = append(r.calls, "collect")
	}
	if r.CollectErr != nil {
		return r.CollectErr
	}
	r.Allocated -= r.FreeOnCollect
	if r.Allocated < 0 {
		r.Allocated = 0
	}
	return nil
}

func (r *Runtime) Memory(ctx context.Context) (engine.MemoryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MemoryErr != nil {
		return engine.MemoryStats{}, r.MemoryErr
	}
	total := r.Total
	if total == 0 {
		total = 8 << 30
	}
	return engine.MemoryStats{
		Device:         "fake:0",
		Accelerated:    true,
		AllocatedBytes: r.Allocated,
		ReservedBytes:  r.Allocated,
		FreeBytes:      total - r.Allocated,
		TotalBytes:     total,
	}, nil
}

// Loads returns the sources passed to Load, in order.
func (r *Runtime) Loads() []engine.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Source(nil), r.loads...)
}

// Collects returns the options passed to Collect, in order.
func (r *Runtime) Collects() []engine.CollectOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.CollectOptions(nil), r.collects...)
}

// Calls returns a compact log of runtime and pipeline calls, e.g.
// "load:m", "enable:p1:vae_slicing", "run:p1", "close:p1", "collect:ipc".
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CountCalls counts log entries starting with prefix.
func (r *Runtime) CountCalls(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Pipelines returns every pipeline created so far.
func (r *Runtime) Pipelines() []*Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Pipeline(nil), r.pipelines...)
}

func (r *Runtime) log(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

// Pipeline is the fake pipeline handle.
type Pipeline struct {
	rt     *Runtime
	id     string
	Source engine.Source

	mu         sync.Mutex
	enabled    []engine.Optimization
	schedulers []engine.SchedulerConfig
	runs       []engine.RunParams
	closed     bool
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) Enable(ctx context.Context, opt engine.Optimization) error {
	p.rt.log("enable:" + p.id + ":" + string(opt))
	p.rt.mu.Lock()
	err := p.rt.EnableErr[opt]
	p.rt.mu.Unlock()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.enabled {
		if o == opt {
			return nil
		}
	}
	p.enabled = append(p.enabled, opt)
	return nil
}

func (p *Pipeline) SetScheduler(ctx context.Context, cfg engine.SchedulerConfig) error {
	p.rt.log("scheduler:" + p.id + ":" + string(cfg.Family))
	p.mu.Lock()
	p.schedulers = append(p.schedulers, cfg)
	p.mu.Unlock()
	return nil
}

// Run returns PNGHeader followed by bytes derived from params. Seeded runs are
// deterministic; unseeded runs are random.
func (p *Pipeline) Run(ctx context.Context, params engine.RunParams) (engine.Image, error) {
	p.rt.log("run:" + p.id)
	p.mu.Lock()
	p.runs = append(p.runs, params)
	p.mu.Unlock()
	p.rt.mu.Lock()
	err, hook := p.rt.RunErr, p.rt.BeforeRun
	p.rt.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return engine.Image{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Image{}, err
	}
	var noise [8]byte
	if params.Seed != nil {
		binary.BigEndian.PutUint64(noise[:], uint64(*params.Seed))
	} else {
		binary.BigEndian.PutUint64(noise[:], rand.Uint64())
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d|%g|", params.Prompt, params.NegativePrompt, params.Width, params.Height, params.Steps, params.GuidanceScale)
	h.Write(noise[:])
	data := append(append([]byte{}, PNGHeader...), h.Sum(nil)...)
	return engine.Image{Data: data, ContentType: "image/png"}, nil
}

func (p *Pipeline) Close(ctx context.Context) error {
	p.rt.log("close:" + p.id)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Enabled returns optimizations enabled so far, in order.
func (p *Pipeline) Enabled() []engine.Optimization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Optimization(nil), p.enabled...)
}

// Schedulers returns every scheduler configuration applied, in order.
func (p *Pipeline) Schedulers() []engine.SchedulerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.SchedulerConfig(nil), p.schedulers...)
}

// Runs returns the parameters of every Run call.
func (p *Pipeline) Runs() []engine.RunParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.RunParams(nil), p.runs...)
}

// Closed reports whether Close was called.
func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
