package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"prunejuice/internal/engine"
	"prunejuice/internal/engine/enginetest"
	"prunejuice/pkg/types"
)

var outName = regexp.MustCompile(`^out_17000000\d\d\.png$`)

func baseParams() types.GenerateParams {
	return types.GenerateRequest{Prompt: "a lighthouse at dusk"}.Params()
}

func TestGenerate_LoadsDefaultAndWritesImage(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, pub := newTestManager(t, rt)
	m.now = fixedClock(time.Unix(1700000000, 0), 2*time.Second)

	res, err := m.Generate(context.Background(), baseParams())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if loads := rt.Loads(); len(loads) != 1 || loads[0].ID != DefaultModelID {
		t.Fatalf("loads=%+v", loads)
	}
	if res.ID == "" {
		t.Fatalf("missing generation id")
	}
	if !outName.MatchString(filepath.Base(res.ImageURL)) {
		t.Fatalf("image url=%q", res.ImageURL)
	}
	data, err := os.ReadFile(filepath.FromSlash(res.ImageURL))
	if err != nil {
		t.Fatalf("image not readable: %v", err)
	}
	if !bytes.HasPrefix(data, enginetest.PNGHeader) {
		t.Fatalf("not a png")
	}
	md := res.Metadata
	if md.Width != 1024 || md.Height != 1024 || md.Steps != 20 || md.GuidanceScale != 7.5 || md.Seed != nil {
		t.Fatalf("metadata=%+v", md)
	}
	if md.Model != DefaultModelID || md.Scheduler != string(engine.SolverDPMMultistep) {
		t.Fatalf("metadata=%+v", md)
	}
	if res.GenerationTime != 2 {
		t.Fatalf("generation time=%v", res.GenerationTime)
	}
	names := strings.Join(pub.Names(), ",")
	if !strings.HasSuffix(names, "generate_start,generate_done") {
		t.Fatalf("events=%s", names)
	}
	if st := m.Status(); st.GenerationsTotal != 1 || st.Queue.Busy || st.Queue.CurrentJob != "" {
		t.Fatalf("status=%+v", st)
	}
}

func TestGenerate_CleanupOrder(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, _ := newTestManager(t, rt)
	if _, err := m.EnsureLoaded(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	before := len(rt.Calls())
	if _, err := m.Generate(context.Background(), baseParams()); err != nil {
		t.Fatal(err)
	}
	calls := rt.Calls()[before:]
	want := []string{"collect:ipc", "scheduler:p1:dpm_multistep", "run:p1", "collect"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Fatalf("calls=%v want %v", calls, want)
	}
}

func TestGenerate_SchedulerAppliedEveryCall(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, _ := newTestManager(t, rt)
	ctx := context.Background()
	for _, steps := range []int{4, 30, 8} {
		p := baseParams()
		p.StepCount = steps
		if _, err := m.Generate(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	got := rt.Pipelines()[0].Schedulers()
	want := []engine.SolverFamily{engine.SolverEulerAncestral, engine.SolverDPMMultistep, engine.SolverEulerAncestral}
	if len(got) != len(want) {
		t.Fatalf("schedulers=%+v", got)
	}
	for i := range want {
		if got[i].Family != want[i] {
			t.Fatalf("schedulers=%+v", got)
		}
	}
	if got[0].TimestepSpacing != "trailing" || !got[1].KarrasSigmas {
		t.Fatalf("solver options lost: %+v", got)
	}
}

func TestGenerate_SeededIsDeterministic(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, _ := newTestManager(t, rt)
	ctx := context.Background()
	p := baseParams()
	p.Seed = ptr(int64(42))

	a, err := m.Generate(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Generate(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if a.ImageURL == b.ImageURL {
		t.Fatalf("second image overwrote the first: %s", a.ImageURL)
	}
	da, _ := os.ReadFile(filepath.FromSlash(a.ImageURL))
	db, _ := os.ReadFile(filepath.FromSlash(b.ImageURL))
	if !bytes.Equal(da, db) {
		t.Fatalf("same seed produced different images")
	}
	if a.Metadata.Seed == nil || *a.Metadata.Seed != 42 {
		t.Fatalf("seed not echoed: %+v", a.Metadata)
	}
	runs := rt.Pipelines()[0].Runs()
	if runs[0].Seed == nil || *runs[0].Seed != 42 {
		t.Fatalf("seed not forwarded: %+v", runs[0])
	}
}

func TestGenerate_ModelParamSwitches(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, _ := newTestManager(t, rt)
	ctx := context.Background()
	if _, err := m.EnsureLoaded(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	p := baseParams()
	p.Model = "b"
	res, err := m.Generate(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Model != "b" || m.Snapshot().CurrentModel.ID != "b" {
		t.Fatalf("model=%q", res.Metadata.Model)
	}
	// no model named: the resident one is reused
	res, err = m.Generate(ctx, baseParams())
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Model != "b" || len(rt.Loads()) != 2 {
		t.Fatalf("unexpected reload: model=%q loads=%d", res.Metadata.Model, len(rt.Loads()))
	}
}

func TestGenerate_OOMIsResourceExhausted(t *testing.T) {
	rt := &enginetest.Runtime{RunErr: fmt.Errorf("worker: %w", engine.ErrOutOfMemory)}
	m, _ := newTestManager(t, rt)
	_, err := m.Generate(context.Background(), baseParams())
	if !IsResourceExhausted(err) || IsInferenceError(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if st := m.Status(); st.OOMTotal != 1 || st.LastError == "" {
		t.Fatalf("status=%+v", st)
	}
	entries, _ := os.ReadDir(m.outputDir)
	if len(entries) != 0 {
		t.Fatalf("no image should be written on failure")
	}
}

func TestGenerate_OtherFailureIsInferenceError(t *testing.T) {
	rt := &enginetest.Runtime{RunErr: errors.New("NaN in latents")}
	m, pub := newTestManager(t, rt)
	_, err := m.Generate(context.Background(), baseParams())
	if !IsInferenceError(err) || IsResourceExhausted(err) {
		t.Fatalf("expected inference error, got %v", err)
	}
	names := pub.Names()
	if names[len(names)-1] != EventGenerateError {
		t.Fatalf("events=%v", names)
	}
}

func TestGenerate_LoadFailureIsNoPipeline(t *testing.T) {
	rt := &enginetest.Runtime{LoadErr: func(engine.Source) error { return engine.ErrLoadFailed }}
	m, _ := newTestManager(t, rt)
	if _, err := m.Generate(context.Background(), baseParams()); !IsNoPipeline(err) {
		t.Fatalf("expected no-pipeline, got %v", err)
	}
}

func TestGenerate_PersistFailure(t *testing.T) {
	rt := &enginetest.Runtime{}
	m, _ := newTestManager(t, rt)
	// a regular file where the output directory should be
	if err := os.WriteFile(m.outputDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := m.Generate(context.Background(), baseParams())
	if err == nil || IsInferenceError(err) || IsResourceExhausted(err) || IsNoPipeline(err) {
		t.Fatalf("expected plain persistence error, got %v", err)
	}
}

func TestGenerate_NeverOverlapsSwap(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	rt := &enginetest.Runtime{BeforeRun: func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-unblock
	}}
	m, _ := newTestManager(t, rt)
	ctx := context.Background()

	genDone := make(chan error, 1)
	go func() {
		_, err := m.Generate(ctx, baseParams())
		genDone <- err
	}()
	<-entered

	swapDone := make(chan bool, 1)
	go func() { swapDone <- m.SwitchTo(ctx, "other") }()

	// the swap must be parked on the slot while the run is in flight
	deadline := time.Now().Add(2 * time.Second)
	for m.Status().Queue.Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("swap never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := m.Status()
	if !st.Queue.Busy || st.Queue.CurrentJob == "" {
		t.Fatalf("status during run=%+v", st.Queue)
	}
	if n := len(rt.Loads()); n != 1 {
		t.Fatalf("swap loaded during generation: loads=%d", n)
	}
	if rt.Pipelines()[0].Closed() {
		t.Fatalf("pipeline closed during generation")
	}

	close(unblock)
	if err := <-genDone; err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !<-swapDone {
		t.Fatalf("swap failed")
	}
	calls := rt.Calls()
	runIdx, closeIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "run:p1":
			runIdx = i
		case "close:p1":
			closeIdx = i
		}
	}
	if runIdx < 0 || closeIdx < runIdx {
		t.Fatalf("close happened before run finished: %v", calls)
	}
}

func TestGenerate_WaitingRequestHonorsContext(t *testing.T) {
	unblock := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	rt := &enginetest.Runtime{BeforeRun: func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-unblock
	}}
	m, _ := newTestManager(t, rt)
	first := make(chan error, 1)
	go func() {
		_, err := m.Generate(context.Background(), baseParams())
		first <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Generate(ctx, baseParams())
	close(unblock)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first generation: %v", err)
	}
}

func TestEmergencyRelease(t *testing.T) {
	rt := &enginetest.Runtime{Allocated: 4 << 30, FreeOnCollect: 1 << 30}
	m, pub := newTestManager(t, rt)
	rel, err := m.EmergencyRelease(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rel.Freed() != 1<<30 {
		t.Fatalf("freed=%d", rel.Freed())
	}
	names := pub.Names()
	if len(names) != 1 || names[0] != EventRecover {
		t.Fatalf("events=%v", names)
	}
}

func TestHealth_DoesNotLoad(t *testing.T) {
	rt := &enginetest.Runtime{Allocated: 1 << 30, Total: 8 << 30}
	m, _ := newTestManager(t, rt)
	h := m.Health(context.Background())
	if h.Status != "ok" || h.ModelLoaded || h.CurrentModel != "" || h.DeviceTotalBytes != 8<<30 {
		t.Fatalf("health=%+v", h)
	}
	if h.DeviceFree == "" || h.DeviceTotal == "" {
		t.Fatalf("humanized sizes missing: %+v", h)
	}
	if len(rt.Loads()) != 0 {
		t.Fatalf("health must not load")
	}
	rt.MemoryErr = engine.ErrDependencyUnavailable
	if h := m.Health(context.Background()); h.Status != "degraded" || h.Error == "" {
		t.Fatalf("health=%+v", h)
	}
}

func TestGenerate_CallerCancelDuringRunCompletes(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	rt := &enginetest.Runtime{BeforeRun: func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-unblock
	}}
	m, _ := newTestManager(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	genDone := make(chan error, 1)
	var res types.GenerateResult
	go func() {
		var err error
		res, err = m.Generate(ctx, baseParams())
		genDone <- err
	}()
	<-entered
	cancel()
	collectsBefore := len(rt.Collects())

	relDone := make(chan error, 1)
	go func() {
		_, err := m.EmergencyRelease(context.Background())
		relDone <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for m.Status().Queue.Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("release never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(rt.Collects()); n != collectsBefore {
		t.Fatalf("cleanup ran while the run was in flight: collects %d -> %d", collectsBefore, n)
	}

	close(unblock)
	if err := <-genDone; err != nil {
		t.Fatalf("run abandoned after caller cancel: %v", err)
	}
	if _, err := os.Stat(res.ImageURL); err != nil {
		t.Fatalf("image not written: %v", err)
	}
	if err := <-relDone; err != nil {
		t.Fatalf("release: %v", err)
	}
	calls := rt.Calls()
	runIdx := -1
	for i, c := range calls {
		if c == "run:p1" {
			runIdx = i
		}
	}
	if runIdx < 0 || calls[len(calls)-1] != "collect:ipc" {
		t.Fatalf("calls=%v", calls)
	}
}

func TestGenerate_CallerCancelDuringLoadKeepsPipeline(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	rt := &enginetest.Runtime{BeforeLoad: func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-unblock
	}}
	m, _ := newTestManager(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	genDone := make(chan error, 1)
	go func() {
		_, err := m.Generate(ctx, baseParams())
		genDone <- err
	}()
	<-entered
	cancel()
	close(unblock)
	if err := <-genDone; err != nil {
		t.Fatalf("load abandoned after caller cancel: %v", err)
	}
	st := m.Status()
	if st.State != string(StateReady) || st.CurrentModel != DefaultModelID || st.LoadFailuresTotal != 0 {
		t.Fatalf("status=%+v", st)
	}
	if rt.Pipelines()[0].Closed() {
		t.Fatalf("loaded pipeline was dropped")
	}
}
