package e2e

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"prunejuice/internal/engine"
	"prunejuice/internal/manager"
	"prunejuice/pkg/types"
)

func TestE2E_GenerateThroughWorker(t *testing.T) {
	s := newStack(t, newWorker())

	resp, body := s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "a red kite", StepCount: ptr(4)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	res := decode[types.GenerateResult](t, body)
	data, err := os.ReadFile(res.ImageURL)
	if err != nil {
		t.Fatalf("image not on disk: %v", err)
	}
	if !bytes.HasPrefix(data, pngHeader) {
		t.Fatalf("not a png: %q", data[:8])
	}
	if res.Metadata.Scheduler != string(engine.SolverEulerAncestral) || res.Metadata.Model != manager.DefaultModelID {
		t.Fatalf("unexpected metadata: %+v", res.Metadata)
	}

	calls := s.worker.Calls()
	if calls[0] != "load:"+manager.DefaultModelID {
		t.Fatalf("first call should load the default model: %v", calls)
	}
	if s.worker.count("scheduler:euler_ancestral") != 1 || s.worker.count("generate:pipe-1") != 1 {
		t.Fatalf("unexpected worker calls: %v", calls)
	}

	// a second run with many steps switches solver on the same pipeline
	resp, body = s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "again", StepCount: ptr(30)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if s.worker.count("load:"+manager.DefaultModelID) != 1 {
		t.Fatalf("model reloaded: %v", s.worker.Calls())
	}
	if s.worker.count("scheduler:dpm_multistep") != 1 {
		t.Fatalf("solver not switched: %v", s.worker.Calls())
	}
}

func TestE2E_WorkerOOMBecomes507(t *testing.T) {
	w := newWorker()
	w.oomRuns.Store(1)
	s := newStack(t, w)

	resp, body := s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "huge"})
	if resp.StatusCode != http.StatusInsufficientStorage {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	ge := decode[types.GenerationErrorResponse](t, body)
	if ge.ErrorCode != "RESOURCE_EXHAUSTED" || ge.Details == nil || !ge.Details.Retryable {
		t.Fatalf("unexpected body: %+v", ge)
	}
	// pre-run cleanup plus the emergency release
	if got := w.count("collect:ipc"); got < 2 {
		t.Fatalf("collect:ipc calls=%d: %v", got, w.Calls())
	}

	// the pipeline survived; retry succeeds without a reload
	resp, body = s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "smaller"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status=%d body=%s", resp.StatusCode, body)
	}
	if w.count("load:"+manager.DefaultModelID) != 1 {
		t.Fatalf("unexpected reload after OOM: %v", w.Calls())
	}
}

func TestE2E_SwitchAndHealth(t *testing.T) {
	w := newWorker()
	w.failLoad = "missing/model"
	s := newStack(t, w)

	resp, body := s.do(t, http.MethodGet, "/health", nil)
	h := decode[types.HealthResponse](t, body)
	if resp.StatusCode != http.StatusOK || h.ModelLoaded || h.Device != "Fake RTX 3070" {
		t.Fatalf("health before load: %d %+v", resp.StatusCode, h)
	}
	if w.count("load:"+manager.DefaultModelID) != 0 {
		t.Fatalf("health loaded a model: %v", w.Calls())
	}

	resp, _ = s.do(t, http.MethodPost, "/models/switch", types.SwitchModelRequest{ModelID: "other/model"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch status=%d", resp.StatusCode)
	}
	_, body = s.do(t, http.MethodGet, "/health", nil)
	h = decode[types.HealthResponse](t, body)
	if !h.ModelLoaded || h.CurrentModel != "other/model" {
		t.Fatalf("health after switch: %+v", h)
	}

	resp, _ = s.do(t, http.MethodPost, "/models/switch", types.SwitchModelRequest{ModelID: "missing/model"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("failed switch status=%d", resp.StatusCode)
	}
	// the old pipeline was released before the failed load
	if w.count("close:pipe-1") != 1 {
		t.Fatalf("old pipeline not closed: %v", w.Calls())
	}
	_, body = s.do(t, http.MethodGet, "/models", nil)
	if m := decode[types.ModelsResponse](t, body); m.Current != "" {
		t.Fatalf("slot should be empty after failed swap: %+v", m)
	}
}

func TestE2E_ConcurrentGenerationsSerialize(t *testing.T) {
	w := newWorker()
	w.runDelay = 30 * time.Millisecond
	s := newStack(t, w)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "p"})
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	for i, c := range codes {
		if c != http.StatusOK {
			t.Fatalf("request %d status=%d", i, c)
		}
	}
	if got := w.maxInflight.Load(); got != 1 {
		t.Fatalf("worker saw %d overlapping generations", got)
	}
	if w.count("load:"+manager.DefaultModelID) != 1 {
		t.Fatalf("concurrent requests loaded more than once: %v", w.Calls())
	}
}

func TestE2E_EventsStream(t *testing.T) {
	s := newStack(t, newWorker())

	url := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/events"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated websocket should be rejected with 403")
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+s.token)
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the hub registers the client before the upgrade returns; give the
	// server goroutine a moment to finish
	time.Sleep(20 * time.Millisecond)

	resp, body := s.do(t, http.MethodPost, "/generate", types.GenerateRequest{Prompt: "evented"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !seen[manager.EventGenerateDone] {
		var ev manager.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event (seen %v): %v", seen, err)
		}
		seen[ev.Name] = true
	}
	for _, name := range []string{manager.EventEnsureStart, manager.EventEnsureReady, manager.EventGenerateStart} {
		if !seen[name] {
			t.Fatalf("missing %s in %v", name, seen)
		}
	}
}

func TestE2E_ClientHangupDoesNotOverlapCleanup(t *testing.T) {
	w := newWorker()
	w.hold = make(chan struct{})
	w.started = make(chan struct{}, 1)
	s := newStack(t, w)
	var releaseOnce sync.Once
	unhold := func() { releaseOnce.Do(func() { close(w.hold) }) }
	t.Cleanup(unhold)

	ctx, cancel := context.WithCancel(context.Background())
	genErr := make(chan error, 1)
	go func() {
		_, err := s.post(ctx, "/generate", types.GenerateRequest{Prompt: "slow harbor", StepCount: ptr(4)})
		genErr <- err
	}()
	select {
	case <-w.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("generation never reached the worker")
	}
	cancel()
	if err := <-genErr; err == nil {
		t.Fatalf("expected the client request to be canceled")
	}

	recoverStatus := make(chan int, 1)
	go func() {
		code, _ := s.post(context.Background(), "/recover", struct{}{})
		recoverStatus <- code
	}()
	deadline := time.Now().Add(5 * time.Second)
	for s.mgr.Status().Queue.Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("recover never queued behind the run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := w.cleanupDuringRun.Load(); n != 0 {
		t.Fatalf("cleanup reached the worker during the run: %d calls %v", n, w.Calls())
	}
	if w.inflight.Load() != 1 {
		t.Fatalf("worker run should still be in flight")
	}

	unhold()
	if code := <-recoverStatus; code != http.StatusOK {
		t.Fatalf("recover status=%d", code)
	}
	if n := w.cleanupDuringRun.Load(); n != 0 {
		t.Fatalf("cleanup overlapped the run: %v", w.Calls())
	}
	entries, err := os.ReadDir(s.outDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("abandoned run should still persist its image: %v %v", entries, err)
	}
	if st := s.mgr.Status(); st.GenerationsTotal != 1 || st.CurrentModel != manager.DefaultModelID {
		t.Fatalf("status=%+v", st)
	}
}

func ptr[T any](v T) *T { return &v }
