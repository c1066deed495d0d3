// Package e2e drives the full stack over real HTTP: the API server, the
// manager and the diffusers client talking to an in-process fake worker.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prunejuice/internal/auth"
	"prunejuice/internal/engine"
	"prunejuice/internal/engine/diffusers"
	"prunejuice/internal/events"
	"prunejuice/internal/httpapi"
	"prunejuice/internal/manager"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// worker is a fake diffusers worker speaking the client's wire protocol.
type worker struct {
	mu        sync.Mutex
	seq       int
	pipelines map[string]string // id -> model
	calls     []string
	allocated int64

	// oomRuns makes the next n generate calls fail with OUT_OF_MEMORY.
	oomRuns atomic.Int32
	// failLoad rejects loads of this model.
	failLoad string
	// runDelay holds every generation for this long.
	runDelay time.Duration
	// hold, when set, parks every generation until closed. Like a real
	// worker it keeps computing after the caller hangs up.
	hold chan struct{}
	// started gets a non-blocking send when a generation begins.
	started chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
	// cleanupDuringRun counts collect and delete calls that arrived while a
	// generation was in flight.
	cleanupDuringRun atomic.Int32
}

func newWorker() *worker { return &worker{pipelines: map[string]string{}} }

func (w *worker) log(s string) {
	w.mu.Lock()
	w.calls = append(w.calls, s)
	w.mu.Unlock()
}

func (w *worker) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *worker) count(s string) int {
	n := 0
	for _, c := range w.Calls() {
		if c == s {
			n++
		}
	}
	return n
}

func writeWorkerError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error_code": code, "message": msg})
}

func (w *worker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pipelines", func(rw http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.log("load:" + req.Model)
		if req.Model == w.failLoad {
			writeWorkerError(rw, http.StatusNotFound, diffusers.CodeLoadFailed, "repository not found")
			return
		}
		w.mu.Lock()
		w.seq++
		id := fmt.Sprintf("pipe-%d", w.seq)
		w.pipelines[id] = req.Model
		w.allocated += 4 << 30
		w.mu.Unlock()
		_ = json.NewEncoder(rw).Encode(map[string]string{"pipeline_id": id})
	})
	mux.HandleFunc("POST /pipelines/{id}/optimizations", func(rw http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.log("enable:" + req.Name)
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /pipelines/{id}/scheduler", func(rw http.ResponseWriter, r *http.Request) {
		var cfg engine.SchedulerConfig
		_ = json.NewDecoder(r.Body).Decode(&cfg)
		w.log("scheduler:" + string(cfg.Family))
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /pipelines/{id}/generate", func(rw http.ResponseWriter, r *http.Request) {
		n := w.inflight.Add(1)
		defer w.inflight.Add(-1)
		for {
			m := w.maxInflight.Load()
			if n <= m || w.maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		w.log("generate:" + r.PathValue("id"))
		if w.started != nil {
			select {
			case w.started <- struct{}{}:
			default:
			}
		}
		if w.hold != nil {
			<-w.hold
		}
		if w.runDelay > 0 {
			time.Sleep(w.runDelay)
		}
		if w.oomRuns.Load() > 0 {
			w.oomRuns.Add(-1)
			writeWorkerError(rw, http.StatusInternalServerError, "", "CUDA out of memory. Tried to allocate 2.00 GiB")
			return
		}
		var p engine.RunParams
		_ = json.NewDecoder(r.Body).Decode(&p)
		rw.Header().Set("Content-Type", "image/png")
		_, _ = rw.Write(append(append([]byte(nil), pngHeader...), []byte(fmt.Sprintf("%s|%d", p.Prompt, p.Steps))...))
	})
	mux.HandleFunc("DELETE /pipelines/{id}", func(rw http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		w.log("close:" + id)
		if w.inflight.Load() > 0 {
			w.cleanupDuringRun.Add(1)
		}
		w.mu.Lock()
		_, ok := w.pipelines[id]
		delete(w.pipelines, id)
		if ok {
			w.allocated -= 4 << 30
		}
		w.mu.Unlock()
		if !ok {
			writeWorkerError(rw, http.StatusNotFound, "", "unknown pipeline")
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /memory/collect", func(rw http.ResponseWriter, r *http.Request) {
		var opts engine.CollectOptions
		_ = json.NewDecoder(r.Body).Decode(&opts)
		if w.inflight.Load() > 0 {
			w.cleanupDuringRun.Add(1)
		}
		if opts.IPC {
			w.log("collect:ipc")
		} else {
			w.log("collect")
		}
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /memory", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		alloc := w.allocated
		w.mu.Unlock()
		_ = json.NewEncoder(rw).Encode(engine.MemoryStats{
			Device:         "Fake RTX 3070",
			Accelerated:    true,
			AllocatedBytes: alloc,
			ReservedBytes:  alloc,
			FreeBytes:      8<<30 - alloc,
			TotalBytes:     8 << 30,
		})
	})
	return mux
}

// stack is a running API server wired to a fake worker.
type stack struct {
	api    *httptest.Server
	worker *worker
	mgr    *manager.Manager
	token  string
	outDir string
}

func newStack(t *testing.T, w *worker) *stack {
	t.Helper()
	ws := httptest.NewServer(w.handler())
	t.Cleanup(ws.Close)

	client, err := diffusers.New(diffusers.Options{BaseURL: ws.URL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("diffusers client: %v", err)
	}
	dir := t.TempDir()
	hub := events.NewHub(nil)
	t.Cleanup(hub.Close)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Runtime:   client,
		ModelsDir: filepath.Join(dir, "models"),
		OutputDir: filepath.Join(dir, "outputs"),
		Publisher: hub,
	})
	gate, err := auth.Issue(dir)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	api := httptest.NewServer(httpapi.NewMux(mgr, httpapi.Options{Gate: gate, Events: hub}))
	t.Cleanup(api.Close)
	return &stack{api: api, worker: w, mgr: mgr, token: gate.Token(), outDir: filepath.Join(dir, "outputs")}
}

func (s *stack) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.api.URL+path, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

// post sends an authorized JSON POST under ctx and returns the status code.
// Safe to call from goroutines other than the test's.
func (s *stack) post(ctx context.Context, path string, payload any) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.api.URL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}
