package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"batchgen/internal/engine"
	"batchgen/internal/manager"
	"batchgen/pkg/types"
)

func TestE2E_ModelsGenerateReadyStatus(t *testing.T) {
	dir := createTempModelsDir(t, "alpha", "beta")
	srv, mgr := newServerForDirWithConfig(t, dir, manager.ManagerConfig{
		DefaultModel: "alpha",
		Engine:       engine.Config{InterThreads: 2, MaxQueuedBatches: -1},
	})

	resp, body := httpGet(t, srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models status=%d body=%s", resp.StatusCode, body)
	}
	var models types.ModelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		t.Fatalf("/models json: %v body=%s", err, body)
	}
	if len(models.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models.Models))
	}

	// Nothing is loaded until the manager is asked to.
	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz expected 503, got %d", resp.StatusCode)
	}
	if resp, _ := httpPostJSON(t, srv.URL+"/generate", []byte(`{"prompts":["hello"]}`)); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/generate before load expected 503, got %d", resp.StatusCode)
	}
	if err := mgr.Ensure(context.Background(), ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz expected 200, got %d", resp.StatusCode)
	}

	payload := `{"prompts":["hello world","the quick brown fox"],"max_new_tokens":3,"options":{"min_length":3},"stream":true}`
	resp, body = httpPostJSON(t, srv.URL+"/generate", []byte(payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/generate status=%d body=%s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	steps, final := splitNDJSON(t, body)
	if len(steps) != 6 {
		t.Fatalf("expected 6 step lines, got %d", len(steps))
	}
	if !final.Done || len(final.Results) != 2 || final.Steps != 6 {
		t.Fatalf("unexpected final line: %+v", final)
	}
	for i, r := range final.Results {
		if r.BatchID != i || len(r.Hypotheses) != 1 || len(r.Hypotheses[0].Tokens) != 3 {
			t.Fatalf("result %d: %+v", i, r)
		}
	}

	resp, body = httpGet(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status status=%d body=%s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v body=%s", err, body)
	}
	if st.State != "ready" || st.Model != "alpha" || st.Engine == nil || st.Engine.NumReplicas != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestE2E_InvalidOptionsReportField(t *testing.T) {
	dir := createTempModelsDir(t, "alpha")
	srv, mgr := newServerForDirWithConfig(t, dir, manager.ManagerConfig{DefaultModel: "alpha"})
	if err := mgr.Ensure(context.Background(), ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	resp, body := httpPostJSON(t, srv.URL+"/generate", []byte(`{"tokens":[["▁hello"]],"options":{"max_length":4,"min_length":9}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, body)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Field != "min_length" {
		t.Fatalf("expected field min_length, got %+v", er)
	}
}

// TestE2E_Backpressure429 fills the only replica and checks that a second
// request is rejected when no queueing is allowed.
func TestE2E_Backpressure429(t *testing.T) {
	dir := createTempModelsDir(t, "alpha")
	be := newGateBackend()
	srv, mgr := newServerForDirWithConfig(t, dir, manager.ManagerConfig{
		DefaultModel: "alpha",
		Engine:       engine.Config{InterThreads: 1, MaxQueuedBatches: 0},
		Backends:     map[string]engine.Backend{types.FormatDir: be},
	})
	if err := mgr.Ensure(context.Background(), ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	var wg sync.WaitGroup
	first := make(chan int, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, _ := httpPostJSON(t, srv.URL+"/generate", []byte(`{"tokens":[["▁a"]]}`))
		first <- resp.StatusCode
	}()
	select {
	case <-be.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("first request never reached the replica")
	}

	resp, body := httpPostJSON(t, srv.URL+"/generate", []byte(`{"tokens":[["▁b"]]}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", resp.StatusCode, body)
	}

	close(be.release)
	wg.Wait()
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first request status %d", code)
	}
}

func splitNDJSON(t *testing.T, body []byte) ([]types.StepLine, types.FinalLine) {
	t.Helper()
	var steps []types.StepLine
	var final types.FinalLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.Contains(line, []byte(`"done"`)) {
			if err := json.Unmarshal(line, &final); err != nil {
				t.Fatalf("final line: %v", err)
			}
			continue
		}
		var s types.StepLine
		if err := json.Unmarshal(line, &s); err != nil {
			t.Fatalf("step line %q: %v", line, err)
		}
		steps = append(steps, s)
	}
	return steps, final
}

// gateBackend holds every job until release is closed.
type gateBackend struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateBackend() *gateBackend {
	return &gateBackend{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *gateBackend) Name() string { return "gate" }
func (b *gateBackend) DeviceCount(string) int { return 1 }
func (b *gateBackend) SupportsComputeType(string, string) bool { return true }
func (b *gateBackend) Load(context.Context, engine.LoadSpec) (engine.Replica, error) {
	return gateReplica{b}, nil
}

type gateReplica struct{ b *gateBackend }

func (r gateReplica) Generate(ctx context.Context, job *engine.Job, emit engine.EmitFunc) ([][]engine.Hypothesis, error) {
	r.b.once.Do(func() { close(r.b.started) })
	select {
	case <-r.b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]engine.Hypothesis, len(job.Inputs))
	for i, in := range job.Inputs {
		out[i] = []engine.Hypothesis{{Tokens: append([]string(nil), in...), IDs: make([]int, len(in))}}
	}
	return out, nil
}

func (gateReplica) Close() error { return nil }
