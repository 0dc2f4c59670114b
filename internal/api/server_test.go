package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenesmith/internal/adapters/state"
	"scenesmith/internal/config"
	"scenesmith/internal/core"
	"scenesmith/internal/events"
	"scenesmith/internal/logging"
	"scenesmith/internal/orchestrator"
	"scenesmith/internal/progress"
	"scenesmith/internal/registry"
	"scenesmith/internal/workflow"
)

type nopPage struct{}

func (nopPage) Navigate(context.Context, string) error               { return nil }
func (nopPage) Reload(context.Context) error                         { return nil }
func (nopPage) Click(context.Context, string) error                  { return nil }
func (nopPage) Type(context.Context, string, string) error           { return nil }
func (nopPage) Press(context.Context, string, string) error          { return nil }
func (nopPage) WaitFor(context.Context, string, time.Duration) error { return nil }
func (nopPage) ReadText(context.Context, string) (string, error)     { return "", nil }
func (nopPage) Screenshot(context.Context) (string, error)           { return "", nil }
func (nopPage) Close(context.Context) error                          { return nil }

type nopSession struct{}

func (nopSession) NewPage(context.Context) (core.Actuator, error) { return nopPage{}, nil }
func (nopSession) Close(context.Context) error                    { return nil }

type stubContent struct {
	units []core.Unit
}

func (s *stubContent) GetUnits(context.Context, string) ([]core.Unit, error) {
	return s.units, nil
}

type testEnv struct {
	server *httptest.Server
	orch   *orchestrator.Orchestrator
	store  *workflow.Store
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Delays.BetweenScenes = 0
	cfg.Delays.PreFill = 0
	cfg.Delays.PostReload = 0
	cfg.Delays.Confirm = 0

	bus := events.New(256)
	reg := registry.New()
	agg := progress.New(reg)
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx, bus)

	content := &stubContent{units: []core.Unit{
		{Part: 1, Scene: 1, Text: "one"},
		{Part: 2, Scene: 1, Text: "two"},
	}}
	orch := orchestrator.New(cfg, logging.NewNop(), bus, reg, agg, nopSession{}, content, nil, nil)

	store, err := workflow.NewStore(t.TempDir(), logging.NewNop().Logger)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(orch, store, bus, opts...).Handler())
	t.Cleanup(func() {
		srv.Close()
		orch.Shutdown()
		cancel()
		bus.Close()
	})
	return &testEnv{server: srv, orch: orch, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) waitTerminal(t *testing.T, key core.JobKey) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if snap, ok := e.orch.Status(key); ok && snap.Status.Terminal() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never settled", key.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func sleepBody(collection string, parts []int) map[string]any {
	return map[string]any{
		"collection": collection,
		"parts":      parts,
		"steps": []map[string]any{
			{"type": workflow.StepSleep, "params": map[string]any{"sec": 0.01}},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestSubmitRun_InlineSteps(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/v1/runs", sleepBody("ep1", nil))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	submitted, ok := body["submitted"].([]any)
	require.True(t, ok, "submitted list missing: %v", body)
	assert.ElementsMatch(t, []any{"ep1::1", "ep1::2"}, submitted)

	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 2})
}

func TestSubmitRun_MissingCollection(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"parts": []int{1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRun_InvalidStepsRejected(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"collection": "ep1",
		"steps":      []map[string]any{{"params": map[string]any{}}},
	}
	resp, decoded := env.do(t, http.MethodPost, "/api/v1/runs", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, decoded["errors"])
}

func TestSubmitRun_UnknownWorkflowName(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"collection": "ep1", "workflow": "does-not-exist"}
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitRun_ResolvesSavedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := &core.Workflow{
		Name:  "quick",
		Steps: []core.WorkflowStep{{Type: workflow.StepSleep, Params: map[string]any{"sec": 0.01}}},
	}
	require.NoError(t, env.store.Save("quick.json", wf))

	body := map[string]any{"collection": "ep1", "parts": []int{1}, "workflow": "quick"}
	resp, decoded := env.do(t, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "body: %v", decoded)
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
}

func TestTaskEndpoints_LifecycleControl(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"collection": "ep1",
		"parts":      []int{1},
		"steps": []map[string]any{
			{"type": workflow.StepSleep, "params": map[string]any{"sec": 5.0}},
		},
	}
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	key := core.JobKey{Collection: "ep1", Part: 1}
	waitFor := func(want core.TaskStatus) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			if snap, ok := env.orch.Status(key); ok && snap.Status == want {
				return
			}
			select {
			case <-deadline:
				snap, _ := env.orch.Status(key)
				t.Fatalf("never reached %s, now %s", want, snap.Status)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	waitFor(core.TaskStatusRunning)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/tasks/ep1::1/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	waitFor(core.TaskStatusPaused)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/tasks/ep1::1/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	waitFor(core.TaskStatusRunning)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/tasks/ep1::1/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	waitFor(core.TaskStatusStopped)
}

func TestTaskEndpoints_StartResubmitsOnePart(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", sleepBody("ep1", nil))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 2})

	body := map[string]any{
		"steps": []map[string]any{
			{"type": workflow.StepSleep, "params": map[string]any{"sec": 0.01}},
		},
	}
	resp, decoded := env.do(t, http.MethodPost, "/api/v1/tasks/ep1::1/start", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "body: %v", decoded)
	assert.Equal(t, "ep1::1", decoded["task"])

	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
	// The sibling part is untouched by a single-part restart.
	snap, _ := env.orch.Status(core.JobKey{Collection: "ep1", Part: 2})
	assert.Equal(t, core.TaskStatusSuccess, snap.Status)
}

func TestTaskEndpoints_GetAndList(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", sleepBody("ep1", nil))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 2})

	resp, body := env.do(t, http.MethodGet, "/api/v1/tasks/ep1::1/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/tasks/?collection=ep1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	tasks, ok := body["tasks"].([]any)
	require.True(t, ok)
	assert.Len(t, tasks, 2)

	resp, body = env.do(t, http.MethodGet, "/api/v1/tasks/?status=failed", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["tasks"])
}

func TestTaskEndpoints_BadKeyAndMissingTask(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/tasks/garbage/", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/tasks/nope::9/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Control requests for unknown tasks are rejected, not recorded.
	for _, action := range []string{"pause", "resume", "stop"} {
		resp, _ = env.do(t, http.MethodPost, "/api/v1/tasks/nope::9/"+action, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, action)
	}
	resp, payload := env.do(t, http.MethodGet, "/api/v1/tasks/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, payload["tasks"])
}

func TestGlobalControls(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"collection": "ep1",
		"steps": []map[string]any{
			{"type": workflow.StepSleep, "params": map[string]any{"sec": 5.0}},
		},
	}
	resp, _ := env.do(t, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/stop?reason=test", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 1})
	env.waitTerminal(t, core.JobKey{Collection: "ep1", Part: 2})
	snap, _ := env.orch.Status(core.JobKey{Collection: "ep1", Part: 1})
	assert.Equal(t, core.TaskStatusStopped, snap.Status)
}

func TestProgressEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/progress", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "total_scenes")
	assert.Contains(t, body, "done_scenes")
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, http.MethodGet, "/api/v1/history", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		require.NoError(t, store.Save(context.Background(), core.TaskSnapshot{
			Key:        core.JobKey{Collection: "ep1", Part: 1},
			Collection: "ep1",
			Part:       1,
			Status:     core.TaskStatusSuccess,
		}))

		env := newTestEnv(t, WithHistory(store))
		resp, body := env.do(t, http.MethodGet, "/api/v1/history?collection=ep1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		entries, ok := body["history"].([]any)
		require.True(t, ok)
		assert.Len(t, entries, 1)
	})

	t.Run("bad limit", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, http.MethodGet, "/api/v1/history?limit=-1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode) // history disabled wins
	})
}

func TestWorkflowEndpoints(t *testing.T) {
	env := newTestEnv(t)

	wf := map[string]any{
		"steps": []map[string]any{
			{"type": workflow.StepSleep, "params": map[string]any{"sec": 1.0}},
		},
	}
	resp, body := env.do(t, http.MethodPut, "/api/v1/workflows/mine.json/", wf)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	resp, body = env.do(t, http.MethodGet, "/api/v1/workflows/mine.json/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mine.json", body["name"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/workflows/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	names, ok := body["workflows"].([]any)
	require.True(t, ok)
	assert.Contains(t, names, "mine.json")

	resp, body = env.do(t, http.MethodPost, "/api/v1/workflows/validate", map[string]any{"steps": []any{}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])

	resp, _ = env.do(t, http.MethodPut, "/api/v1/workflows/broken.json/", map[string]any{"steps": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/workflows/absent.json/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
