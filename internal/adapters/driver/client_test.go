package driver

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scenesmith/internal/core"
	"scenesmith/internal/logging"
)

type call struct {
	method string
	path   string
	body   map[string]any
}

// fakeSidecar records calls and serves canned responses keyed by
// method+path.
type fakeSidecar struct {
	t         *testing.T
	calls     []call
	responses map[string]func(w http.ResponseWriter)
}

func newFakeSidecar(t *testing.T) (*fakeSidecar, *Client) {
	t.Helper()
	f := &fakeSidecar{t: t, responses: map[string]func(w http.ResponseWriter){}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, New(srv.URL, 5*time.Second, logging.NewNop())
}

func (f *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := call{method: r.Method, path: r.URL.Path}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&c.body)
	}
	f.calls = append(f.calls, c)
	if fn, ok := f.responses[r.Method+" "+r.URL.Path]; ok {
		fn(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (f *fakeSidecar) respondJSON(method, path string, status int, payload string) {
	f.responses[method+" "+path] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}
}

func hasCode(err error, code string) bool {
	var de *core.DomainError
	return errors.As(err, &de) && de.Code == code
}

func TestClient_HealthOK(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodGet, "/health", 200, `{"status":"ok"}`)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestClient_HealthDegraded(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodGet, "/health", 200, `{"status":"starting"}`)

	err := c.Health(context.Background())
	if !hasCode(err, "DRIVER_UNHEALTHY") {
		t.Fatalf("expected DRIVER_UNHEALTHY, got %v", err)
	}
}

func TestClient_PageLifecycleAndPaths(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodPost, "/session/pages", 200, `{"page_id":"p1"}`)
	f.respondJSON(http.MethodGet, "/pages/p1/text", 200, `{"text":"hello"}`)

	page, err := c.NewPage(context.Background())
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	ctx := context.Background()
	if err := page.Navigate(ctx, "https://editor.example/t1"); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if err := page.Click(ctx, "editor.save"); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	if err := page.Type(ctx, "scene.text[1]", "narration"); err != nil {
		t.Fatalf("Type failed: %v", err)
	}
	got, err := page.ReadText(ctx, "scene.text[1]")
	if err != nil || got != "hello" {
		t.Fatalf("ReadText got %q, %v", got, err)
	}
	if err := page.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []struct {
		method, path string
	}{
		{http.MethodPost, "/session/pages"},
		{http.MethodPost, "/pages/p1/navigate"},
		{http.MethodPost, "/pages/p1/click"},
		{http.MethodPost, "/pages/p1/type"},
		{http.MethodGet, "/pages/p1/text"},
		{http.MethodDelete, "/pages/p1"},
	}
	if len(f.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), f.calls)
	}
	for i, w := range want {
		if f.calls[i].method != w.method || f.calls[i].path != w.path {
			t.Errorf("call %d: got %s %s, want %s %s", i, f.calls[i].method, f.calls[i].path, w.method, w.path)
		}
	}
	if body := f.calls[3].body; body["target"] != "scene.text[1]" || body["text"] != "narration" {
		t.Errorf("type request body wrong: %v", body)
	}
}

func TestClient_SessionLossMapsToSessionClosed(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodPost, "/session/pages", 200, `{"page_id":"p1"}`)
	f.respondJSON(http.MethodPost, "/pages/p1/click", 500,
		`{"error":{"code":"TARGET_CLOSED","message":"page was closed"}}`)

	page, err := c.NewPage(context.Background())
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	err = page.Click(context.Background(), "editor.save")
	if !core.IsSessionFatal(err) {
		t.Fatalf("TARGET_CLOSED must be session fatal, got %v", err)
	}
}

func TestClient_TargetNotFound(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodPost, "/session/pages", 200, `{"page_id":"p1"}`)
	f.respondJSON(http.MethodPost, "/pages/p1/wait_for", 404,
		`{"error":{"code":"TARGET_NOT_FOUND","message":"no such element"}}`)

	page, err := c.NewPage(context.Background())
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	err = page.WaitFor(context.Background(), "editor.save_toast", time.Second)
	if core.IsSessionFatal(err) {
		t.Fatal("a missing element is not session fatal")
	}
	if !hasCode(err, "TARGET_NOT_FOUND") {
		t.Fatalf("expected TARGET_NOT_FOUND, got %v", err)
	}
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodGet, "/health", 502, "Bad Gateway")

	err := c.Health(context.Background())
	if !hasCode(err, "DRIVER_HTTP_502") {
		t.Fatalf("expected DRIVER_HTTP_502, got %v", err)
	}
}

func TestClient_UnreachableDriver(t *testing.T) {
	c := New("http://127.0.0.1:1", 500*time.Millisecond, logging.NewNop())
	err := c.Health(context.Background())
	if !hasCode(err, "DRIVER_UNREACHABLE") {
		t.Fatalf("expected DRIVER_UNREACHABLE, got %v", err)
	}
}

func TestClient_EmptyPageIDRejected(t *testing.T) {
	f, c := newFakeSidecar(t)
	f.respondJSON(http.MethodPost, "/session/pages", 200, `{"page_id":""}`)

	_, err := c.NewPage(context.Background())
	if !hasCode(err, "DRIVER_BAD_RESPONSE") {
		t.Fatalf("expected DRIVER_BAD_RESPONSE, got %v", err)
	}
}
