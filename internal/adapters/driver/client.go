// Package driver talks to the browser-automation sidecar over its local
// HTTP API. The sidecar owns the real browser; this client only exposes the
// page operations the orchestration core needs.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"scenesmith/internal/core"
	"scenesmith/internal/logging"
)

// Client implements core.Session against the sidecar.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// New builds a client. timeout bounds individual sidecar calls, not page
// waits, which carry their own deadline in the request body.
func New(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithComponent("driver"),
	}
}

// Health probes the sidecar.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return core.ErrExecution("DRIVER_UNHEALTHY", "driver reported status "+out.Status)
	}
	return nil
}

// NewPage opens a fresh page in the shared browser session.
func (c *Client) NewPage(ctx context.Context) (core.Actuator, error) {
	var out struct {
		PageID string `json:"page_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/session/pages", nil, &out); err != nil {
		return nil, err
	}
	if out.PageID == "" {
		return nil, core.ErrExecution("DRIVER_BAD_RESPONSE", "page created with empty id")
	}
	c.logger.Debug("page opened", "page_id", out.PageID)
	return &page{client: c, id: out.PageID}, nil
}

// Close shuts the whole browser session down.
func (c *Client) Close(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/session", nil, nil)
}

type page struct {
	client *Client
	id     string
}

func (p *page) path(suffix string) string {
	return "/pages/" + url.PathEscape(p.id) + suffix
}

func (p *page) Navigate(ctx context.Context, pageURL string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/navigate"), map[string]any{"url": pageURL}, nil)
}

func (p *page) Reload(ctx context.Context) error {
	return p.client.call(ctx, http.MethodPost, p.path("/reload"), nil, nil)
}

func (p *page) Click(ctx context.Context, target string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/click"), map[string]any{"target": target}, nil)
}

func (p *page) Type(ctx context.Context, target, text string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/type"), map[string]any{"target": target, "text": text}, nil)
}

func (p *page) Press(ctx context.Context, target, key string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/press"), map[string]any{"target": target, "key": key}, nil)
}

func (p *page) WaitFor(ctx context.Context, target string, timeout time.Duration) error {
	body := map[string]any{"target": target, "timeout_ms": timeout.Milliseconds()}
	// The sidecar holds this call until the element shows or the deadline
	// passes, so the HTTP deadline must outlast the wait.
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()
	}
	return p.client.call(waitCtx, http.MethodPost, p.path("/wait_for"), body, nil)
}

func (p *page) ReadText(ctx context.Context, target string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	q := "?target=" + url.QueryEscape(target)
	if err := p.client.call(ctx, http.MethodGet, p.path("/text")+q, nil, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (p *page) Screenshot(ctx context.Context) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	if err := p.client.call(ctx, http.MethodPost, p.path("/screenshot"), nil, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

func (p *page) Close(ctx context.Context) error {
	return p.client.call(ctx, http.MethodDelete, p.path(""), nil, nil)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one sidecar request and maps error responses onto domain
// errors. Session-loss codes become session-closed errors so the scheduler
// can trip its fail-safe.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding driver request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building driver request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.ErrExecution("DRIVER_UNREACHABLE", "driver request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading driver response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if jerr := json.Unmarshal(data, &ae); jerr == nil && ae.Error.Code != "" {
			switch ae.Error.Code {
			case "SESSION_CLOSED", "TARGET_CLOSED", "BROWSER_CLOSED":
				return core.ErrSessionClosed(ae.Error.Message)
			case "TARGET_NOT_FOUND":
				return core.ErrNotFound(ae.Error.Code, ae.Error.Message)
			default:
				return core.ErrExecution(ae.Error.Code, ae.Error.Message)
			}
		}
		return core.ErrExecution("DRIVER_HTTP_"+fmt.Sprint(resp.StatusCode), http.StatusText(resp.StatusCode))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding driver response: %w", err)
		}
	}
	return nil
}
