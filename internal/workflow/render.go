package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scenesmith/internal/core"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{variable}} placeholders against the run context.
// Unknown variables render as the empty string.
func Render(s string, rc core.RunContext) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v := rc.Value(name)
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// renderParams renders every string value in params; other values pass
// through untouched.
func renderParams(params map[string]any, rc core.RunContext) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = Render(s, rc)
		} else {
			out[k] = v
		}
	}
	return out
}

// ParamString reads a string param, with fallback.
func ParamString(params map[string]any, key, fallback string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return fallback
	}
	return s
}

// ParamInt reads an integer param, with fallback. JSON numbers arrive as
// float64 and are truncated.
func ParamInt(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return fallback
}

// ParamDuration reads a params value expressed in seconds (the workflow
// file convention) into a duration.
func ParamDuration(params map[string]any, key string, fallback time.Duration) time.Duration {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second))
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

// ParamBool reads a boolean param, with fallback.
func ParamBool(params map[string]any, key string, fallback bool) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
