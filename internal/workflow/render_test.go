package workflow

import (
	"testing"
	"time"

	"scenesmith/internal/core"
)

func TestRender(t *testing.T) {
	rc := core.RunContext{"title": "Episode One", "part_idx": 3}

	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"no placeholders", "no placeholders"},
		{"{{title}}", "Episode One"},
		{"part {{ part_idx }}", "part 3"},
		{"{{title}} / {{part_idx}}", "Episode One / 3"},
		{"{{missing}}", ""},
		{"{{title}}{{missing}}!", "Episode One!"},
	}
	for _, tc := range cases {
		if got := Render(tc.in, rc); got != tc.want {
			t.Errorf("Render(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"s":      "  hello  ",
		"empty":  "",
		"n":      float64(7), // JSON numbers decode as float64
		"nstr":   "42",
		"sec":    1.5,
		"secstr": "2",
		"flag":   "yes",
		"off":    false,
	}

	if got := ParamString(params, "s", "x"); got != "hello" {
		t.Errorf("ParamString trimmed = %q", got)
	}
	if got := ParamString(params, "empty", "fallback"); got != "fallback" {
		t.Errorf("empty string should fall back, got %q", got)
	}
	if got := ParamInt(params, "n", 0); got != 7 {
		t.Errorf("ParamInt float = %d", got)
	}
	if got := ParamInt(params, "nstr", 0); got != 42 {
		t.Errorf("ParamInt string = %d", got)
	}
	if got := ParamInt(params, "missing", 9); got != 9 {
		t.Errorf("ParamInt fallback = %d", got)
	}
	if got := ParamDuration(params, "sec", 0); got != 1500*time.Millisecond {
		t.Errorf("ParamDuration fractional = %v", got)
	}
	if got := ParamDuration(params, "secstr", 0); got != 2*time.Second {
		t.Errorf("ParamDuration string = %v", got)
	}
	if got := ParamBool(params, "flag", false); !got {
		t.Error("ParamBool yes should be true")
	}
	if got := ParamBool(params, "off", true); got {
		t.Error("ParamBool false should be false")
	}
	if got := ParamBool(params, "missing", true); !got {
		t.Error("ParamBool fallback")
	}
}
