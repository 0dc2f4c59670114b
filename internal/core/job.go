package core

import (
	"fmt"
	"strconv"
	"strings"
)

// JobKey identifies one run of the workflow: a single part of a collection.
// Keys are stable and never reused for unrelated units.
type JobKey struct {
	Collection string `json:"collection"`
	Part       int    `json:"part"`
}

// String renders the key in its canonical "collection::part" form.
func (k JobKey) String() string {
	return fmt.Sprintf("%s::%d", k.Collection, k.Part)
}

// IsZero reports whether the key is unset.
func (k JobKey) IsZero() bool {
	return k.Collection == "" && k.Part == 0
}

// ParseJobKey parses the canonical "collection::part" form.
func ParseJobKey(s string) (JobKey, error) {
	idx := strings.LastIndex(s, "::")
	if idx <= 0 {
		return JobKey{}, fmt.Errorf("invalid job key %q", s)
	}
	part, err := strconv.Atoi(s[idx+2:])
	if err != nil {
		return JobKey{}, fmt.Errorf("invalid part in job key %q: %w", s, err)
	}
	return JobKey{Collection: s[:idx], Part: part}, nil
}

// Unit is one scene row delivered by a ContentSource. A job processes the
// units sharing its (collection, part).
type Unit struct {
	Collection  string `json:"collection"`
	Part        int    `json:"part"`
	Scene       int    `json:"scene"`
	Text        string `json:"text"`
	Broll       string `json:"broll,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
	Title       string `json:"title,omitempty"`
	TemplateURL string `json:"template_url,omitempty"`
}

// RunContext is the per-job variable map used for placeholder rendering in
// workflow step params. It is read-only during step execution.
type RunContext map[string]any

// NewRunContext builds the standard variable set for a job.
func NewRunContext(key JobKey, templateURL, title string, sceneCount int) RunContext {
	return RunContext{
		"collection":   key.Collection,
		"episode_id":   key.Collection,
		"part_idx":     key.Part,
		"template_url": templateURL,
		"title":        title,
		"scenes_count": sceneCount,
	}
}

// MergeDefaults folds extra variables, typically a workflow's settings
// block, under the standard set. Existing keys win.
func (rc RunContext) MergeDefaults(vars map[string]any) {
	for k, v := range vars {
		if _, ok := rc[k]; !ok {
			rc[k] = v
		}
	}
}

// Value returns a context variable, or nil when absent.
func (rc RunContext) Value(name string) any {
	if rc == nil {
		return nil
	}
	return rc[name]
}
