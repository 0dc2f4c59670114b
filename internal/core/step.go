package core

import "fmt"

// WorkflowStep is one declared unit of work, dispatched by type. Params
// values may contain {{variable}} placeholders rendered against the job's
// RunContext. Steps are immutable once a run starts.
type WorkflowStep struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Workflow is a named, user-editable step list plus run settings.
type Workflow struct {
	Name     string         `json:"name"`
	Steps    []WorkflowStep `json:"steps"`
	Settings map[string]any `json:"settings,omitempty"`
}

// ValidateSteps checks a step list for structural problems and returns one
// message per problem. An empty list is itself an error: a job with no steps
// is a configuration mistake, not an empty run.
func ValidateSteps(steps []WorkflowStep) []string {
	if len(steps) == 0 {
		return []string{"workflow has no steps"}
	}
	var errs []string
	for i, st := range steps {
		if st.Type == "" {
			errs = append(errs, fmt.Sprintf("step %d: missing type", i))
		}
	}
	return errs
}
