package core

// ReportCategory names a class of non-fatal issue accumulated during a run.
type ReportCategory string

const (
	ReportValidationMissing  ReportCategory = "validation_missing"
	ReportBrollSkipped       ReportCategory = "broll_skipped"
	ReportBrollNoResults     ReportCategory = "broll_no_results"
	ReportBrollErrors        ReportCategory = "broll_errors"
	ReportManualIntervention ReportCategory = "manual_intervention"
)

// ReportEntry is one recorded issue. Attempt and Artifact are set when the
// entry comes from an exhausted retry loop.
type ReportEntry struct {
	Scene    int    `json:"scene_idx"`
	Query    string `json:"query,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// Report is the structured, non-fatal issue log for one job run. It is owned
// by the job body and only shared through summaries.
type Report struct {
	entries map[ReportCategory][]ReportEntry
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{entries: make(map[ReportCategory][]ReportEntry)}
}

// Add appends an entry under the category.
func (r *Report) Add(cat ReportCategory, e ReportEntry) {
	r.entries[cat] = append(r.entries[cat], e)
}

// Entries returns the entries recorded under the category.
func (r *Report) Entries(cat ReportCategory) []ReportEntry {
	return r.entries[cat]
}

// Count returns the number of entries under the category.
func (r *Report) Count(cat ReportCategory) int {
	return len(r.entries[cat])
}

// Empty reports whether nothing has been recorded.
func (r *Report) Empty() bool {
	for _, es := range r.entries {
		if len(es) > 0 {
			return false
		}
	}
	return true
}

// Summary returns per-category entry counts for snapshots and events.
func (r *Report) Summary() map[string]int {
	out := make(map[string]int, len(r.entries))
	for cat, es := range r.entries {
		out[string(cat)] = len(es)
	}
	return out
}

// BlockPolicy is the declared predicate deciding whether accumulated report
// contents block the terminal generate/final_submit steps.
type BlockPolicy struct {
	Categories []ReportCategory
}

// DefaultBlockPolicy blocks generation on unresolved text mismatches and on
// b-roll failures, but not on skipped (empty query) b-rolls.
func DefaultBlockPolicy() BlockPolicy {
	return BlockPolicy{Categories: []ReportCategory{
		ReportValidationMissing,
		ReportBrollErrors,
		ReportBrollNoResults,
	}}
}

// Blocks reports whether the report contains entries in any blocking
// category, with the first offending category as reason.
func (p BlockPolicy) Blocks(r *Report) (bool, string) {
	if r == nil {
		return false, ""
	}
	for _, cat := range p.Categories {
		if r.Count(cat) > 0 {
			return true, string(cat)
		}
	}
	return false, ""
}
