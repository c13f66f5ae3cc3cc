package sync

import "github.com/schaermu/datapages/internal/document"

// Outcome is what a run did with one source.
type Outcome string

// Outcomes of a single source within one run.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// SourceResult records the handling of one source.
type SourceResult struct {
	Name        string
	Path        string // file path inside the store
	Outcome     Outcome
	Fingerprint document.Fingerprint // of the fetched document; empty on failure
}

// Changed reports whether the source's stored document was (or, in a dry
// run, would be) replaced.
func (r SourceResult) Changed() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeUpdated
}

// Result is the outcome of a whole run.
type Result struct {
	// Changed is true when any source changed. It alone decides whether
	// the store is published.
	Changed   bool
	Published bool
	Sources   []SourceResult
}

// ChangedSources returns the names of the sources that changed.
func (r *Result) ChangedSources() []string {
	var names []string
	for _, s := range r.Sources {
		if s.Changed() {
			names = append(names, s.Name)
		}
	}
	return names
}
