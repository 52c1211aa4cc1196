// Package sanitizer cleans text received from the remote analysis service
// before it is forwarded to the browser extension.
package sanitizer

import "context"

// Action is what a Filter did to the text.
type Action int

const (
	// ActionKeep means the text was left unchanged.
	ActionKeep Action = iota
	// ActionRewrite means the filter produced replacement text.
	ActionRewrite
	// ActionReplace means the text was unusable and was swapped for a
	// placeholder. Later filters are skipped.
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRewrite:
		return "rewrite"
	case ActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Filter inspects and optionally rewrites text. Implementations return
// the new text in the Outcome and never mutate shared state.
type Filter interface {
	Name() string
	Apply(ctx context.Context, text string) (Outcome, error)
}

// Outcome is the result of a single Filter.
type Outcome struct {
	Action Action
	Text   string
	Notes  []string // what was changed, for logs
	Filter string
}

// Report aggregates the outcomes of a pipeline run. Notes are
// de-duplicated; Failed names the filters that returned an error.
type Report struct {
	Action   Action
	Text     string
	Notes    []string
	Outcomes []Outcome
	Failed   []string
}
