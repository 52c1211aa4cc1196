package sanitizer

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline runs an ordered sequence of Filters. Rewritten text is threaded
// into the next filter and ActionReplace stops the run.
type Pipeline struct {
	filters []Filter
}

// NewPipeline creates a pipeline. Filters run in slice order.
func NewPipeline(filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

// ForDetails builds the pipeline applied to scan details: control
// characters, then links, then length. maxChars <= 0 disables truncation.
func ForDetails(maxChars int) *Pipeline {
	filters := []Filter{ControlFilter{}, LinkFilter{}}
	if maxChars > 0 {
		filters = append(filters, NewTruncateFilter(maxChars))
	}
	return NewPipeline(filters...)
}

// Process runs the filters in order. A filter that fails is skipped: its
// error is recorded, the text it was given passes on unchanged and the
// remaining filters still run. The joined filter errors are returned with
// the best-effort report. Only context cancellation stops the run early.
func (p *Pipeline) Process(ctx context.Context, text string) (Report, error) {
	report := Report{
		Action:   ActionKeep,
		Text:     text,
		Outcomes: make([]Outcome, 0, len(p.filters)),
	}
	seen := make(map[string]bool)
	var errs []error

	for _, f := range p.filters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out, err := f.Apply(ctx, report.Text)
		if err != nil {
			report.Failed = append(report.Failed, f.Name())
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		if out.Filter == "" {
			out.Filter = f.Name()
		}
		report.Outcomes = append(report.Outcomes, out)
		for _, n := range out.Notes {
			if !seen[n] {
				seen[n] = true
				report.Notes = append(report.Notes, n)
			}
		}

		if out.Action == ActionKeep {
			continue
		}
		report.Action = max(report.Action, out.Action)
		report.Text = out.Text
		if out.Action == ActionReplace {
			break
		}
	}

	return report, errors.Join(errs...)
}

// Clean is Process for callers that only want the text. The text is the
// best-effort result even when a filter failed.
func (p *Pipeline) Clean(ctx context.Context, text string) (string, error) {
	report, err := p.Process(ctx, text)
	return report.Text, err
}
