package sanitizer

import "context"

const truncationSuffix = " [truncated]"

// TruncateFilter caps text at MaxChars runes.
type TruncateFilter struct {
	MaxChars int
}

// NewTruncateFilter creates a TruncateFilter with the given rune limit.
func NewTruncateFilter(maxChars int) *TruncateFilter {
	return &TruncateFilter{MaxChars: maxChars}
}

func (f *TruncateFilter) Name() string { return "truncate" }

func (f *TruncateFilter) Apply(_ context.Context, text string) (Outcome, error) {
	runes := []rune(text)
	if len(runes) <= f.MaxChars {
		return Outcome{Action: ActionKeep, Text: text, Filter: f.Name()}, nil
	}
	return Outcome{
		Action: ActionRewrite,
		Text:   string(runes[:f.MaxChars]) + truncationSuffix,
		Notes:  []string{"details exceeded character limit"},
		Filter: f.Name(),
	}, nil
}
