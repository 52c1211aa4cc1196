package sanitizer

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const binaryPlaceholder = "[details omitted: binary content]"

// ControlFilter NFKC-normalizes text and drops format, private-use and
// control characters other than common whitespace. Text that is not valid
// UTF-8 or is mostly control bytes is replaced with a placeholder.
type ControlFilter struct{}

func (ControlFilter) Name() string { return "control" }

func (f ControlFilter) Apply(_ context.Context, text string) (Outcome, error) {
	if looksBinary(text) {
		return Outcome{
			Action: ActionReplace,
			Text:   binaryPlaceholder,
			Notes:  []string{"binary content replaced"},
			Filter: f.Name(),
		}, nil
	}

	normalized := norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(normalized))
	dropped := 0
	for _, r := range normalized {
		if isHidden(r) {
			dropped++
			continue
		}
		b.WriteRune(r)
	}

	cleaned := b.String()
	if cleaned == text {
		return Outcome{Action: ActionKeep, Text: text, Filter: f.Name()}, nil
	}

	var notes []string
	if dropped > 0 {
		notes = append(notes, "hidden characters removed")
	}
	return Outcome{Action: ActionRewrite, Text: cleaned, Notes: notes, Filter: f.Name()}, nil
}

func isHidden(r rune) bool {
	switch r {
	case '\n', '\t', '\r', ' ':
		return false
	}
	return unicode.In(r, unicode.Cf, unicode.Co, unicode.Cc)
}

// looksBinary is true for invalid UTF-8 or text where more than a quarter
// of the runes are control characters.
func looksBinary(text string) bool {
	if text == "" {
		return false
	}
	if !utf8.ValidString(text) {
		return true
	}
	total, control := 0, 0
	for _, r := range text {
		total++
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			control++
		}
	}
	return control*4 > total
}
