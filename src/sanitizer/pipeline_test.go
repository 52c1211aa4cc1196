package sanitizer

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubFilter returns a preconfigured outcome.
type stubFilter struct {
	name    string
	outcome Outcome
	err     error
	ran     *bool
}

func (s stubFilter) Name() string { return s.name }
func (s stubFilter) Apply(_ context.Context, text string) (Outcome, error) {
	if s.ran != nil {
		*s.ran = true
	}
	if s.err != nil {
		return Outcome{}, s.err
	}
	o := s.outcome
	if o.Text == "" {
		o.Text = text
	}
	return o, nil
}

func TestPipeline_allKeep(t *testing.T) {
	p := NewPipeline(
		stubFilter{name: "a", outcome: Outcome{Action: ActionKeep}},
		stubFilter{name: "b", outcome: Outcome{Action: ActionKeep}},
	)

	rep, err := p.Process(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Action != ActionKeep {
		t.Errorf("action = %v, want keep", rep.Action)
	}
	if rep.Text != "hello" {
		t.Errorf("text = %q, want %q", rep.Text, "hello")
	}
	if len(rep.Outcomes) != 2 {
		t.Errorf("outcomes = %d, want 2", len(rep.Outcomes))
	}
}

func TestPipeline_rewriteThreadsText(t *testing.T) {
	var seen string
	p := NewPipeline(
		stubFilter{name: "rewriter", outcome: Outcome{Action: ActionRewrite, Text: "rewritten", Notes: []string{"n1"}}},
		recordingFilter{seen: &seen},
	)

	rep, err := p.Process(context.Background(), "original")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "rewritten" {
		t.Errorf("second filter saw %q", seen)
	}
	if rep.Action != ActionRewrite || rep.Text != "rewritten" {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Notes) != 1 {
		t.Errorf("notes = %v", rep.Notes)
	}
}

func TestPipeline_replaceStops(t *testing.T) {
	secondRan := false
	p := NewPipeline(
		stubFilter{name: "replacer", outcome: Outcome{Action: ActionReplace, Text: "placeholder"}},
		stubFilter{name: "never", ran: &secondRan},
	)

	rep, err := p.Process(context.Background(), "input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Action != ActionReplace || rep.Text != "placeholder" {
		t.Errorf("report = %+v", rep)
	}
	if secondRan {
		t.Error("filter after replace should not run")
	}
}

func TestPipeline_failingFilterIsSkipped(t *testing.T) {
	boom := errors.New("filter failed")
	var seen string
	p := NewPipeline(
		stubFilter{name: "upper", outcome: Outcome{Action: ActionRewrite, Text: "STEP1"}},
		stubFilter{name: "broken", err: boom},
		recordingFilter{seen: &seen},
		NewTruncateFilter(3),
	)

	rep, err := p.Process(context.Background(), "input")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not name the filter", err)
	}
	if seen != "STEP1" {
		t.Errorf("filter after the failure saw %q", seen)
	}
	if rep.Text != "STE"+truncationSuffix {
		t.Errorf("text = %q, later filters did not run", rep.Text)
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != "broken" {
		t.Errorf("failed = %v", rep.Failed)
	}
	if len(rep.Outcomes) != 3 {
		t.Errorf("outcomes = %d, want 3", len(rep.Outcomes))
	}
}

func TestPipeline_cleanReturnsBestEffortText(t *testing.T) {
	boom := errors.New("filter failed")
	p := NewPipeline(
		stubFilter{name: "broken", err: boom},
		stubFilter{name: "rewriter", outcome: Outcome{Action: ActionRewrite, Text: "cleaned"}},
	)

	got, err := p.Clean(context.Background(), "input")
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if got != "cleaned" {
		t.Errorf("Clean = %q, want the text from the filters that ran", got)
	}
}

func TestPipeline_notesDeduplicatedAndAttributed(t *testing.T) {
	p := NewPipeline(
		stubFilter{name: "a", outcome: Outcome{Action: ActionRewrite, Text: "x", Notes: []string{"links defanged"}}},
		stubFilter{name: "b", outcome: Outcome{Action: ActionRewrite, Text: "y", Notes: []string{"links defanged", "credentials redacted"}}},
	)

	rep, err := p.Process(context.Background(), "input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Notes) != 2 || rep.Notes[0] != "links defanged" || rep.Notes[1] != "credentials redacted" {
		t.Errorf("notes = %v", rep.Notes)
	}
	if rep.Outcomes[0].Filter != "a" || rep.Outcomes[1].Filter != "b" {
		t.Errorf("outcomes not attributed: %+v", rep.Outcomes)
	}
}

func TestPipeline_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(ControlFilter{}).Process(ctx, "text")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPipeline_empty(t *testing.T) {
	rep, err := NewPipeline().Process(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Action != ActionKeep || rep.Text != "hello" {
		t.Errorf("report = %+v", rep)
	}
}

func TestForDetails_cleansScanDetails(t *testing.T) {
	in := "High severity detected! drops\u200B payload. Evidence: GET http://evil.example.com/p?token=abc"
	got, err := ForDetails(0).Clean(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "\u200B") {
		t.Error("zero-width space survived")
	}
	if !strings.Contains(got, "hxxp://evil[.]example[.]com/p?token=REDACTED") {
		t.Errorf("got %q", got)
	}
}

func TestForDetails_truncates(t *testing.T) {
	got, err := ForDetails(10).Clean(context.Background(), strings.Repeat("a", 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != strings.Repeat("a", 10)+truncationSuffix {
		t.Errorf("got %q", got)
	}
}

func TestForDetails_plainTextUnchanged(t *testing.T) {
	in := "No critical threats detected. No description provided.. Evidence: No evidence provided."
	got, err := ForDetails(4000).Clean(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}

// recordingFilter captures the text it was given.
type recordingFilter struct {
	seen *string
}

func (recordingFilter) Name() string { return "recording" }
func (r recordingFilter) Apply(_ context.Context, text string) (Outcome, error) {
	*r.seen = text
	return Outcome{Action: ActionKeep, Text: text}, nil
}
