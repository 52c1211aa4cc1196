package report

import (
	"strings"
	"testing"
)

func TestParse_highSeverityScenario(t *testing.T) {
	raw := "[*] starting monitor\n[Result] {'level': 7.5, 'description': 'test', 'evidence': 'e1'}\nMonitor terminated."
	res := Parse(raw)

	if res.Status != StatusMalicious {
		t.Errorf("status = %q, want malicious", res.Status)
	}
	for _, want := range []string{"High severity", "test", "e1"} {
		if !strings.Contains(res.Details, want) {
			t.Errorf("details %q missing %q", res.Details, want)
		}
	}
	if !res.Completed {
		t.Error("expected Completed")
	}
}

func TestParse_thresholds(t *testing.T) {
	cases := []struct {
		level  string
		status Status
		label  string
	}{
		{"10", StatusMalicious, "Critical severity"},
		{"9.0", StatusMalicious, "Critical severity"},
		{"8.99", StatusMalicious, "High severity"},
		{"7.0", StatusMalicious, "High severity"},
		{"6.9", StatusSuspicious, "Medium severity"},
		{"4.0", StatusSuspicious, "Medium severity"},
		{"3.9", StatusSuspicious, "Low severity"},
		{"0.1", StatusSuspicious, "Low severity"},
		{"0", StatusClean, "No critical threats"},
		{"0.0", StatusClean, "No critical threats"},
	}
	for _, c := range cases {
		t.Run(c.level, func(t *testing.T) {
			raw := `[Result] {"level": ` + c.level + `, "description": "d", "evidence": "e"} Monitor terminated.`
			res := Parse(raw)
			if res.Status != c.status {
				t.Errorf("status = %q, want %q", res.Status, c.status)
			}
			if !strings.HasPrefix(res.Details, c.label) {
				t.Errorf("details = %q, want prefix %q", res.Details, c.label)
			}
		})
	}
}

func TestParse_defaultsWhenFieldsMissing(t *testing.T) {
	res := Parse(`[Result] {} Monitor terminated.`)
	if res.Status != StatusClean {
		t.Errorf("status = %q, want clean", res.Status)
	}
	if !strings.Contains(res.Details, defaultDescription) || !strings.Contains(res.Details, defaultEvidence) {
		t.Errorf("details = %q, want default description and evidence", res.Details)
	}
}

func TestParse_markerWithoutResultIsClean(t *testing.T) {
	res := Parse("analysis log...\nMonitor terminated.")
	if res.Status != StatusClean {
		t.Errorf("status = %q, want clean", res.Status)
	}
	if !res.Completed {
		t.Error("expected Completed")
	}
}

func TestParse_unknownFormat(t *testing.T) {
	raw := strings.Repeat("z", 800)
	res := Parse(raw)
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
	if strings.Count(res.Details, "z") != excerptLimit {
		t.Errorf("expected a %d character excerpt, got %d", excerptLimit, strings.Count(res.Details, "z"))
	}
	if !res.Completed {
		t.Error("expected Completed")
	}
}

func TestParse_topLevelError(t *testing.T) {
	res := Parse(`{"error": "Report fetch failed", "details": "connection refused", "code": 7}`)
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Details, "connection refused") || !strings.Contains(res.Details, "(Code: 7)") {
		t.Errorf("details = %q", res.Details)
	}
	if !res.Completed {
		t.Error("expected Completed")
	}
}

func TestParse_topLevelJSONWithoutErrorFallsThrough(t *testing.T) {
	res := Parse(`{"status": "running"}`)
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Details, "Unknown report format") {
		t.Errorf("details = %q", res.Details)
	}
}

func TestParse_resultMarkerWithoutBraceUsesCompletionMarker(t *testing.T) {
	res := Parse("[Result] nothing to report\nMonitor terminated.")
	if res.Status != StatusClean {
		t.Errorf("status = %q, want clean", res.Status)
	}
}

func TestParse_braceBeforeMarkerIgnored(t *testing.T) {
	raw := `{"level": 9} noise [Result] {'level': 1.5} Monitor terminated.`
	res := Parse(raw)
	if res.Status != StatusSuspicious {
		t.Errorf("status = %q, want suspicious", res.Status)
	}
}

func TestParse_doubledQuotesUseRelaxedParser(t *testing.T) {
	raw := `[Result] {'level': 5, 'description': 'it''s packed', 'evidence': 'upx'} Monitor terminated.`
	res := Parse(raw)
	if res.Status != StatusSuspicious {
		t.Fatalf("status = %q, want suspicious (details %q)", res.Status, res.Details)
	}
	if !strings.Contains(res.Details, "it's packed") {
		t.Errorf("details = %q", res.Details)
	}
}

func TestParse_unparseableEmbedded(t *testing.T) {
	res := Parse(`[Result] {level: [unclosed } Monitor terminated.`)
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Details, "Failed to parse embedded report JSON") {
		t.Errorf("details = %q", res.Details)
	}
}

func TestParse_nonNumericLevel(t *testing.T) {
	res := Parse(`[Result] {"level": "high"} Monitor terminated.`)
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestParse_deterministic(t *testing.T) {
	inputs := []string{
		"[Result] {'level': 7.5, 'description': 'test', 'evidence': 'e1'}",
		"Monitor terminated.",
		`{"error": "x"}`,
		"garbage",
	}
	for _, in := range inputs {
		if a, b := Parse(in), Parse(in); a != b {
			t.Errorf("Parse(%q) not deterministic: %+v vs %+v", in, a, b)
		}
	}
}

func TestNormalizeQuotes(t *testing.T) {
	cases := map[string]string{
		`{'a': 'b'}`:          `{"a":"b"}`,
		`{'a': [1, 2]}`:       `{"a":[1, 2]}`,
		`{'a': {'b': 'c'}}`:   `{"a":{"b":"c"}}`,
		`{'n': 3, 'm': 4}`:    `{"n": 3,"m": 4}`,
		`{"already": "json"}`: `{"already": "json"}`,
	}
	for in, want := range cases {
		if got := NormalizeQuotes(in); got != want {
			t.Errorf("NormalizeQuotes(%s) = %s, want %s", in, got, want)
		}
	}
}
