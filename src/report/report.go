// Package report turns the remote analysis service's free-text report into
// a verdict.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is a scan verdict.
type Status string

const (
	StatusClean      Status = "clean"
	StatusSuspicious Status = "suspicious"
	StatusMalicious  Status = "malicious"
	StatusPending    Status = "pending"
	StatusError      Status = "error"
)

// Markers in the report text.
const (
	ResultMarker     = "[Result]"
	CompletionMarker = "Monitor terminated."
)

const (
	defaultDescription = "No description provided."
	defaultEvidence    = "No evidence provided."
	excerptLimit       = 500
)

// Result is the verdict derived from one report body. Completed is true
// once the body itself yielded a decision, including an error decision.
type Result struct {
	Status    Status
	Details   string
	Completed bool
}

// Parse derives a Result from raw report text. It is a pure function of
// its input.
func Parse(raw string) Result {
	if res, ok := fetchError(raw); ok {
		return res
	}

	embedded, found := extractEmbedded(raw)
	switch {
	case found:
		return parseEmbedded(embedded)
	case strings.Contains(raw, CompletionMarker):
		return Result{Status: StatusClean, Details: "No critical threats detected. ", Completed: true}
	default:
		return Result{
			Status:    StatusError,
			Details:   "Unknown report format or analysis stuck. Raw report (truncated): " + excerpt(raw) + "...",
			Completed: true,
		}
	}
}

// fetchError recognizes a whole-body JSON object carrying an "error" field.
func fetchError(raw string) (Result, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Result{}, false
	}
	errVal, ok := obj["error"]
	if !ok {
		return Result{}, false
	}

	msg := "Unknown error."
	if d, ok := obj["details"].(string); ok {
		msg = d
	} else if e, ok := errVal.(string); ok && e != "" {
		msg = e
	}
	details := "Report fetch error: " + msg
	if code, ok := obj["code"]; ok {
		encoded, _ := json.Marshal(code)
		details += " (Code: " + string(encoded) + ")"
	}
	return Result{Status: StatusError, Details: details, Completed: true}, true
}

// extractEmbedded slices the first {...} block after the [Result] marker,
// both braces included.
func extractEmbedded(raw string) (string, bool) {
	head := strings.Index(raw, ResultMarker)
	if head < 0 {
		return "", false
	}
	start := strings.Index(raw[head:], "{")
	if start < 0 {
		return "", false
	}
	start += head
	end := strings.Index(raw[start:], "}")
	if end < 0 {
		return "", false
	}
	return raw[start : start+end+1], true
}

func parseEmbedded(embedded string) Result {
	fields, normalized, err := decodeEmbedded(embedded)
	if err != nil {
		return Result{
			Status:    StatusError,
			Details:   fmt.Sprintf("Failed to parse embedded report JSON: %v. Embedded JSON: %s", err, normalized),
			Completed: true,
		}
	}

	level, err := numberField(fields, "level", 0)
	if err != nil {
		return processingError(err)
	}
	description, err := stringField(fields, "description", defaultDescription)
	if err != nil {
		return processingError(err)
	}
	evidence, err := stringField(fields, "evidence", defaultEvidence)
	if err != nil {
		return processingError(err)
	}

	status, label := Classify(level)
	return Result{
		Status:    status,
		Details:   label + " " + description + ". Evidence: " + evidence,
		Completed: true,
	}
}

// Classify maps a severity level to a status and a severity label,
// evaluating the highest threshold first.
func Classify(level float64) (Status, string) {
	switch {
	case level >= 9.0:
		return StatusMalicious, "Critical severity detected!"
	case level >= 7.0:
		return StatusMalicious, "High severity detected!"
	case level >= 4.0:
		return StatusSuspicious, "Medium severity detected."
	case level > 0.0:
		return StatusSuspicious, "Low severity detected."
	default:
		return StatusClean, "No critical threats detected."
	}
}

func processingError(err error) Result {
	return Result{
		Status:    StatusError,
		Details:   "Error processing embedded report JSON: " + err.Error(),
		Completed: true,
	}
}

func numberField(fields map[string]any, key string, def float64) (float64, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("field %q is %T, not a number", key, v)
	}
}

func stringField(fields map[string]any, key, def string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, not a string", key, v)
	}
	return s, nil
}

func excerpt(raw string) string {
	runes := []rune(raw)
	if len(runes) <= excerptLimit {
		return raw
	}
	return string(runes[:excerptLimit])
}
