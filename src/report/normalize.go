package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// quoteRule rewrites one single-quote idiom into JSON double quotes.
type quoteRule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// quoteRules run in order. They are textual substitutions: quotes nested
// or escaped inside values are not understood.
var quoteRules = []quoteRule{
	{"pair", regexp.MustCompile(`'([^']+)'\s*:\s*'([^']*)'`), `"${1}":"${2}"`},
	{"container key", regexp.MustCompile(`'([^']+)'\s*:\s*(\[|\{)`), `"${1}":${2}`},
	{"object key", regexp.MustCompile(`([\{,])\s*'([^']+)'\s*:`), `${1}"${2}":`},
	{"value", regexp.MustCompile(`:\s*'([^']+)'`), `:"${1}"`},
}

// NormalizeQuotes converts a Python-style single-quoted mapping into JSON
// by applying each quote rule in turn.
func NormalizeQuotes(s string) string {
	for _, rule := range quoteRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// decodeEmbedded decodes the embedded report block. The quote-normalized
// text is tried as JSON first (comments and trailing commas tolerated). If
// that fails the original block is decoded as a YAML flow mapping, which
// handles single-quoted strings with doubled quotes ('it''s'). Backslash
// escapes inside single quotes are not understood by either decoder. It
// returns the normalized text for diagnostics.
func decodeEmbedded(embedded string) (map[string]any, string, error) {
	normalized := NormalizeQuotes(embedded)

	var fields map[string]any
	jsonErr := json.Unmarshal(jsonc.ToJSON([]byte(normalized)), &fields)
	if jsonErr == nil && fields != nil {
		return fields, normalized, nil
	}

	fields = nil
	yamlErr := yaml.Unmarshal([]byte(embedded), &fields)
	if yamlErr == nil && fields != nil {
		return fields, normalized, nil
	}

	if jsonErr == nil {
		jsonErr = errors.New("embedded report is not an object")
	}
	if yamlErr != nil {
		return nil, normalized, fmt.Errorf("%w (relaxed parse: %v)", jsonErr, yamlErr)
	}
	return nil, normalized, jsonErr
}
