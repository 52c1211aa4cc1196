package sanitizer

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

var (
	linkPattern     = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"{}|\\^\x60\[\]]+`)
	scriptSchemes   = regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:|\bdata\s*:\s*text/html`)
	secretQueryKeys = regexp.MustCompile(`(?i)^(secret|token|key|password|api_key|credential|auth|session_id|private_key)$`)
)

// LinkFilter defangs links in scan details so the extension never renders
// them as clickable: http(s) becomes hxxp(s) with bracketed host dots,
// script-capable schemes lose their colon, and userinfo and
// credential-looking query values are redacted.
type LinkFilter struct{}

func (LinkFilter) Name() string { return "link" }

func (f LinkFilter) Apply(_ context.Context, text string) (Outcome, error) {
	var notes []string

	out := scriptSchemes.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Replace(m, ":", "[:]", 1)
	})
	if out != text {
		notes = append(notes, "script URI scheme defanged")
	}

	before := out
	redacted := false
	out = linkPattern.ReplaceAllStringFunc(out, func(m string) string {
		d, r := defang(m)
		redacted = redacted || r
		return d
	})
	if out != before {
		notes = append(notes, "links defanged")
	}
	if redacted {
		notes = append(notes, "credentials redacted")
	}

	if out == text {
		return Outcome{Action: ActionKeep, Text: text, Filter: f.Name()}, nil
	}
	return Outcome{Action: ActionRewrite, Text: out, Notes: notes, Filter: f.Name()}, nil
}

// defang rewrites one http(s) link. The bool reports whether anything was
// redacted.
func defang(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.Replace(link, "http", "hxxp", 1), false
	}

	redacted := false
	if u.User != nil {
		u.User = nil
		redacted = true
	}
	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for k := range q {
			if secretQueryKeys.MatchString(k) {
				q.Set(k, "REDACTED")
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
			redacted = true
		}
	}

	scheme := "hxxp"
	if strings.EqualFold(u.Scheme, "https") {
		scheme = "hxxps"
	}
	host := strings.ReplaceAll(u.Host, ".", "[.]")
	rest := strings.TrimPrefix(u.String(), u.Scheme+"://"+u.Host)
	return scheme + "://" + host + rest, redacted
}
