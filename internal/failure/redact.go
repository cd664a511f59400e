// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package failure

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const redacted = "***"

// sensitiveHeaderKeywords mark header names whose values never reach diagnostics.
var sensitiveHeaderKeywords = []string{
	"authorization",
	"cookie",
	"token",
	"secret",
	"api-key",
	"apikey",
	"password",
	"identity",
	"session",
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range sensitiveHeaderKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// redactHeaders copies headers, masking sensitive values.
func redactHeaders(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, vs := range in {
		if isSensitiveHeader(k) {
			out[k] = []string{redacted}
			continue
		}
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// hostOf returns the request host, or "unknown" for anything unparsable.
func hostOf(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return "unknown"
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// truncate caps s at limit runes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
