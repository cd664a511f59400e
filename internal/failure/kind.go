// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package failure classifies HTTP failures reported by the transport
// collaborator and keeps a bounded diagnostic history of them.
package failure

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the classification of one failed media request.
type Kind string

const (
	KindGeoRestricted Kind = "GEO_RESTRICTED"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindURLExpired    Kind = "URL_EXPIRED"
	KindUnknown403    Kind = "UNKNOWN_403"
	KindHTTPError     Kind = "HTTP_ERROR"
	KindNetworkError  Kind = "NETWORK_ERROR"
)

// Terminal reports whether the failure must never be retried.
func (k Kind) Terminal() bool {
	return k == KindGeoRestricted
}

var (
	geoPattern = regexp.MustCompile(`(?i)(not available in your (country|region)|` +
		`(country|geo|region)[\s_-]*(block|restrict|lock)|` +
		`blocked in your (country|region)|geo[\s_-]?fenc|` +
		`playability[\s\S]*unplayable)`)
	rateLimitPattern = regexp.MustCompile(`(?i)(rate[\s_-]?limit|too many requests|quota exceeded|slow down|throttl)`)
	expiryPattern    = regexp.MustCompile(`(?i)(expire|signature|token)`)
)

// Classify maps a response to a failure kind. The first matching rule wins.
func Classify(code int, headers map[string][]string, body string) Kind {
	if code == http.StatusForbidden {
		if geoPattern.MatchString(body) || headersMatch(headers, geoPattern) {
			return KindGeoRestricted
		}
		if _, ok := headerValue(headers, "Retry-After"); ok || rateLimitPattern.MatchString(body) {
			return KindRateLimited
		}
		if expiryPattern.MatchString(body) {
			return KindURLExpired
		}
		return KindUnknown403
	}
	if code == http.StatusTooManyRequests {
		return KindRateLimited
	}
	if code >= 400 && code <= 599 {
		return KindHTTPError
	}
	return KindNetworkError
}

// RetryAfter parses a Retry-After header given either in seconds or as an HTTP date.
func RetryAfter(headers map[string][]string, now time.Time) (time.Duration, bool) {
	raw, ok := headerValue(headers, "Retry-After")
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// headerValue looks a header up case-insensitively; raw maps from the
// transport are not guaranteed to be canonicalised.
func headerValue(headers map[string][]string, name string) (string, bool) {
	for k, vs := range headers {
		if !strings.EqualFold(k, name) {
			continue
		}
		if len(vs) == 0 {
			return "", true
		}
		return vs[0], true
	}
	return "", false
}

func headersMatch(headers map[string][]string, re *regexp.Regexp) bool {
	for k, vs := range headers {
		if re.MatchString(k) {
			return true
		}
		for _, v := range vs {
			if re.MatchString(v) {
				return true
			}
		}
	}
	return false
}
