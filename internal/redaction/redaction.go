// Package redaction implements the collector's sanitize step (§4.4 step
// 5): payload fields whose key looks like a credential are replaced
// outright, oversized string values are truncated, and — grounded on the
// teacher's regex secret scanner — any surviving string value is swept
// for secret-shaped content (AWS keys, bearer tokens, JWTs, PATs, PEM
// blocks, Luhn-valid card numbers) as a defense-in-depth pass beyond the
// field-name check the spec requires.
package redaction

import (
	"regexp"
	"strings"

	"github.com/brennhill/tracebackbone/internal/types"
)

const (
	// redactedValue replaces a payload value whose key names a credential.
	redactedValue = "[REDACTED]"
	// maxValueBytes is the default truncation threshold for string values.
	maxValueBytes   = 1000
	truncatedSuffix = " ... [TRUNCATED]"
)

// sensitiveKeyFragments are matched as case-insensitive substrings of a
// payload field name (§4.4 step 5: "password, token, secret, key, auth").
var sensitiveKeyFragments = []string{"password", "token", "secret", "key", "auth"}

// compiledPattern holds a pre-compiled regex and its replacement string.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	validate    func(match string) bool
}

// builtinPatterns are the always-active content-based scan rules.
var builtinPatterns = []struct {
	name     string
	pattern  string
	validate func(string) bool
}{
	{name: "aws-key", pattern: `AKIA[0-9A-Z]{16}`},
	{name: "bearer-token", pattern: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{name: "basic-auth", pattern: `Basic [A-Za-z0-9+/]+=*`},
	{name: "jwt", pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{name: "github-pat", pattern: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{name: "private-key", pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{name: "credit-card", pattern: `\b([0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4})\b`, validate: luhnValidateMatch},
	{name: "ssn", pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
}

// Sanitizer applies the collector's sanitize step to event payloads. It is
// safe for concurrent use after construction.
type Sanitizer struct {
	patterns      []compiledPattern
	maxValueBytes int
}

// New builds a Sanitizer with the built-in content patterns. maxBytes of
// 0 selects the default truncation threshold (1000 bytes, §4.4 step 5).
func New(maxBytes int) *Sanitizer {
	if maxBytes <= 0 {
		maxBytes = maxValueBytes
	}
	s := &Sanitizer{maxValueBytes: maxBytes}
	for _, bp := range builtinPatterns {
		re, err := regexp.Compile(bp.pattern)
		if err != nil {
			continue // built-ins are fixed strings, should never fail
		}
		s.patterns = append(s.patterns, compiledPattern{
			name:        bp.name,
			regex:       re,
			replacement: "[REDACTED:" + bp.name + "]",
			validate:    bp.validate,
		})
	}
	return s
}

// SanitizeEvent rewrites e.Payload in place, applying the field-name rule
// to top-level and nested map keys, the content scan to every surviving
// string value, and truncation to oversized strings.
func (s *Sanitizer) SanitizeEvent(e *types.Event) {
	if e.Payload == nil {
		return
	}
	e.Payload = s.sanitizeMap(e.Payload).(map[string]any)
}

func (s *Sanitizer) sanitizeMap(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return s.sanitizeString(t)
	case map[string]any:
		return s.sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func (s *Sanitizer) sanitizeString(v string) string {
	v = s.scan(v)
	if len(v) > s.maxValueBytes {
		return v[:s.maxValueBytes] + truncatedSuffix
	}
	return v
}

// scan applies the content-based patterns, a defense-in-depth layer the
// field-name rule alone won't catch (e.g. a secret pasted into a free-text
// "message" field).
func (s *Sanitizer) scan(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range s.patterns {
		if p.validate != nil {
			result = p.regex.ReplaceAllStringFunc(result, func(match string) string {
				if p.validate(match) {
					return p.replacement
				}
				return match
			})
		} else {
			result = p.regex.ReplaceAllString(result, p.replacement)
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// luhnValid checks if a numeric string passes the Luhn algorithm.
func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

func luhnValidateMatch(match string) bool {
	return luhnValid(match)
}
