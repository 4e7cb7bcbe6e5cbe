// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Package redact strips credential-like material from error messages and
// log lines before they cross a component boundary. The pass runs
// unconditionally; there is no opt-out at the call site.
package redact

import "regexp"

// Marker replaces redacted credential material.
const Marker = "[REDACTED]"

// PathMarker replaces redacted home-directory paths.
const PathMarker = "[HOME]"

type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Default rules. Order matters: the authorization-header rule must run
// before the assignment rule so the scheme token is consumed whole.
var defaultRules = []struct {
	name        string
	pattern     string
	replacement string
}{
	{"authorization-header", `(?i)\bauthorization\s*[:=]\s*(?:bearer|basic|token)?\s*[^\s,;'"]+`, "authorization: " + Marker},
	{"credential-assignment", `(?i)\b(api[_-]?key|access[_-]?key|private[_-]?key|secret|token|password|passwd|pwd|credentials?)\b\s*[:=]\s*("[^"]*"|'[^']*'|[^\s,;]+)`, "$1=" + Marker},
	{"home-path-unix", `(?:/home|/Users)/[A-Za-z0-9._-]+`, PathMarker},
	{"home-path-windows", `(?i)[A-Z]:\\Users\\[A-Za-z0-9._-]+`, PathMarker},
}

// Sanitizer applies an ordered set of redaction rules to strings.
type Sanitizer struct {
	rules []rule
}

// Option configures the sanitizer.
type Option func(*Sanitizer)

// WithRule appends a custom redaction rule. Patterns that do not compile
// are ignored.
func WithRule(name, pattern, replacement string) Option {
	return func(s *Sanitizer) {
		if re, err := regexp.Compile(pattern); err == nil {
			s.rules = append(s.rules, rule{name: name, pattern: re, replacement: replacement})
		}
	}
}

// New creates a sanitizer with the default credential and path rules.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{rules: make([]rule, 0, len(defaultRules))}
	for _, r := range defaultRules {
		s.rules = append(s.rules, rule{
			name:        r.name,
			pattern:     regexp.MustCompile(r.pattern),
			replacement: r.replacement,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply returns msg with every rule match replaced by its marker.
func (s *Sanitizer) Apply(msg string) string {
	if msg == "" {
		return msg
	}
	for _, r := range s.rules {
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}

// ApplyError sanitizes err's message. Returns "" for a nil error.
func (s *Sanitizer) ApplyError(err error) string {
	if err == nil {
		return ""
	}
	return s.Apply(err.Error())
}
