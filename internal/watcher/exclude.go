package watcher

import (
	"path"
	"regexp"
	"strings"
)

// Matcher classifies relative paths against a compiled exclude list.
// Patterns fall into three classes:
//   - no wildcard, no separator: matches by basename equality or by
//     containment as a path segment (".git", "node_modules");
//   - no wildcard, with separator: matches the exact relative path or any
//     path under it ("build/cache");
//   - wildcard: compiled to an anchored regular expression and matched
//     against the basename (patternless of separators) or the full
//     slash-normalized relative path ("*.log", "logs/*.txt").
type Matcher struct {
	rules []excludeRule
}

type excludeRule struct {
	pattern string
	re      *regexp.Regexp // wildcard patterns only
	hasSep  bool
}

// NewMatcher compiles the given exclude patterns.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{rules: make([]excludeRule, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rule := excludeRule{
			pattern: p,
			hasSep:  strings.Contains(p, "/"),
		}
		if strings.Contains(p, "*") {
			rule.re = compileWildcard(p)
		}
		m.rules = append(m.rules, rule)
	}
	return m
}

// Excluded reports whether the slash-normalized relative path matches any
// exclude pattern.
func (m *Matcher) Excluded(relPath string) bool {
	relPath = strings.TrimPrefix(path.Clean(strings.ReplaceAll(relPath, "\\", "/")), "./")
	base := path.Base(relPath)

	for _, rule := range m.rules {
		switch {
		case rule.re != nil:
			// Wildcard: basename for bare patterns, full path otherwise
			subject := base
			if rule.hasSep {
				subject = relPath
			}
			if rule.re.MatchString(subject) {
				return true
			}

		case rule.hasSep:
			// Literal path: exact match or directory prefix
			if relPath == rule.pattern || strings.HasPrefix(relPath, rule.pattern+"/") {
				return true
			}

		default:
			// Literal name: basename or any path segment
			if base == rule.pattern || hasSegment(relPath, rule.pattern) {
				return true
			}
		}
	}
	return false
}

// hasSegment reports whether segment appears as a complete path component.
func hasSegment(relPath, segment string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// compileWildcard turns a glob-style pattern into an anchored regexp,
// escaping every metacharacter except *.
func compileWildcard(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
