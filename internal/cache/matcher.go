package cache

import "strings"

// PathMatcher is a compiled route path pattern. Patterns are parameterized
// prefixes: "/users/:id" consumes the first two segments of the request path,
// capturing "id", and leaves the rest as the suffix forwarded upstream.
type PathMatcher struct {
	raw      string
	segments []patternSegment
}

type patternSegment struct {
	literal string
	param   string // non-empty for :name segments
}

// CompilePath compiles a path pattern. Compilation happens once per snapshot
// rebuild so Match stays allocation-light on the hot path.
func CompilePath(pattern string) *PathMatcher {
	m := &PathMatcher{raw: pattern}
	for _, seg := range strings.Split(strings.Trim(pattern, "/"), "/") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ":") {
			m.segments = append(m.segments, patternSegment{param: seg[1:]})
		} else {
			m.segments = append(m.segments, patternSegment{literal: seg})
		}
	}
	return m
}

// Pattern returns the original pattern string.
func (m *PathMatcher) Pattern() string {
	return m.raw
}

// Match tests path against the pattern as a prefix. On success it returns the
// captured params and the unconsumed suffix (empty when the pattern consumed
// the whole path). The root pattern "/" matches everything and leaves the
// path untouched as the suffix.
func (m *PathMatcher) Match(path string) (params map[string]string, suffix string, ok bool) {
	if len(m.segments) == 0 {
		return nil, path, true
	}

	rest := path
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	for _, seg := range m.segments {
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			return nil, "", false
		}
		var part string
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			part, rest = rest[:idx], rest[idx:]
		} else {
			part, rest = rest, ""
		}
		if seg.param != "" {
			if params == nil {
				params = make(map[string]string, len(m.segments))
			}
			params[seg.param] = part
			continue
		}
		if part != seg.literal {
			return nil, "", false
		}
	}

	return params, rest, true
}
