package dispatch

import (
	"fmt"
	"strings"

	"busline.dev/dbus/wire"
)

type segmentKind int

const (
	segExact segmentKind = iota
	segWildcard
	segCapture
)

type patternSegment struct {
	kind segmentKind
	text string // exact text, or capture name
}

// PathPattern matches D-Bus object paths against a small pattern
// language: literal segments, a '*' wildcard (a single segment, or
// every trailing segment if it is the pattern's last one), and a
// ':name' capture (a single segment, bound to name in the captures
// map delivered to the handler).
type PathPattern struct {
	segments []patternSegment
	raw      string
}

// ParsePattern parses a '/'-separated pattern string.
func ParsePattern(pattern string) (PathPattern, error) {
	if pattern == "" || pattern[0] != '/' {
		return PathPattern{}, fmt.Errorf("dispatch: pattern %q must start with '/'", pattern)
	}
	var segs []patternSegment
	if pattern != "/" {
		for _, part := range strings.Split(pattern[1:], "/") {
			switch {
			case part == "":
				return PathPattern{}, fmt.Errorf("dispatch: pattern %q has an empty segment", pattern)
			case part == "*":
				segs = append(segs, patternSegment{kind: segWildcard})
			case strings.HasPrefix(part, ":"):
				name := part[1:]
				if name == "" {
					return PathPattern{}, fmt.Errorf("dispatch: pattern %q has an empty capture name", pattern)
				}
				segs = append(segs, patternSegment{kind: segCapture, text: name})
			default:
				segs = append(segs, patternSegment{kind: segExact, text: part})
			}
		}
	}
	return PathPattern{segments: segs, raw: pattern}, nil
}

// String returns the pattern's original textual form.
func (p PathPattern) String() string { return p.raw }

// Match tests path against p. On success it returns the capture
// bindings produced along the way (empty, never nil, if the pattern
// has no ':name' segments).
func (p PathPattern) Match(path wire.ObjectPath) (captures map[string]string, ok bool) {
	var parts []string
	if s := string(path); s != "/" {
		parts = strings.Split(strings.TrimPrefix(s, "/"), "/")
	}

	captures = map[string]string{}
	for i, seg := range p.segments {
		last := i == len(p.segments)-1
		if seg.kind == segWildcard && last {
			return captures, i < len(parts)
		}
		if i >= len(parts) {
			return nil, false
		}
		switch seg.kind {
		case segExact:
			if parts[i] != seg.text {
				return nil, false
			}
		case segCapture:
			captures[seg.text] = parts[i]
		case segWildcard:
			// matches any single segment, nothing to record
		}
	}
	if len(p.segments) != len(parts) {
		return nil, false
	}
	return captures, true
}
