package backup

import (
	"fmt"
	"regexp"
	"strings"
)

// GroupFilter selects a subset of backup groups, used to scope sync and
// prune jobs. Three kinds exist: an exact group match, a type-only match,
// and a regular expression over the group's display string.
type GroupFilter struct {
	kind  filterKind
	group Group
	ty    Type
	re    *regexp.Regexp
	// raw keeps the original text for String().
	raw string
}

type filterKind uint8

const (
	filterGroup filterKind = iota
	filterType
	filterRegex
)

// GroupFilterOf matches exactly one group.
func GroupFilterOf(g Group) GroupFilter {
	return GroupFilter{kind: filterGroup, group: g, raw: "group:" + g.String()}
}

// TypeFilterOf matches every group of one backup type.
func TypeFilterOf(t Type) GroupFilter {
	return GroupFilter{kind: filterType, ty: t, raw: "type:" + t.String()}
}

// RegexFilterOf matches groups whose display string matches the pattern.
func RegexFilterOf(pattern string) (GroupFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return GroupFilter{}, fmt.Errorf("invalid group filter regex %q: %w", pattern, err)
	}
	return GroupFilter{kind: filterRegex, re: re, raw: "regex:" + pattern}, nil
}

// ParseGroupFilter parses the "<kind>:<value>" form used in job
// configuration: "group:vm/100", "type:ct" or "regex:.*".
func ParseGroupFilter(s string) (GroupFilter, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return GroupFilter{}, fmt.Errorf("%w: group filter %q", ErrMalformed, s)
	}
	switch kind {
	case "group":
		g, err := ParseGroup(value)
		if err != nil {
			return GroupFilter{}, err
		}
		return GroupFilterOf(g), nil
	case "type":
		t, err := ParseType(value)
		if err != nil {
			return GroupFilter{}, err
		}
		return TypeFilterOf(t), nil
	case "regex":
		return RegexFilterOf(value)
	default:
		return GroupFilter{}, fmt.Errorf("%w: unknown group filter kind %q", ErrMalformed, kind)
	}
}

// String returns the parseable "<kind>:<value>" form.
func (f GroupFilter) String() string {
	return f.raw
}

// Matches reports whether the group is selected by the filter.
func (g Group) Matches(f GroupFilter) bool {
	switch f.kind {
	case filterGroup:
		return g == f.group
	case filterType:
		return g.Type == f.ty
	case filterRegex:
		return f.re.MatchString(g.String())
	default:
		return false
	}
}
