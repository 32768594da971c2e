// Package filter evaluates include/exclude queries over owner snapshots and orders the result.
package filter

import (
	"strings"
	"unicode"
)

// FieldSet selects which owner and peer fields a term list is matched against.
type FieldSet struct {
	Name    bool `yaml:"name" json:"name"`
	ID      bool `yaml:"id" json:"id"`
	Address bool `yaml:"address" json:"address"`
	Port    bool `yaml:"port" json:"port"`
}

// Any reports whether at least one field is enabled.
func (f FieldSet) Any() bool {
	return f.Name || f.ID || f.Address || f.Port
}

func (f FieldSet) peerLevel() bool {
	return f.Address || f.Port
}

// Query is the active filter. Terms are matched lower-cased.
type Query struct {
	Include       []string `json:"include"`
	Exclude       []string `json:"exclude"`
	IncludeFields FieldSet `json:"include_fields"`
	ExcludeFields FieldSet `json:"exclude_fields"`
	ResolveHosts  bool     `json:"resolve_hosts"`
	ResolvePorts  bool     `json:"resolve_ports"`
}

// IsEmpty reports whether the query has neither include nor exclude terms.
func (q Query) IsEmpty() bool {
	return len(q.Include) == 0 && len(q.Exclude) == 0
}

// normalized returns a copy with lower-cased, non-empty terms.
func (q Query) normalized() Query {
	q.Include = normalizeTerms(q.Include)
	q.Exclude = normalizeTerms(q.Exclude)
	return q
}

func normalizeTerms(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseTerms splits a raw filter string on commas and whitespace into lower-cased terms.
func ParseTerms(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return normalizeTerms(fields)
}
