package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// VarName is a variable name split into the region-tag template
// <prefix><sep><region><tail>.
type VarName struct {
	Prefix string
	Sep    string
	Region string
	Tail   string
}

// Key returns the group key shared by the same quantity in other regions.
func (n VarName) Key() GroupKey {
	return GroupKey{Prefix: n.Prefix, Sep: n.Sep, Tail: n.Tail}
}

// RegionMatcher recognizes per-region variable names.
//
// The prefix is matched non-greedily, the separator is an optional single
// underscore immediately before the region code, region codes are tried in
// the order given, and the tail must be non-empty. Go's regexp picks the
// same submatch a backtracking engine would, so the earliest split wins and
// ties between overlapping codes go to the one listed first.
type RegionMatcher struct {
	regions []string
	re      *regexp.Regexp
}

// NewRegionMatcher compiles a matcher for the ordered region codes.
// Duplicate codes are dropped, keeping the first occurrence.
func NewRegionMatcher(regions []string) (*RegionMatcher, error) {
	regions = uniqueRegions(regions)
	if len(regions) == 0 {
		return nil, ErrNoRegions
	}
	alts := make([]string, len(regions))
	for i, r := range regions {
		alts[i] = regexp.QuoteMeta(r)
	}
	re, err := regexp.Compile(`^(?P<prefix>.*?)(?P<sep>_)?(?P<region>` + strings.Join(alts, "|") + `)(?P<tail>.+)$`)
	if err != nil {
		return nil, fmt.Errorf("compile region pattern: %w", err)
	}
	return &RegionMatcher{regions: regions, re: re}, nil
}

// Regions returns the canonical region order.
func (m *RegionMatcher) Regions() []string {
	return slices.Clone(m.regions)
}

// Match splits name into its template parts. It reports false for names
// that carry no region code or would leave an empty tail.
func (m *RegionMatcher) Match(name string) (VarName, bool) {
	sub := m.re.FindStringSubmatch(name)
	if sub == nil {
		return VarName{}, false
	}
	return VarName{Prefix: sub[1], Sep: sub[2], Region: sub[3], Tail: sub[4]}, true
}

func uniqueRegions(regions []string) []string {
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// GroupKey identifies one quantity across regions.
type GroupKey struct {
	Prefix string
	Sep    string
	Tail   string
}

// VarName builds the variable name this quantity has in region.
func (k GroupKey) VarName(region string) string {
	return k.Prefix + k.Sep + region + k.Tail
}

// String renders the key as a tuple literal, e.g. ('PRECRC', '_', '18OI').
func (k GroupKey) String() string {
	return "(" + quoteRepr(k.Prefix) + ", " + quoteRepr(k.Sep) + ", " + quoteRepr(k.Tail) + ")"
}

// Group holds the per-region variables of one quantity.
type Group struct {
	Key     GroupKey
	Members map[string]*Variable
}

// Present returns the member regions in canonical order.
func (g *Group) Present(regions []string) []string {
	present := make([]string, 0, len(g.Members))
	for _, r := range regions {
		if _, ok := g.Members[r]; ok && !slices.Contains(present, r) {
			present = append(present, r)
		}
	}
	return present
}

// DiscoverGroups matches every variable of ds against the region template.
// Groups are returned in order of first appearance. matched holds the names
// of all region variables. A second variable for the same region and key
// replaces the first.
func DiscoverGroups(ds *Dataset, regions []string) (groups []*Group, matched map[string]struct{}, err error) {
	m, err := NewRegionMatcher(regions)
	if err != nil {
		return nil, nil, err
	}
	groups, matched = m.group(ds)
	return groups, matched, nil
}

func (m *RegionMatcher) group(ds *Dataset) ([]*Group, map[string]struct{}) {
	var groups []*Group
	byKey := make(map[GroupKey]*Group)
	matched := make(map[string]struct{})

	for _, v := range ds.Vars() {
		n, ok := m.Match(v.Name)
		if !ok {
			continue
		}
		key := n.Key()
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Members: make(map[string]*Variable)}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Members[n.Region] = v
		matched[v.Name] = struct{}{}
	}
	return groups, matched
}

// quoteRepr quotes s the way the diagnostic summary has always been written:
// single quotes unless s itself contains one.
func quoteRepr(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = `"`
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	if q == "'" {
		s = strings.ReplaceAll(s, "'", `\'`)
	}
	return q + s + q
}
