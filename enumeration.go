package aidefense

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// enumerationLookback caps how many of the most recent endpoints the matchers
// inspect on each call.
const enumerationLookback = 20

var (
	// Matches endpoints with a trailing integer path segment, e.g.
	// /api/user/17 -> base "/api/user", value 17.
	pathSequenceRe = regexp.MustCompile(`^(.+?)/(\d+)$`)
	// Matches the first integer-valued query parameter after the '?', e.g.
	// /api/search?id=42 -> name "id", value 42.
	paramSequenceRe = regexp.MustCompile(`\?(\w+)=(\d+)`)
)

// EnumerationDetector discovers systematic discovery patterns: sequential
// integer walks over either path tails or query parameter values.
type EnumerationDetector struct {
	minLength int
	tolerance int
}

// NewEnumerationDetector creates a detector requiring at least minLength
// observations of a sequence. tolerance is the number of irregular step sizes
// allowed alongside the dominant stride.
func NewEnumerationDetector(minLength, tolerance int) *EnumerationDetector {
	return &EnumerationDetector{minLength: minLength, tolerance: tolerance}
}

// Evaluate runs both matchers over the last few endpoints in the window. A
// qualifying path sequence always wins over a parameter sequence.
func (d *EnumerationDetector) Evaluate(w *RequestWindow) EnumerationResult {
	if w.Len() < d.minLength {
		return EnumerationResult{}
	}

	recent := w.Recent(enumerationLookback)
	endpoints := make([]string, len(recent))
	for i, r := range recent {
		endpoints[i] = r.Endpoint
	}

	if res := d.findPathSequence(endpoints); res.Detected {
		return res
	}
	return d.findParameterSequence(endpoints)
}

// findPathSequence groups endpoints by base path and tests each group's
// trailing integers for sequentiality. Groups are tried in first-seen order
// and the first qualifying one wins.
func (d *EnumerationDetector) findPathSequence(endpoints []string) EnumerationResult {
	groups := make(map[string][]int)
	var order []string
	for _, endpoint := range endpoints {
		m := pathSequenceRe.FindStringSubmatch(endpoint)
		if m == nil {
			continue
		}
		base := m[1]
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], n)
	}

	for _, base := range order {
		values := groups[base]
		if len(values) < d.minLength {
			continue
		}
		if d.isSequential(values) {
			return EnumerationResult{
				Detected:       true,
				Pattern:        fmt.Sprintf("%s/{n}", base),
				SequenceLength: len(values),
			}
		}
	}
	return EnumerationResult{}
}

// findParameterSequence groups integer query parameter values by parameter
// name and applies the same sequential test.
func (d *EnumerationDetector) findParameterSequence(endpoints []string) EnumerationResult {
	groups := make(map[string][]int)
	var order []string
	for _, endpoint := range endpoints {
		m := paramSequenceRe.FindStringSubmatch(endpoint)
		if m == nil {
			continue
		}
		name := m[1]
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], n)
	}

	for _, name := range order {
		values := groups[name]
		if len(values) < d.minLength {
			continue
		}
		if d.isSequential(values) {
			return EnumerationResult{
				Detected:       true,
				Pattern:        fmt.Sprintf("?%s={n}", name),
				SequenceLength: len(values),
			}
		}
	}
	return EnumerationResult{}
}

// isSequential tests whether the sorted set of unique values advances with at
// most tolerance+1 distinct step sizes. It deliberately ignores observation
// order, so reversed or interleaved walks still qualify.
func (d *EnumerationDetector) isSequential(values []int) bool {
	if len(values) < 2 {
		return false
	}

	seen := make(map[int]struct{}, len(values))
	unique := make([]int, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	if len(unique) < d.minLength {
		return false
	}
	sort.Ints(unique)

	diffs := make(map[int]struct{})
	for i := 1; i < len(unique); i++ {
		diffs[unique[i]-unique[i-1]] = struct{}{}
	}
	return len(diffs) <= d.tolerance+1
}
