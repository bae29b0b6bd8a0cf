package localdb

import (
	"fmt"
	"strings"
)

// Access operations checked by Rules.
const (
	AccessGet    = "get"
	AccessList   = "list"
	AccessCreate = "create"
	AccessUpdate = "update"
	AccessDelete = "delete"

	// AccessRead grants get and list.
	AccessRead = "read"
	// AccessWrite grants create, update and delete.
	AccessWrite = "write"
)

var grants = map[string][]string{
	AccessGet:    {AccessGet},
	AccessList:   {AccessList},
	AccessCreate: {AccessCreate},
	AccessUpdate: {AccessUpdate},
	AccessDelete: {AccessDelete},
	AccessRead:   {AccessGet, AccessList},
	AccessWrite:  {AccessCreate, AccessUpdate, AccessDelete},
}

// Rule grants operations on documents matching a path pattern.
//
// Pattern segments are literal names, "*" or "{name}" for exactly one
// segment, and "**" or "{name=**}" (last segment only) for any number of
// remaining segments. A list request on collection C is checked as a
// request on a document C/{id}.
type Rule struct {
	Match string   `yaml:"match" json:"match"`
	Allow []string `yaml:"allow" json:"allow"`
}

type compiledRule struct {
	segments []string
	rest     bool
	allow    map[string]bool
}

// Rules is an immutable access rule set.
type Rules struct {
	all   bool
	rules []compiledRule
}

// AllowAll permits every request.
func AllowAll() *Rules {
	return &Rules{all: true}
}

// NewRules compiles rules. An empty slice denies everything.
func NewRules(rules []Rule) (*Rules, error) {
	out := &Rules{}
	var problems []string

	for i, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d]: %v", i, err))
			continue
		}
		out.rules = append(out.rules, cr)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid rules: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

func compileRule(r Rule) (compiledRule, error) {
	match := strings.Trim(r.Match, "/")
	if match == "" {
		return compiledRule{}, fmt.Errorf("match is required")
	}

	cr := compiledRule{allow: make(map[string]bool)}
	segs := strings.Split(match, "/")
	for i, s := range segs {
		if isRest(s) {
			if i != len(segs)-1 {
				return compiledRule{}, fmt.Errorf("match %q: %q must be the last segment", r.Match, s)
			}
			cr.rest = true
			break
		}
		if s == "" {
			return compiledRule{}, fmt.Errorf("match %q: empty segment", r.Match)
		}
		cr.segments = append(cr.segments, s)
	}

	if len(r.Allow) == 0 {
		return compiledRule{}, fmt.Errorf("match %q: allow is empty", r.Match)
	}
	for _, op := range r.Allow {
		ops, ok := grants[strings.ToLower(op)]
		if !ok {
			return compiledRule{}, fmt.Errorf("match %q: unknown operation %q", r.Match, op)
		}
		for _, o := range ops {
			cr.allow[o] = true
		}
	}
	return cr, nil
}

func isRest(s string) bool {
	return s == "**" || (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "=**}"))
}

func isWildcard(s string) bool {
	return s == "*" || (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"))
}

// anyID stands for the document ID of a list request; only wildcards
// match it.
const anyID = "\x00"

// Allows reports whether op on path is permitted. For AccessList, path is
// the collection path.
func (r *Rules) Allows(op, path string) bool {
	if r == nil || r.all {
		return true
	}

	segs := strings.Split(strings.Trim(path, "/"), "/")
	if op == AccessList {
		segs = append(segs, anyID)
	}

	for _, rule := range r.rules {
		if rule.allow[op] && rule.matches(segs) {
			return true
		}
	}
	return false
}

func (cr compiledRule) matches(segs []string) bool {
	if len(segs) < len(cr.segments) {
		return false
	}
	if !cr.rest && len(segs) != len(cr.segments) {
		return false
	}
	for i, want := range cr.segments {
		if isWildcard(want) {
			continue
		}
		if segs[i] != want {
			return false
		}
	}
	return true
}
