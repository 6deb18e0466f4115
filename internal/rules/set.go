package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// RuleSet is a read-only mapping from rule id to Rule.
type RuleSet struct {
	byID  map[string]*Rule
	order []string
}

func (s *RuleSet) Get(id string) (*Rule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// All returns the rules sorted by id.
func (s *RuleSet) All() []*Rule {
	out := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *RuleSet) Len() int { return len(s.order) }

// Select narrows the set. A non-empty enable keeps only the listed ids;
// disable then removes ids. Ids are matched case-insensitively and an id
// that names no rule is an error.
func (s *RuleSet) Select(enable, disable []string) (*RuleSet, error) {
	lookup := make(map[string]string, len(s.order))
	for _, id := range s.order {
		lookup[strings.ToLower(id)] = id
	}
	resolve := func(list []string) (map[string]bool, error) {
		out := map[string]bool{}
		for _, raw := range list {
			for _, id := range strings.Split(raw, ",") {
				id = strings.TrimSpace(id)
				if id == "" {
					continue
				}
				canon, ok := lookup[strings.ToLower(id)]
				if !ok {
					return nil, fmt.Errorf("unknown rule id %q", id)
				}
				out[canon] = true
			}
		}
		return out, nil
	}
	en, err := resolve(enable)
	if err != nil {
		return nil, err
	}
	dis, err := resolve(disable)
	if err != nil {
		return nil, err
	}
	out := &RuleSet{byID: map[string]*Rule{}}
	for _, id := range s.order {
		if len(en) > 0 && !en[id] {
			continue
		}
		if dis[id] {
			continue
		}
		out.byID[id] = s.byID[id]
		out.order = append(out.order, id)
	}
	return out, nil
}

// Hash fingerprints the canonical form of every rule. It keys the result
// cache so edited rules invalidate cached findings.
func (s *RuleSet) Hash() uint64 {
	defs := make([]Definition, 0, len(s.order))
	for _, r := range s.All() {
		defs = append(defs, r.definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	b, err := yaml.Marshal(defs)
	if err != nil {
		// definitions hold only strings, slices and ints
		panic(fmt.Sprintf("rules: marshal definitions: %v", err))
	}
	return xxhash.Sum64(b)
}
