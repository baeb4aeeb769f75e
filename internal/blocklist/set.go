package blocklist

import "sort"

// DenySet is a deduplicated set of normalized domain tokens. Membership is
// exact token equality: "*.a.com" and "sub.a.com" are distinct entries.
type DenySet struct {
	m map[string]struct{}
}

// NewDenySet returns a set holding the given tokens.
func NewDenySet(tokens ...string) *DenySet {
	s := &DenySet{m: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		s.Add(t)
	}
	return s
}

// Add inserts a token and reports whether it was new.
func (s *DenySet) Add(token string) bool {
	if _, ok := s.m[token]; ok {
		return false
	}
	s.m[token] = struct{}{}
	return true
}

// Has reports whether token is in the set.
func (s *DenySet) Has(token string) bool {
	if s == nil {
		return false
	}
	_, ok := s.m[token]
	return ok
}

// Len returns the number of tokens.
func (s *DenySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}

// Sorted returns the tokens in ascending order. The result is a fresh slice
// and gives chunking a stable order.
func (s *DenySet) Sorted() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.m))
	for t := range s.m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Union adds every token of other and returns s.
func (s *DenySet) Union(other *DenySet) *DenySet {
	if other == nil {
		return s
	}
	for t := range other.m {
		s.m[t] = struct{}{}
	}
	return s
}

// Clone returns an independent copy.
func (s *DenySet) Clone() *DenySet {
	c := &DenySet{m: make(map[string]struct{}, s.Len())}
	return c.Union(s)
}

// Equal reports whether both sets hold the same tokens.
func (s *DenySet) Equal(other *DenySet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	for t := range s.m {
		if !other.Has(t) {
			return false
		}
	}
	return true
}
