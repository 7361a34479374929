package permission

import "sort"

// Set is an immutable set of permission codes. The zero value is empty.
type Set struct {
	all   bool
	codes map[string]struct{}
}

// NewSet returns a set holding codes. A [Wildcard] code makes it the wildcard set.
func NewSet(codes ...string) Set {
	s := Set{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		if c == Wildcard {
			return All()
		}
		s.codes[c] = struct{}{}
	}
	return s
}

// All returns the wildcard set.
func All() Set {
	return Set{all: true}
}

// Compute applies an override to a role's grants. Removal wins over addition.
func Compute(roleCodes []string, ov Override) Set {
	s := Set{codes: make(map[string]struct{}, len(roleCodes)+len(ov.Add))}
	for _, c := range roleCodes {
		s.codes[c] = struct{}{}
	}
	for _, c := range ov.Add {
		s.codes[c] = struct{}{}
	}
	for _, c := range ov.Remove {
		delete(s.codes, c)
	}
	return s
}

// IsAll reports whether s is the wildcard set.
func (s Set) IsAll() bool {
	return s.all
}

// Has reports whether s grants code.
func (s Set) Has(code string) bool {
	if s.all {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// HasAll reports whether s grants every one of codes.
func (s Set) HasAll(codes ...string) bool {
	for _, c := range codes {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Len returns the number of explicit codes; -1 for the wildcard set.
func (s Set) Len() int {
	if s.all {
		return -1
	}
	return len(s.codes)
}

// Codes returns the sorted codes, or just [Wildcard] for the wildcard set.
func (s Set) Codes() []string {
	if s.all {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
