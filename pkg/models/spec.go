package models

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultSpecName names a spec created without one.
const DefaultSpecName = "Untitled"

// Spec declares which fields form the composite symbol (VONs) and which
// fields are fixed-value filters (conditionals). It carries no query knowledge.
// A name may appear in both sets; callers own that choice.
type Spec struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	VONs         []string `yaml:"vons" json:"vons"`
	Conditionals []string `yaml:"conditionals" json:"conditionals"`
}

// NewSpec creates an empty spec with a fresh identifier.
func NewSpec(name string) *Spec {
	if name == "" {
		name = DefaultSpecName
	}
	return &Spec{
		ID:   uuid.NewString(),
		Name: name,
	}
}

// ParseSpec decodes a YAML spec document. Duplicate names within a set are collapsed.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	s.Normalize()
	return &s, nil
}

// Normalize fills a missing ID and name and sorts and deduplicates both name sets.
func (s *Spec) Normalize() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Name == "" {
		s.Name = DefaultSpecName
	}
	s.VONs = uniqueSorted(s.VONs)
	s.Conditionals = uniqueSorted(s.Conditionals)
}

// AddVON adds name to the VON set. Returns false if it was already present.
func (s *Spec) AddVON(name string) bool {
	return addName(&s.VONs, name)
}

// RemoveVON removes name from the VON set. Returns false if it was absent.
func (s *Spec) RemoveVON(name string) bool {
	return removeName(&s.VONs, name)
}

// HasVON reports whether name is a VON.
func (s *Spec) HasVON(name string) bool {
	return containsName(s.VONs, name)
}

// AddConditional adds name to the conditional set. Returns false if it was already present.
func (s *Spec) AddConditional(name string) bool {
	return addName(&s.Conditionals, name)
}

// RemoveConditional removes name from the conditional set. Returns false if it was absent.
func (s *Spec) RemoveConditional(name string) bool {
	return removeName(&s.Conditionals, name)
}

// HasConditional reports whether name is a conditional.
func (s *Spec) HasConditional(name string) bool {
	return containsName(s.Conditionals, name)
}

// Clone returns a deep copy.
func (s *Spec) Clone() *Spec {
	c := *s
	c.VONs = append([]string(nil), s.VONs...)
	c.Conditionals = append([]string(nil), s.Conditionals...)
	return &c
}

// Names sets are kept sorted so iteration order, and therefore generated SQL, is stable.
func addName(set *[]string, name string) bool {
	i := sort.SearchStrings(*set, name)
	if i < len(*set) && (*set)[i] == name {
		return false
	}
	*set = append(*set, "")
	copy((*set)[i+1:], (*set)[i:])
	(*set)[i] = name
	return true
}

func removeName(set *[]string, name string) bool {
	i := sort.SearchStrings(*set, name)
	if i >= len(*set) || (*set)[i] != name {
		return false
	}
	*set = append((*set)[:i], (*set)[i+1:]...)
	return true
}

func containsName(set []string, name string) bool {
	i := sort.SearchStrings(set, name)
	return i < len(set) && set[i] == name
}

func uniqueSorted(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		addName(&out, n)
	}
	return out
}
