package matrix

import (
	"errors"
	"fmt"
)

// Role names one of the two grid axes.
type Role string

const (
	// RoleFirst is the column axis.
	RoleFirst Role = "first"
	// RoleSecond is the row axis.
	RoleSecond Role = "second"
)

var (
	// ErrAttributesMustDiffer is returned when both axes would use the same
	// attribute. The returned selection has the other axis cleared.
	ErrAttributesMustDiffer = errors.New("select two different attributes")

	// ErrIncompleteSelection is returned by Validate when an axis or its
	// terms are missing.
	ErrIncompleteSelection = errors.New("select options for both attributes")
)

// Selection is the transient choice of two attributes and their term subsets.
// Term slices keep the order in which terms were checked.
type Selection struct {
	First       string   `json:"first,omitempty"`
	Second      string   `json:"second,omitempty"`
	FirstTerms  []string `json:"first_terms"`
	SecondTerms []string `json:"second_terms"`
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleFirst, RoleSecond:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown axis %q", s)
	}
}

// WithAttribute assigns name to the given axis (empty name clears it) and
// resets that axis' terms.
//
// If the other axis already holds the same attribute, the other axis and its
// terms are cleared and ErrAttributesMustDiffer is returned together with the
// corrected selection, which callers should keep.
func (s Selection) WithAttribute(role Role, name string) (Selection, error) {
	next := s.clone()
	var err error

	switch role {
	case RoleFirst:
		next.First = name
		if name != "" && next.Second == name {
			next.Second = ""
			next.SecondTerms = []string{}
			err = ErrAttributesMustDiffer
		}
		next.FirstTerms = []string{}
	case RoleSecond:
		next.Second = name
		if name != "" && next.First == name {
			next.First = ""
			next.FirstTerms = []string{}
			err = ErrAttributesMustDiffer
		}
		next.SecondTerms = []string{}
	default:
		return s, fmt.Errorf("unknown axis %q", role)
	}

	return next, err
}

// WithTerm checks or unchecks slug on the given axis.
// Checking appends; checking an already present slug is a no-op.
func (s Selection) WithTerm(role Role, slug string, checked bool) (Selection, error) {
	next := s.clone()

	var terms *[]string
	switch role {
	case RoleFirst:
		terms = &next.FirstTerms
	case RoleSecond:
		terms = &next.SecondTerms
	default:
		return s, fmt.Errorf("unknown axis %q", role)
	}

	idx := indexOf(*terms, slug)
	switch {
	case checked && idx == -1:
		*terms = append(*terms, slug)
	case !checked && idx != -1:
		*terms = append((*terms)[:idx], (*terms)[idx+1:]...)
	}
	return next, nil
}

// Attribute returns the attribute assigned to role.
func (s Selection) Attribute(role Role) string {
	if role == RoleFirst {
		return s.First
	}
	return s.Second
}

// Terms returns the terms checked on role.
func (s Selection) Terms(role Role) []string {
	if role == RoleFirst {
		return s.FirstTerms
	}
	return s.SecondTerms
}

// Complete reports whether both axes have an attribute.
func (s Selection) Complete() bool {
	return s.First != "" && s.Second != ""
}

// Validate checks that both axes and at least one term per axis are selected.
func (s Selection) Validate() error {
	if !s.Complete() || len(s.FirstTerms) == 0 || len(s.SecondTerms) == 0 {
		return ErrIncompleteSelection
	}
	if s.First == s.Second {
		return ErrAttributesMustDiffer
	}
	return nil
}

func (s Selection) clone() Selection {
	return Selection{
		First:       s.First,
		Second:      s.Second,
		FirstTerms:  append([]string{}, s.FirstTerms...),
		SecondTerms: append([]string{}, s.SecondTerms...),
	}
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
