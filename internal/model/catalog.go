// Package model defines the host-neutral types exchanged between the matrix
// engine, the overlap aggregator, the session shell and the host adapter.
package model

// Attribute is a product characteristic usable as a variation axis.
// Name is the stable key (e.g. "pa_color" or a sanitized custom name);
// Label is what the admin sees.
type Attribute struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Terms      []Term `json:"terms"`
	IsTaxonomy bool   `json:"is_taxonomy"`
}

// Term is one concrete value of an attribute.
type Term struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// TermBySlug returns the term with the given slug.
// Unknown slugs fall back to a term named after the slug.
func (a Attribute) TermBySlug(slug string) Term {
	for _, t := range a.Terms {
		if t.Slug == slug {
			return t
		}
	}
	return Term{Slug: slug, Name: slug}
}

// HasTerm reports whether slug belongs to the attribute.
func (a Attribute) HasTerm(slug string) bool {
	for _, t := range a.Terms {
		if t.Slug == slug {
			return true
		}
	}
	return false
}

// FindAttribute looks up an attribute by name.
func FindAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttributeNames returns attribute names in catalog order.
func AttributeNames(attrs []Attribute) []string {
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	return names
}

// Variation is an existing persisted combination.
// Attributes maps attribute name to term slug and may cover more
// dimensions than the two being edited.
type Variation struct {
	ID         int64             `json:"id"`
	Attributes map[string]string `json:"attributes"`
	Status     string            `json:"status"`
}

// ProductData is the snapshot the matrix dialog works on.
type ProductData struct {
	ProductID  int64       `json:"product_id"`
	Name       string      `json:"name,omitempty"`
	Attributes []Attribute `json:"attributes"`
	Variations []Variation `json:"variations"`
}

// VariationDraft describes a variation to be created.
type VariationDraft struct {
	Attributes map[string]string `json:"attributes"`
}

// ChangeSet is the create/delete diff between desired and existing variations.
// Never persisted directly.
type ChangeSet struct {
	Create []VariationDraft `json:"create"`
	Delete []int64          `json:"delete"`
}

// IsEmpty returns true if no variation changes are needed.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Create) == 0 && len(c.Delete) == 0
}

// Persistence operations reported in PersistFailure.
const (
	OperationCreate = "create"
	OperationDelete = "delete"
	OperationSync   = "sync" // parent re-save after the records were written
)

// PersistFailure records one create or delete the host rejected.
type PersistFailure struct {
	Operation   string            `json:"operation"`
	VariationID int64             `json:"variation_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Message     string            `json:"message"`
}

// SubmitResult is the outcome of persisting a change set.
// Creates and deletes are independent; failures are reported, not rolled back.
type SubmitResult struct {
	Created  []int64          `json:"created"`
	Deleted  []int64          `json:"deleted"`
	Failures []PersistFailure `json:"failures,omitempty"`
}

// Partial returns true if at least one record failed while others may have
// succeeded.
func (r SubmitResult) Partial() bool {
	return len(r.Failures) > 0
}
