package matrix

import (
	"varmatrix/internal/model"
)

// Change actions used in previews.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
)

// ComputeChangeSet diffs desired cell state against the variations snapshot.
//
//   - desired, no matching variation  → create {first: slug, second: slug}
//   - not desired, matching variation → delete variation id
//
// Cells whose desired state equals existence produce nothing. Output order
// follows grid order. Calling it repeatedly on the same grid is idempotent.
func ComputeChangeSet(g *Grid, variations []model.Variation) model.ChangeSet {
	cs := model.ChangeSet{
		Create: []model.VariationDraft{},
		Delete: []int64{},
	}
	if g.Empty() {
		return cs
	}

	for _, cell := range g.Cells {
		existing := FindVariation(variations, g.First, cell.FirstSlug, g.Second, cell.SecondSlug)

		switch {
		case cell.Desired && existing == nil:
			cs.Create = append(cs.Create, model.VariationDraft{
				Attributes: map[string]string{
					g.First:  cell.FirstSlug,
					g.Second: cell.SecondSlug,
				},
			})
		case !cell.Desired && existing != nil:
			cs.Delete = append(cs.Delete, existing.ID)
		}
	}
	return cs
}

// Change is one line of the live change preview.
type Change struct {
	Action      string  `json:"action"`
	Key         CellKey `json:"key"`
	Label       string  `json:"label"`
	VariationID int64   `json:"variation_id,omitempty"`
}

// Preview lists pending changes with display labels such as
// "Color Red / Size S", in grid order.
func Preview(g *Grid, variations []model.Variation, first, second model.Attribute) []Change {
	changes := []Change{}
	if g.Empty() {
		return changes
	}

	for _, cell := range g.Cells {
		existing := FindVariation(variations, g.First, cell.FirstSlug, g.Second, cell.SecondSlug)
		exists := existing != nil
		if exists == cell.Desired {
			continue
		}

		label := first.Label + " " + first.TermBySlug(cell.FirstSlug).Name +
			" / " + second.Label + " " + second.TermBySlug(cell.SecondSlug).Name

		change := Change{Key: cell.Key, Label: label, Action: ActionCreate}
		if exists {
			change.Action = ActionDelete
			change.VariationID = existing.ID
		}
		changes = append(changes, change)
	}
	return changes
}
