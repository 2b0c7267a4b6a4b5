package matrix

import (
	"errors"

	"varmatrix/internal/model"
)

// ErrUnknownCell is returned when toggling a key that is not in the grid.
var ErrUnknownCell = errors.New("cell not in grid")

// Cell is one (secondTerm, firstTerm) intersection of the grid.
// Exists reflects the variations snapshot the grid was built from;
// Desired starts equal to Exists and is then driven by user toggles.
type Cell struct {
	Key         CellKey `json:"key"`
	FirstSlug   string  `json:"first_slug"`
	SecondSlug  string  `json:"second_slug"`
	VariationID int64   `json:"variation_id,omitempty"`
	Exists      bool    `json:"exists"`
	Desired     bool    `json:"desired"`
}

// Grid is the checkbox matrix for two attributes.
// Rows are SecondTerms, columns are FirstTerms; Cells is row-major
// (second outer, first inner), which is also the change set order.
type Grid struct {
	First       string   `json:"first"`
	Second      string   `json:"second"`
	FirstTerms  []string `json:"first_terms"`
	SecondTerms []string `json:"second_terms"`
	Cells       []Cell   `json:"cells"`
}

// BuildGrid computes a fresh grid with every cell's desired state seeded
// from variation existence. An axis without attribute or terms yields an
// empty grid.
func BuildGrid(first, second string, firstTerms, secondTerms []string, variations []model.Variation) *Grid {
	g := &Grid{
		First:       first,
		Second:      second,
		FirstTerms:  append([]string{}, firstTerms...),
		SecondTerms: append([]string{}, secondTerms...),
		Cells:       []Cell{},
	}
	if first == "" || second == "" || len(firstTerms) == 0 || len(secondTerms) == 0 {
		return g
	}

	g.Cells = make([]Cell, 0, len(firstTerms)*len(secondTerms))
	for _, secondSlug := range secondTerms {
		for _, firstSlug := range firstTerms {
			cell := Cell{
				Key:        NewCellKey(first, firstSlug, second, secondSlug),
				FirstSlug:  firstSlug,
				SecondSlug: secondSlug,
			}
			if v := FindVariation(variations, first, firstSlug, second, secondSlug); v != nil {
				cell.Exists = true
				cell.VariationID = v.ID
			}
			cell.Desired = cell.Exists
			g.Cells = append(g.Cells, cell)
		}
	}
	return g
}

// BuildFromSelection is BuildGrid over a Selection.
func BuildFromSelection(sel Selection, variations []model.Variation) *Grid {
	return BuildGrid(sel.First, sel.Second, sel.FirstTerms, sel.SecondTerms, variations)
}

// Carry merges user intent from prev into next: every cell of next whose key
// also exists in prev takes prev's desired state. Grids over different
// attribute pairs do not carry anything. The result is a new grid.
func Carry(prev, next *Grid) *Grid {
	out := next.clone()
	if prev == nil || prev.First != next.First || prev.Second != next.Second {
		return out
	}

	carried := make(map[CellKey]bool, len(prev.Cells))
	for _, c := range prev.Cells {
		carried[c.Key] = c.Desired
	}
	for i := range out.Cells {
		if desired, ok := carried[out.Cells[i].Key]; ok {
			out.Cells[i].Desired = desired
		}
	}
	return out
}

// Rebuild builds the grid for sel and carries user intent over from prev.
// Pass a nil prev when the attribute selection itself changed.
func Rebuild(prev *Grid, sel Selection, variations []model.Variation) *Grid {
	return Carry(prev, BuildFromSelection(sel, variations))
}

// Toggle sets the desired state of one cell and returns the updated copy.
// Other cells are not recomputed.
func Toggle(g *Grid, key CellKey, desired bool) (*Grid, error) {
	idx := g.indexOf(key)
	if idx == -1 {
		return g, ErrUnknownCell
	}
	out := g.clone()
	out.Cells[idx].Desired = desired
	return out, nil
}

// Cell returns the cell with the given key.
func (g *Grid) Cell(key CellKey) (Cell, bool) {
	idx := g.indexOf(key)
	if idx == -1 {
		return Cell{}, false
	}
	return g.Cells[idx], true
}

// Rows returns the cells grouped by row (one row per second term).
func (g *Grid) Rows() [][]Cell {
	if len(g.Cells) == 0 {
		return [][]Cell{}
	}
	width := len(g.FirstTerms)
	rows := make([][]Cell, 0, len(g.SecondTerms))
	for start := 0; start < len(g.Cells); start += width {
		rows = append(rows, g.Cells[start:start+width])
	}
	return rows
}

// Empty returns true if the grid has no cells.
func (g *Grid) Empty() bool {
	return g == nil || len(g.Cells) == 0
}

func (g *Grid) indexOf(key CellKey) int {
	if g == nil {
		return -1
	}
	for i, c := range g.Cells {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func (g *Grid) clone() *Grid {
	return &Grid{
		First:       g.First,
		Second:      g.Second,
		FirstTerms:  append([]string{}, g.FirstTerms...),
		SecondTerms: append([]string{}, g.SecondTerms...),
		Cells:       append([]Cell{}, g.Cells...),
	}
}

// FindVariation returns the first variation whose values for both axis
// attributes equal the given slugs. Other attribute dimensions are ignored.
func FindVariation(variations []model.Variation, firstAttr, firstSlug, secondAttr, secondSlug string) *model.Variation {
	for i := range variations {
		v := &variations[i]
		if v.Attributes == nil {
			continue
		}
		a, okA := v.Attributes[firstAttr]
		b, okB := v.Attributes[secondAttr]
		if okA && okB && a == firstSlug && b == secondSlug {
			return v
		}
	}
	return nil
}
