package session

import (
	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
)

// View is the render model of a session. Clients draw it as is and send
// user actions back; they never compute grid or diff state themselves.
type View struct {
	SessionID   string          `json:"session_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	State       State           `json:"state"`
	Attributes  []AttributeView `json:"attributes"`
	First       string          `json:"first,omitempty"`
	Second      string          `json:"second,omitempty"`
	TermGroups  []TermGroup     `json:"term_groups"`
	Table       *TableView      `json:"table,omitempty"`
	Changes     []matrix.Change `json:"changes"`
	Notice      *Notice         `json:"notice,omitempty"`
	Failure     *Failure        `json:"failure,omitempty"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
	CanSubmit   bool            `json:"can_submit"`
}

// AttributeView is one entry of the attribute dropdowns.
type AttributeView struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// TermGroup lists the terms of one axis with their checked state.
type TermGroup struct {
	Role      matrix.Role  `json:"role"`
	Attribute string       `json:"attribute"`
	Label     string       `json:"label"`
	Terms     []TermOption `json:"terms"`
}

// TermOption is one term checkbox.
type TermOption struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
}

// TableView is the grid with display labels. Columns are first-axis terms,
// rows second-axis terms.
type TableView struct {
	Columns []Header  `json:"columns"`
	Rows    []RowView `json:"rows"`
}

// Header labels a row or column.
type Header struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// RowView is one table row.
type RowView struct {
	Header Header     `json:"header"`
	Cells  []CellView `json:"cells"`
}

// CellView is one checkbox of the grid.
type CellView struct {
	Key     matrix.CellKey `json:"key"`
	Label   string         `json:"label"`
	Checked bool           `json:"checked"`
	Exists  bool           `json:"exists"`
	Changed bool           `json:"changed"`
}

// View renders the session.
func (s *Session) View() View {
	v := View{
		SessionID:   s.ID,
		ProductID:   s.ProductID,
		ProductName: s.ProductName,
		State:       s.State,
		Attributes:  make([]AttributeView, 0, len(s.Attributes)),
		First:       s.Selection.First,
		Second:      s.Selection.Second,
		TermGroups:  []TermGroup{},
		Changes:     []matrix.Change{},
		Notice:      s.Notice,
		Failure:     s.Failure,
		Outcome:     s.Outcome,
	}
	for _, a := range s.Attributes {
		v.Attributes = append(v.Attributes, AttributeView{Name: a.Name, Label: a.Label})
	}

	first, okFirst := model.FindAttribute(s.Attributes, s.Selection.First)
	second, okSecond := model.FindAttribute(s.Attributes, s.Selection.Second)
	if !okFirst || !okSecond {
		return v
	}

	v.TermGroups = append(v.TermGroups,
		termGroup(matrix.RoleFirst, first, s.Selection.FirstTerms),
		termGroup(matrix.RoleSecond, second, s.Selection.SecondTerms),
	)

	if s.Grid.Empty() {
		return v
	}
	v.Table = table(s.Grid, first, second)
	v.Changes = matrix.Preview(s.Grid, s.Variations, first, second)
	v.CanSubmit = (s.State == StateReady || s.State == StateEditing) && len(v.Changes) > 0
	return v
}

func termGroup(role matrix.Role, attr model.Attribute, checked []string) TermGroup {
	selected := make(map[string]bool, len(checked))
	for _, slug := range checked {
		selected[slug] = true
	}

	g := TermGroup{Role: role, Attribute: attr.Name, Label: attr.Label, Terms: make([]TermOption, 0, len(attr.Terms))}
	for _, t := range attr.Terms {
		g.Terms = append(g.Terms, TermOption{Slug: t.Slug, Name: t.Name, Checked: selected[t.Slug]})
	}
	return g
}

func table(g *matrix.Grid, first, second model.Attribute) *TableView {
	t := &TableView{
		Columns: make([]Header, 0, len(g.FirstTerms)),
		Rows:    make([]RowView, 0, len(g.SecondTerms)),
	}
	for _, slug := range g.FirstTerms {
		t.Columns = append(t.Columns, Header{Slug: slug, Name: first.TermBySlug(slug).Name})
	}

	for i, cells := range g.Rows() {
		slug := g.SecondTerms[i]
		row := RowView{
			Header: Header{Slug: slug, Name: second.TermBySlug(slug).Name},
			Cells:  make([]CellView, 0, len(cells)),
		}
		for _, c := range cells {
			row.Cells = append(row.Cells, CellView{
				Key:     c.Key,
				Label:   first.TermBySlug(c.FirstSlug).Name + " / " + second.TermBySlug(c.SecondSlug).Name,
				Checked: c.Desired,
				Exists:  c.Exists,
				Changed: c.Desired != c.Exists,
			})
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
