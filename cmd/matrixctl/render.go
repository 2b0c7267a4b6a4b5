package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/muesli/termenv"

	"varmatrix/internal/audit"
	"varmatrix/internal/handler"
	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
	"varmatrix/internal/session"
)

// Palette
const (
	colorAdd     = "#22c55e"
	colorRemove  = "#ef4444"
	colorOverlap = "#f59e0b"
	colorMuted   = "#6b7280"
)

// printer writes command output, colored when the profile allows it.
type printer struct {
	w       io.Writer
	profile termenv.Profile
}

func (p *printer) style(s, hex string) termenv.Style {
	return p.profile.String(s).Foreground(p.profile.Color(hex))
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
}

func (p *printer) notice(msg string) {
	fmt.Fprintln(p.w, p.style("! "+msg, colorOverlap))
}

func (p *printer) hint(msg string) {
	fmt.Fprintln(p.w, p.style(msg, colorMuted))
}

// productData lists the variation attributes and the existing variations.
func (p *printer) productData(d *model.ProductData) {
	title := fmt.Sprintf("Product %d", d.ProductID)
	if d.Name != "" {
		title += " " + d.Name
	}
	fmt.Fprintln(p.w, p.profile.String(title).Bold())

	tw := p.table()
	for _, a := range d.Attributes {
		terms := make([]string, len(a.Terms))
		for i, t := range a.Terms {
			terms[i] = t.Slug
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", a.Name, a.Label, strings.Join(terms, ", "))
	}
	tw.Flush()

	if len(d.Variations) == 0 {
		p.hint("no variations")
		return
	}
	fmt.Fprintf(p.w, "%d variations\n", len(d.Variations))
	names := model.AttributeNames(d.Attributes)
	tw = p.table()
	for _, v := range d.Variations {
		fmt.Fprintf(tw, "  #%d\t%s\t%s\n", v.ID, combination(names, v.Attributes), v.Status)
	}
	tw.Flush()
}

// combination renders a variation's attributes in catalog order, followed
// by any names the catalog does not list.
func combination(order []string, attrs map[string]string) string {
	seen := make(map[string]bool, len(order))
	parts := make([]string, 0, len(attrs))
	for _, name := range order {
		seen[name] = true
		if slug, ok := attrs[name]; ok {
			parts = append(parts, name+"="+slug)
		}
	}
	var rest []string
	for name := range attrs {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, name+"="+attrs[name])
	}
	return strings.Join(parts, " ")
}

// grid draws the session table followed by the pending changes.
func (p *printer) grid(v *session.View) {
	if v.Table == nil {
		p.hint("no grid: select both attributes and at least one term each")
		return
	}

	tw := p.table()
	fmt.Fprint(tw, "\t")
	for _, c := range v.Table.Columns {
		fmt.Fprintf(tw, "%s\t", c.Name)
	}
	fmt.Fprintln(tw)
	for _, row := range v.Table.Rows {
		fmt.Fprintf(tw, "%s\t", row.Header.Name)
		for _, c := range row.Cells {
			fmt.Fprintf(tw, "%s\t", p.cell(c))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	if len(v.Changes) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	for _, c := range v.Changes {
		p.change(c)
	}
}

// cell marks a checkbox; pending changes are shown as + or -.
func (p *printer) cell(c session.CellView) string {
	switch {
	case c.Changed && c.Checked:
		return p.style("[+]", colorAdd).String()
	case c.Changed:
		return p.style("[-]", colorRemove).String()
	case c.Checked:
		return "[x]"
	default:
		return "[ ]"
	}
}

func (p *printer) change(c matrix.Change) {
	if c.Action == matrix.ActionDelete {
		fmt.Fprintf(p.w, "%s %s (#%d)\n", p.style("delete", colorRemove), c.Label, c.VariationID)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style("create", colorAdd), c.Label)
}

// submitResult summarizes what the host applied.
func (p *printer) submitResult(r model.SubmitResult) {
	fmt.Fprintf(p.w, "created %d, deleted %d\n", len(r.Created), len(r.Deleted))
	if len(r.Created) > 0 {
		fmt.Fprintf(p.w, "  created: %s\n", joinIDs(r.Created))
	}
	if len(r.Deleted) > 0 {
		fmt.Fprintf(p.w, "  deleted: %s\n", joinIDs(r.Deleted))
	}
	for _, f := range r.Failures {
		target := combination(nil, f.Attributes)
		if f.VariationID != 0 {
			target = fmt.Sprintf("#%d", f.VariationID)
		}
		fmt.Fprintf(p.w, "  %s %s %s: %s\n", p.style("failed", colorRemove), f.Operation, target, f.Message)
	}
}

// overview prints the orders table; rows sharing a combination with
// another order are highlighted.
func (p *printer) overview(o *handler.OverviewResponse) {
	if len(o.Items) == 0 {
		p.hint("no paid orders for this product")
		return
	}

	tw := p.table()
	fmt.Fprint(tw, "ORDER\tDATE\tSTATUS\tCUSTOMER\tQTY")
	for _, a := range o.Attributes {
		fmt.Fprintf(tw, "\t%s", strings.ToUpper(a.Label))
	}
	fmt.Fprintln(tw, "\tTOTAL")

	for _, row := range o.Items {
		fields := []string{
			"#" + row.OrderNumber,
			row.DateLabel,
			row.StatusLabel,
			row.Customer,
			fmt.Sprint(row.Quantity),
		}
		for _, a := range o.Attributes {
			fields = append(fields, row.Attributes[a.Name].Name)
		}
		fields = append(fields, fmt.Sprint(row.CombinationTotal))
		line := strings.Join(fields, "\t")
		if row.Overlap {
			// Style each field so tabwriter still sees the separators.
			for i, f := range fields {
				fields[i] = p.style(f, colorOverlap).Bold().String()
			}
			line = strings.Join(fields, "\t")
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()

	s := o.Stats
	fmt.Fprintf(p.w, "\n%d rows, %d combinations", s.Rows, s.Combinations)
	if s.OverlappingCombinations > 0 {
		fmt.Fprint(p.w, ", ", p.style(fmt.Sprintf("%d ordered more than once (%d rows)", s.OverlappingCombinations, s.OverlappingRows), colorOverlap))
	}
	fmt.Fprintln(p.w)
}

// submissions lists journal entries.
func (p *printer) submissions(entries []audit.Entry) {
	if len(entries) == 0 {
		p.hint("no submissions recorded")
		return
	}
	tw := p.table()
	for _, e := range entries {
		outcome := fmt.Sprintf("+%d -%d", len(e.Created), len(e.Deleted))
		switch {
		case e.Error != "":
			outcome = p.style("error: "+e.Error, colorRemove).String()
		case len(e.Failures) > 0:
			outcome += p.style(fmt.Sprintf(" (%d failed)", len(e.Failures)), colorRemove).String()
		}
		source := e.Source
		if e.SessionID != "" {
			source += " " + e.SessionID
		}
		if e.Stale {
			source += p.style(" stale", colorMuted).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.ID, source, outcome)
	}
	tw.Flush()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " ")
}
