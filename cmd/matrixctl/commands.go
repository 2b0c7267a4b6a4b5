package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"varmatrix/internal/handler"
	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
	"varmatrix/internal/session"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix <product-id>",
	Short: "Show a product's variation attributes and existing variations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		var data model.ProductData
		if err := newClient().do(cmd.Context(), "GET", fmt.Sprintf("/products/%d/matrix", id), nil, &data); err != nil {
			return err
		}
		newPrinter(cmd).productData(&data)
		return nil
	},
}

var (
	gridFirst   string
	gridSecond  string
	gridSet     []string
	gridUnset   []string
	gridConfirm bool
)

var gridCmd = &cobra.Command{
	Use:   "grid <product-id>",
	Short: "Edit variations through a matrix session",
	Long: `grid opens a matrix session, picks two attributes with the given terms,
toggles cells and prints the grid with the pending changes. Cells are named
<first-term>/<second-term>. Without --confirm the session is closed and
nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		first, firstTerms, err := parseAxis(gridFirst)
		if err != nil {
			return fmt.Errorf("--first: %w", err)
		}
		second, secondTerms, err := parseAxis(gridSecond)
		if err != nil {
			return fmt.Errorf("--second: %w", err)
		}
		return runGrid(cmd, id, gridPlan{
			first:       first,
			firstTerms:  firstTerms,
			second:      second,
			secondTerms: secondTerms,
			set:         gridSet,
			unset:       gridUnset,
			confirm:     gridConfirm,
		})
	},
}

var (
	applyCreate []string
	applyDelete []int64
)

var applyCmd = &cobra.Command{
	Use:   "apply <product-id>",
	Short: "Submit a raw change set",
	Long: `apply creates and deletes variations directly. Each --create takes
attribute=term pairs separated by commas.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		cs := model.ChangeSet{Create: []model.VariationDraft{}, Delete: applyDelete}
		for _, pairs := range applyCreate {
			attrs, err := parsePairs(pairs)
			if err != nil {
				return fmt.Errorf("--create %q: %w", pairs, err)
			}
			cs.Create = append(cs.Create, model.VariationDraft{Attributes: attrs})
		}
		if cs.Delete == nil {
			cs.Delete = []int64{}
		}

		var resp handler.SubmitResponse
		if err := newClient().do(cmd.Context(), "POST", fmt.Sprintf("/products/%d/variations/changes", id), cs, &resp); err != nil {
			return err
		}
		newPrinter(cmd).submitResult(model.SubmitResult{Created: resp.Created, Deleted: resp.Deleted, Failures: resp.Failures})
		return nil
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders <product-id>",
	Short: "Show paid orders grouped by attribute combination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		var resp handler.OverviewResponse
		if err := newClient().do(cmd.Context(), "GET", fmt.Sprintf("/products/%d/orders", id), nil, &resp); err != nil {
			return err
		}
		newPrinter(cmd).overview(&resp)
		return nil
	},
}

var submissionsLimit int

var submissionsCmd = &cobra.Command{
	Use:   "submissions <product-id>",
	Short: "List journaled submissions for a product, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		var resp handler.SubmissionsResponse
		path := fmt.Sprintf("/products/%d/submissions?limit=%d", id, submissionsLimit)
		if err := newClient().do(cmd.Context(), "GET", path, nil, &resp); err != nil {
			return err
		}
		newPrinter(cmd).submissions(resp.Submissions)
		return nil
	},
}

func init() {
	gridCmd.Flags().StringVar(&gridFirst, "first", "", "column attribute and terms, e.g. pa_color=red,blue")
	gridCmd.Flags().StringVar(&gridSecond, "second", "", "row attribute and terms, e.g. pa_size=s,m")
	gridCmd.Flags().StringArrayVar(&gridSet, "set", nil, "check a cell, e.g. red/m (repeatable)")
	gridCmd.Flags().StringArrayVar(&gridUnset, "unset", nil, "uncheck a cell, e.g. blue/s (repeatable)")
	gridCmd.Flags().BoolVar(&gridConfirm, "confirm", false, "submit the pending changes")
	gridCmd.MarkFlagRequired("first")
	gridCmd.MarkFlagRequired("second")

	applyCmd.Flags().StringArrayVar(&applyCreate, "create", nil, "variation to create, e.g. pa_color=red,pa_size=m (repeatable)")
	applyCmd.Flags().Int64SliceVar(&applyDelete, "delete", nil, "variation IDs to delete")

	submissionsCmd.Flags().IntVar(&submissionsLimit, "limit", 20, "maximum entries to list")
}

// gridPlan is what the grid command does to a session.
type gridPlan struct {
	first       string
	firstTerms  []string
	second      string
	secondTerms []string
	set         []string
	unset       []string
	confirm     bool
}

// step is one session action posted by the grid command.
type step struct {
	path string
	body interface{}
}

// gridSteps turns a plan into the session actions that realize it.
func gridSteps(plan gridPlan) ([]step, error) {
	steps := []step{
		{"/attributes", map[string]string{"role": string(matrix.RoleFirst), "name": plan.first}},
		{"/attributes", map[string]string{"role": string(matrix.RoleSecond), "name": plan.second}},
	}
	for _, slug := range plan.firstTerms {
		steps = append(steps, step{"/terms", map[string]interface{}{"role": matrix.RoleFirst, "slug": slug, "checked": true}})
	}
	for _, slug := range plan.secondTerms {
		steps = append(steps, step{"/terms", map[string]interface{}{"role": matrix.RoleSecond, "slug": slug, "checked": true}})
	}
	for _, toggle := range []struct {
		cells   []string
		checked bool
	}{{plan.set, true}, {plan.unset, false}} {
		for _, cell := range toggle.cells {
			key, err := parseCell(plan.first, plan.second, cell)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{"/cells", map[string]interface{}{"key": key, "checked": toggle.checked}})
		}
	}
	return steps, nil
}

func runGrid(cmd *cobra.Command, productID int64, plan gridPlan) error {
	steps, err := gridSteps(plan)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c := newClient()
	p := newPrinter(cmd)

	var view session.View
	if err := c.do(ctx, "POST", "/sessions", map[string]int64{"product_id": productID}, &view); err != nil {
		return err
	}
	path := "/sessions/" + view.SessionID
	discard := func() {
		c.do(context.WithoutCancel(ctx), "DELETE", path, nil, nil)
	}
	if view.State == session.StateError && view.Failure != nil {
		discard()
		return fmt.Errorf("%s: %s", view.Failure.Code, view.Failure.Message)
	}

	for _, s := range steps {
		if err := c.do(ctx, "POST", path+s.path, s.body, &view); err != nil {
			discard()
			return err
		}
		if view.Notice != nil {
			p.notice(view.Notice.Message)
		}
	}

	p.grid(&view)

	if !plan.confirm || len(view.Changes) == 0 {
		if err := c.do(ctx, "DELETE", path, nil, nil); err != nil {
			return err
		}
		switch {
		case len(view.Changes) == 0:
			p.hint("no changes to save")
		case !plan.confirm:
			p.hint("dry run: pass --confirm to save these changes")
		}
		return nil
	}

	if err := c.do(ctx, "POST", path+"/confirm", nil, &view); err != nil {
		discard()
		return err
	}
	if view.Failure != nil {
		discard()
		return fmt.Errorf("%s: %s", view.Failure.Code, view.Failure.Message)
	}
	if view.Outcome != nil {
		p.submitResult(view.Outcome.Result)
	}
	return nil
}

func parseProductID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("product ID must be a positive integer, got %q", s)
	}
	return id, nil
}

// parseAxis splits "pa_color=red,blue" into the attribute and its terms.
func parseAxis(s string) (string, []string, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("want attribute=term,term, got %q", s)
	}
	var terms []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return "", nil, fmt.Errorf("no terms given for %s", name)
	}
	return name, terms, nil
}

// parsePairs splits "pa_color=red,pa_size=m" into an attribute map.
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, slug, ok := strings.Cut(pair, "=")
		name, slug = strings.TrimSpace(name), strings.TrimSpace(slug)
		if !ok || name == "" || slug == "" {
			return nil, fmt.Errorf("want attribute=term, got %q", pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("attribute %s given twice", name)
		}
		out[name] = slug
	}
	return out, nil
}

// parseCell turns "red/m" into the key of that grid cell.
func parseCell(first, second, cell string) (matrix.CellKey, error) {
	firstSlug, secondSlug, ok := strings.Cut(cell, "/")
	if !ok || firstSlug == "" || secondSlug == "" {
		return "", fmt.Errorf("cell %q must be <first-term>/<second-term>", cell)
	}
	return matrix.NewCellKey(first, firstSlug, second, secondSlug), nil
}
