package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"varmatrix/internal/audit"
	"varmatrix/internal/model"
	"varmatrix/internal/overlap"
)

const (
	defaultSubmissionLimit = 50
	maxSubmissionLimit     = 500
)

// SubmitResponse is the result of a change set submission. Partial is set
// when some records failed while others were applied.
type SubmitResponse struct {
	Created  []int64                `json:"created"`
	Deleted  []int64                `json:"deleted"`
	Failures []model.PersistFailure `json:"failures,omitempty"`
	Partial  bool                   `json:"partial"`
}

// OverviewResponse is the aggregated orders overview with summary counts.
type OverviewResponse struct {
	ProductID  int64               `json:"product_id"`
	Attributes []model.Attribute   `json:"attributes"`
	Items      []model.OverviewRow `json:"items"`
	Stats      overlap.Stats       `json:"stats"`
}

// SubmissionsResponse lists journaled submissions, newest first.
type SubmissionsResponse struct {
	ProductID   int64         `json:"product_id"`
	Submissions []audit.Entry `json:"submissions"`
}

// handleGetMatrix returns the product's variation attributes and variations.
// GET /products/{id}/matrix
func (h *Handler) handleGetMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "fetching product data", slog.Int64("product_id", id))

	data, err := h.host.FetchProductData(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

// handleSubmitChanges applies a change set.
// POST /products/{id}/variations/changes
func (h *Handler) handleSubmitChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var cs model.ChangeSet
	if err := decodeJSON(w, r, &cs); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.submit(ctx, id, cs, audit.SourceREST)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleGetOrders returns the aggregated orders overview.
// GET /products/{id}/orders
func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.overview(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleListSubmissions returns the journal for a product.
// GET /products/{id}/submissions?limit=N
func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	limit := defaultSubmissionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxSubmissionLimit {
			h.writeError(w, model.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxSubmissionLimit)))
			return
		}
	}

	entries := []audit.Entry{}
	if h.journal != nil {
		if entries, err = h.journal.List(ctx, id, limit); err != nil {
			h.writeError(w, fmt.Errorf("listing submissions: %w", err))
			return
		}
	}
	h.writeJSON(w, http.StatusOK, SubmissionsResponse{ProductID: id, Submissions: entries})
}

// submit validates and applies cs, then journals and counts the outcome.
// REST and MCP share it.
func (h *Handler) submit(ctx context.Context, productID int64, cs model.ChangeSet, source string) (*SubmitResponse, error) {
	if err := validateChangeSet(cs); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "submitting change set",
		slog.Int64("product_id", productID),
		slog.String("source", source),
		slog.Int("create", len(cs.Create)),
		slog.Int("delete", len(cs.Delete)),
	)

	result, err := h.host.SubmitChangeSet(ctx, productID, cs)
	h.metrics.ObserveSubmission(source, result, err)
	h.record(context.WithoutCancel(ctx), productID, source, cs, result, err)
	if err != nil {
		return nil, err
	}

	if result.Partial() {
		h.logger.WarnContext(ctx, "change set partially applied",
			slog.Int64("product_id", productID),
			slog.Int("created", len(result.Created)),
			slog.Int("deleted", len(result.Deleted)),
			slog.Int("failures", len(result.Failures)),
		)
	}
	return &SubmitResponse{
		Created:  result.Created,
		Deleted:  result.Deleted,
		Failures: result.Failures,
		Partial:  result.Partial(),
	}, nil
}

func (h *Handler) record(ctx context.Context, productID int64, source string, cs model.ChangeSet, result *model.SubmitResult, submitErr error) {
	if h.journal == nil {
		return
	}
	e := audit.NewEntry(productID, source, cs, result, submitErr)
	if err := h.journal.Record(ctx, &e); err != nil {
		h.logger.ErrorContext(ctx, "failed to journal submission",
			slog.Int64("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}

// overview fetches and aggregates the product's paid line items.
func (h *Handler) overview(ctx context.Context, productID int64) (*OverviewResponse, error) {
	h.logger.InfoContext(ctx, "fetching order overview", slog.Int64("product_id", productID))

	data, err := h.host.FetchOrderOverview(ctx, productID)
	if err != nil {
		return nil, err
	}

	ov := overlap.Overview(data)
	stats := overlap.Summarize(ov.Items, model.AttributeNames(ov.Attributes))
	h.metrics.ObserveOverview(stats.Combinations, stats.OverlappingCombinations)

	return &OverviewResponse{
		ProductID:  ov.ProductID,
		Attributes: ov.Attributes,
		Items:      ov.Items,
		Stats:      stats,
	}, nil
}

// validateChangeSet rejects empty change sets and malformed records before
// the host is contacted.
func validateChangeSet(cs model.ChangeSet) error {
	if cs.IsEmpty() {
		return model.NewSelectionError(model.ReasonNoChanges, "no changes to save")
	}
	for i, draft := range cs.Create {
		if len(draft.Attributes) == 0 {
			return model.NewValidationError(fmt.Sprintf("create[%d]", i), "attributes are required")
		}
		for name, slug := range draft.Attributes {
			if name == "" || slug == "" {
				return model.NewValidationError(fmt.Sprintf("create[%d]", i), "attribute names and values must not be empty")
			}
		}
	}
	seen := make(map[int64]bool, len(cs.Delete))
	for i, id := range cs.Delete {
		if id <= 0 {
			return model.NewValidationError(fmt.Sprintf("delete[%d]", i), "variation ID must be a positive integer")
		}
		if seen[id] {
			return model.NewValidationError(fmt.Sprintf("delete[%d]", i), "duplicate variation ID")
		}
		seen[id] = true
	}
	return nil
}
