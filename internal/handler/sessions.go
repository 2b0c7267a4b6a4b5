package handler

import (
	"log/slog"
	"net/http"

	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
	"varmatrix/internal/session"
)

type openSessionRequest struct {
	ProductID int64 `json:"product_id"`
}

type selectAttributeRequest struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

type toggleTermRequest struct {
	Role    string `json:"role"`
	Slug    string `json:"slug"`
	Checked bool   `json:"checked"`
}

type toggleCellRequest struct {
	Key     string `json:"key"`
	Checked bool   `json:"checked"`
}

// handleOpenSession opens the matrix dialog for a product.
// POST /sessions
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ProductID <= 0 {
		h.writeError(w, model.NewValidationError("product_id", "must be a positive integer"))
		return
	}

	sess, err := h.sessions.Open(ctx, req.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sess.View())
}

// handleGetSession returns the session view.
// GET /sessions/{id}
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	h.writeSession(w, sess, err)
}

// handleReloadSession fetches the product again after a failed load.
// POST /sessions/{id}/reload
func (h *Handler) handleReloadSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Reload(r.Context(), r.PathValue("id"))
	h.writeSession(w, sess, err)
}

// handleSelectAttribute assigns an attribute to an axis.
// POST /sessions/{id}/attributes
func (h *Handler) handleSelectAttribute(w http.ResponseWriter, r *http.Request) {
	var req selectAttributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	sess, err := h.sessions.SelectAttribute(r.Context(), r.PathValue("id"), role, req.Name)
	h.writeSession(w, sess, err)
}

// handleToggleTerm checks or unchecks a term.
// POST /sessions/{id}/terms
func (h *Handler) handleToggleTerm(w http.ResponseWriter, r *http.Request) {
	var req toggleTermRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Slug == "" {
		h.writeError(w, model.NewValidationError("slug", "term slug required"))
		return
	}

	sess, err := h.sessions.ToggleTerm(r.Context(), r.PathValue("id"), role, req.Slug, req.Checked)
	h.writeSession(w, sess, err)
}

// handleToggleCell sets the desired state of one grid cell.
// POST /sessions/{id}/cells
func (h *Handler) handleToggleCell(w http.ResponseWriter, r *http.Request) {
	var req toggleCellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Key == "" {
		h.writeError(w, model.NewValidationError("key", "cell key required"))
		return
	}

	sess, err := h.sessions.ToggleCell(r.Context(), r.PathValue("id"), matrix.CellKey(req.Key), req.Checked)
	h.writeSession(w, sess, err)
}

// handleConfirm submits the session's change set. A host failure still
// answers 200: the view carries the failure and the edits are kept.
// POST /sessions/{id}/confirm
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	sess, err := h.sessions.Confirm(ctx, id)
	if err == nil && sess.Outcome != nil && sess.Outcome.Partial {
		h.logger.WarnContext(ctx, "session submission partially applied",
			slog.String("session_id", id),
			slog.Int("failures", len(sess.Outcome.Result.Failures)),
		)
	}
	h.writeSession(w, sess, err)
}

// handleCloseSession discards the session.
// DELETE /sessions/{id}
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeSession renders the view, or the error if the action was rejected.
// Rejected actions leave any inline notice on the stored session.
func (h *Handler) writeSession(w http.ResponseWriter, sess *session.Session, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.View())
}

func parseRole(s string) (matrix.Role, error) {
	role, err := matrix.ParseRole(s)
	if err != nil {
		return "", model.NewValidationError("role", "must be first or second")
	}
	return role, nil
}
