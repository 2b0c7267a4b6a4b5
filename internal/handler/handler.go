// Package handler provides the HTTP and MCP surface of the matrix service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"varmatrix/internal/adapter"
	"varmatrix/internal/audit"
	"varmatrix/internal/metrics"
	"varmatrix/internal/middleware"
	"varmatrix/internal/model"
	"varmatrix/internal/session"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	host     adapter.Host
	sessions *session.Manager
	journal  audit.Journal
	metrics  *metrics.Metrics
	nonces   *middleware.NonceIssuer
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithJournal records REST and MCP submissions and serves them back.
func WithJournal(j audit.Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithMetrics enables per-route and submission metrics plus GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithNonces enables POST /nonce.
func WithNonces(n *middleware.NonceIssuer) Option {
	return func(h *Handler) { h.nonces = n }
}

// New creates a Handler. sessions may be nil to serve only the boundary
// operations.
func New(host adapter.Host, sessions *session.Manager, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		host:     host,
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Boundary operations
	h.route(mux, "GET /products/{id}/matrix", h.handleGetMatrix)
	h.route(mux, "POST /products/{id}/variations/changes", h.handleSubmitChanges)
	h.route(mux, "GET /products/{id}/orders", h.handleGetOrders)
	h.route(mux, "GET /products/{id}/submissions", h.handleListSubmissions)

	// Matrix dialog sessions
	if h.sessions != nil {
		h.route(mux, "POST /sessions", h.handleOpenSession)
		h.route(mux, "GET /sessions/{id}", h.handleGetSession)
		h.route(mux, "POST /sessions/{id}/reload", h.handleReloadSession)
		h.route(mux, "POST /sessions/{id}/attributes", h.handleSelectAttribute)
		h.route(mux, "POST /sessions/{id}/terms", h.handleToggleTerm)
		h.route(mux, "POST /sessions/{id}/cells", h.handleToggleCell)
		h.route(mux, "POST /sessions/{id}/confirm", h.handleConfirm)
		h.route(mux, "DELETE /sessions/{id}", h.handleCloseSession)
	}

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", middleware.Instrument(h.metrics, "/mcp", h.NewMCPHandler()))

	if h.nonces != nil {
		h.route(mux, "POST /nonce", h.handleIssueNonce)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, middleware.Instrument(h.metrics, pattern, fn))
}

// handleHealth returns service health status.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIssueNonce returns a nonce bound to the caller's credential.
// POST /nonce
func (h *Handler) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFrom(r.Context())
	if cred == nil {
		h.writeError(w, model.NewUnauthorizedError("credential required"))
		return
	}
	nonce, expires := h.nonces.Issue(cred.ID, middleware.NonceAction)
	h.writeJSON(w, http.StatusOK, nonceResponse{
		Nonce:     nonce,
		Action:    middleware.NonceAction,
		ExpiresAt: expires.UTC().Format(http.TimeFormat),
	})
}

type nonceResponse struct {
	Nonce     string `json:"nonce"`
	Action    string `json:"action"`
	ExpiresAt string `json:"expires_at"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Reason:  apiErr.Reason,
		},
	})
}

// toAPIError maps any error onto the API taxonomy. Unexpected errors are
// logged and hidden behind INTERNAL_ERROR.
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrNotFound):
		return model.NewNotFoundError("session")
	case errors.Is(err, session.ErrBusy):
		return model.NewConflictError(err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		return model.NewConflictError("action not allowed in the current session state")
	}
	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// productID parses the {id} path value.
func productID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError("id", "product ID must be a positive integer")
	}
	return id, nil
}
