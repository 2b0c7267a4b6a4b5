package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"varmatrix/internal/audit"
	"varmatrix/internal/model"
	"varmatrix/internal/session"
)

func decodeView(t *testing.T, body []byte) session.View {
	t.Helper()
	var v session.View
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decoding view: %v\nBody: %s", err, body)
	}
	return v
}

func TestSessionFlow(t *testing.T) {
	mock := newTestMock()
	var submitted model.ChangeSet
	mock.SubmitChangeSetFunc = func(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error) {
		submitted = cs
		return &model.SubmitResult{Created: []int64{77}, Deleted: []int64{}}, nil
	}
	env := newTestEnv(t, mock)

	w := env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})
	if w.Code != http.StatusCreated {
		t.Fatalf("open status = %d, want 201\nBody: %s", w.Code, w.Body.String())
	}
	v := decodeView(t, w.Body.Bytes())
	if v.SessionID != "s1" || v.State != session.StateReady {
		t.Fatalf("opened view = %s/%s, want s1/ready", v.SessionID, v.State)
	}
	if len(v.Attributes) != 2 {
		t.Errorf("Attributes = %d, want 2", len(v.Attributes))
	}

	steps := []struct {
		path string
		body interface{}
	}{
		{"/sessions/s1/attributes", map[string]string{"role": "first", "name": "pa_color"}},
		{"/sessions/s1/attributes", map[string]string{"role": "second", "name": "pa_size"}},
		{"/sessions/s1/terms", map[string]interface{}{"role": "first", "slug": "red", "checked": true}},
		{"/sessions/s1/terms", map[string]interface{}{"role": "second", "slug": "s", "checked": true}},
		{"/sessions/s1/terms", map[string]interface{}{"role": "second", "slug": "m", "checked": true}},
		{"/sessions/s1/cells", map[string]interface{}{"key": cellKey("red", "m"), "checked": true}},
	}
	for _, step := range steps {
		w := env.do(t, "POST", step.path, step.body)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s status = %d\nBody: %s", step.path, w.Code, w.Body.String())
		}
		v = decodeView(t, w.Body.Bytes())
	}

	if v.State != session.StateEditing {
		t.Errorf("State = %s, want editing", v.State)
	}
	if v.Table == nil || len(v.Table.Rows) != 2 {
		t.Fatalf("Table = %+v, want 2 rows", v.Table)
	}
	if len(v.Changes) != 1 || v.Changes[0].Label != "Color Red / Size M" {
		t.Errorf("Changes = %+v, want one create for Red / M", v.Changes)
	}
	if !v.CanSubmit {
		t.Error("CanSubmit = false, want true")
	}

	w = env.do(t, "POST", "/sessions/s1/confirm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d\nBody: %s", w.Code, w.Body.String())
	}
	v = decodeView(t, w.Body.Bytes())
	if v.State != session.StateClosed || v.Outcome == nil {
		t.Fatalf("confirmed view = %s outcome %+v, want closed with outcome", v.State, v.Outcome)
	}
	if len(submitted.Create) != 1 || submitted.Create[0].Attributes["pa_size"] != "m" {
		t.Errorf("submitted = %+v", submitted)
	}

	entries, _ := env.journal.List(context.Background(), 12, 10)
	if len(entries) != 1 || entries[0].Source != audit.SourceSession || entries[0].SessionID != "s1" {
		t.Errorf("journal = %+v, want one session entry for s1", entries)
	}
}

func TestSessionConfirmWithoutChanges(t *testing.T) {
	called := false
	mock := newTestMock()
	mock.SubmitChangeSetFunc = func(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error) {
		called = true
		return &model.SubmitResult{}, nil
	}
	env := newTestEnv(t, mock)
	env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})

	w := env.do(t, "POST", "/sessions/s1/confirm", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Reason; got != model.ReasonInvalidSelection {
		t.Errorf("Reason = %q, want %q", got, model.ReasonInvalidSelection)
	}
	if called {
		t.Error("host must not be contacted")
	}

	// The notice stays on the session for the next render.
	w = env.do(t, "GET", "/sessions/s1", nil)
	v := decodeView(t, w.Body.Bytes())
	if v.Notice == nil || v.Notice.Reason != model.ReasonInvalidSelection {
		t.Errorf("Notice = %+v, want invalid_selection", v.Notice)
	}
}

func TestSessionSameAttributeNotice(t *testing.T) {
	env := newTestEnv(t, newTestMock())
	env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})
	env.do(t, "POST", "/sessions/s1/attributes", map[string]string{"role": "first", "name": "pa_color"})

	w := env.do(t, "POST", "/sessions/s1/attributes", map[string]string{"role": "second", "name": "pa_color"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\nBody: %s", w.Code, w.Body.String())
	}
	v := decodeView(t, w.Body.Bytes())
	if v.Notice == nil || v.Notice.Reason != model.ReasonMustDiffer {
		t.Errorf("Notice = %+v, want must_differ", v.Notice)
	}
	if v.First != "" || v.Second != "pa_color" {
		t.Errorf("axes = %q/%q, want first cleared", v.First, v.Second)
	}
}

func TestSessionLoadFailure(t *testing.T) {
	mock := newTestMock()
	mock.FetchProductDataFunc = func(ctx context.Context, productID int64) (*model.ProductData, error) {
		return nil, model.NewWrongProductTypeError("simple")
	}
	env := newTestEnv(t, mock)

	w := env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want 201", w.Code)
	}
	v := decodeView(t, w.Body.Bytes())
	if v.State != session.StateError || v.Failure == nil || v.Failure.Code != "WRONG_PRODUCT_TYPE" {
		t.Errorf("view = %s failure %+v, want error with WRONG_PRODUCT_TYPE", v.State, v.Failure)
	}

	mock.FetchProductDataFunc = newTestMock().FetchProductDataFunc
	w = env.do(t, "POST", "/sessions/s1/reload", nil)
	v = decodeView(t, w.Body.Bytes())
	if v.State != session.StateReady {
		t.Errorf("after reload State = %s, want ready", v.State)
	}
}

func TestSessionRequestErrors(t *testing.T) {
	env := newTestEnv(t, newTestMock())
	env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"bad product id", "POST", "/sessions", map[string]int64{"product_id": 0}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown session", "GET", "/sessions/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown role", "POST", "/sessions/s1/attributes", map[string]string{"role": "third", "name": "pa_color"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown attribute", "POST", "/sessions/s1/attributes", map[string]string{"role": "first", "name": "pa_weight"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"term without axis", "POST", "/sessions/s1/terms", map[string]interface{}{"role": "first", "slug": "red", "checked": true}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing slug", "POST", "/sessions/s1/terms", map[string]interface{}{"role": "first", "checked": true}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing key", "POST", "/sessions/s1/cells", map[string]interface{}{"checked": true}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"reload while ready", "POST", "/sessions/s1/reload", nil, http.StatusConflict, "CONFLICT"},
		{"close unknown", "DELETE", "/sessions/nope", nil, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeError(t, w).Code; got != tt.wantCode {
				t.Errorf("Code = %s, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestSessionClose(t *testing.T) {
	env := newTestEnv(t, newTestMock())
	env.do(t, "POST", "/sessions", map[string]int64{"product_id": 12})

	w := env.do(t, "DELETE", "/sessions/s1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204", w.Code)
	}

	w = env.do(t, "GET", "/sessions/s1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after close Status = %d, want 404", w.Code)
	}
}
