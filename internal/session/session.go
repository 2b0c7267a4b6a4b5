// Package session runs the matrix dialog as a server-side state machine.
//
// A Session is a plain value. Its transition methods validate the current
// state, update the selection and grid synchronously and never talk to the
// store; the Manager does the host round trips between transitions and uses
// the epoch to discard responses that arrive after the session was closed or
// reopened.
package session

import (
	"errors"
	"fmt"
	"time"

	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
)

// State is the dialog lifecycle state.
type State string

const (
	StateClosed     State = "closed"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateEditing    State = "editing"
	StateSubmitting State = "submitting"
	StateError      State = "error"
)

var (
	// ErrStaleResponse is returned when a host response belongs to an
	// earlier epoch or arrives in a state that no longer expects it.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrBusy is returned for a second confirm while a submission is in flight.
	ErrBusy = errors.New("submission already in progress")

	// ErrInvalidTransition is returned for operations the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound is returned by stores for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Notice is an inline validation message. It never changes the state.
type Notice struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Failure is a host error shown to the user.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Outcome is the result of the last submission.
type Outcome struct {
	Result  model.SubmitResult `json:"result"`
	Partial bool               `json:"partial"`
}

// Session is one open matrix dialog for one product.
type Session struct {
	ID          string            `json:"id"`
	ProductID   int64             `json:"product_id"`
	ProductName string            `json:"product_name,omitempty"`
	State       State             `json:"state"`
	Epoch       uint64            `json:"epoch"`
	Attributes  []model.Attribute `json:"attributes"`
	Variations  []model.Variation `json:"variations"`
	Selection   matrix.Selection  `json:"selection"`
	Grid        *matrix.Grid      `json:"grid"`
	Notice      *Notice           `json:"notice,omitempty"`
	Failure     *Failure          `json:"failure,omitempty"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
	Pending     *model.ChangeSet  `json:"pending,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New returns a closed session.
func New(id string) *Session {
	s := &Session{ID: id, State: StateClosed}
	s.discard()
	return s
}

// Begin starts loading productID and returns the epoch the load response
// must carry.
func (s *Session) Begin(productID int64) (uint64, error) {
	if s.State != StateClosed && s.State != StateError {
		return 0, fmt.Errorf("%w: begin from %s", ErrInvalidTransition, s.State)
	}

	s.discard()
	s.ProductID = productID
	s.Notice = nil
	s.Failure = nil
	s.Outcome = nil
	s.Epoch++
	s.State = StateLoading
	s.touch()
	return s.Epoch, nil
}

// Loaded applies the product snapshot fetched for epoch.
func (s *Session) Loaded(epoch uint64, data *model.ProductData) error {
	if err := s.expect(epoch, StateLoading); err != nil {
		return err
	}

	s.ProductName = data.Name
	s.Attributes = data.Attributes
	s.Variations = data.Variations
	s.Selection = matrix.Selection{FirstTerms: []string{}, SecondTerms: []string{}}
	s.Grid = matrix.BuildFromSelection(s.Selection, s.Variations)
	s.State = StateReady
	s.touch()
	return nil
}

// LoadFailed records a fetch error for epoch.
func (s *Session) LoadFailed(epoch uint64, err error) error {
	if e := s.expect(epoch, StateLoading); e != nil {
		return e
	}

	s.Failure = failureFrom(err)
	s.State = StateError
	s.touch()
	return nil
}

// SelectAttribute assigns an attribute to an axis and resets the grid.
// Picking the attribute already used by the other axis clears that axis and
// leaves a must_differ notice; the call still succeeds.
func (s *Session) SelectAttribute(role matrix.Role, name string) error {
	if err := s.editable(); err != nil {
		return err
	}
	if name != "" {
		if _, ok := model.FindAttribute(s.Attributes, name); !ok {
			return model.NewValidationError("attribute", fmt.Sprintf("unknown attribute %q", name))
		}
	}

	next, err := s.Selection.WithAttribute(role, name)
	s.Notice = nil
	switch {
	case errors.Is(err, matrix.ErrAttributesMustDiffer):
		s.Notice = &Notice{Reason: model.ReasonMustDiffer, Message: err.Error()}
	case err != nil:
		return model.NewValidationError("axis", err.Error())
	}

	s.Selection = next
	s.Grid = matrix.Rebuild(nil, next, s.Variations)
	s.edited()
	return nil
}

// ToggleTerm checks or unchecks a term on an axis. Desired cell states
// that survive the rebuild are kept.
func (s *Session) ToggleTerm(role matrix.Role, slug string, checked bool) error {
	if err := s.editable(); err != nil {
		return err
	}
	if _, err := matrix.ParseRole(string(role)); err != nil {
		return model.NewValidationError("axis", err.Error())
	}

	name := s.Selection.Attribute(role)
	if name == "" {
		return model.NewSelectionError(model.ReasonInvalidSelection, "select an attribute first")
	}
	attr, _ := model.FindAttribute(s.Attributes, name)
	if !attr.HasTerm(slug) {
		return model.NewValidationError("term", fmt.Sprintf("%q is not a term of %s", slug, attr.Label))
	}

	next, err := s.Selection.WithTerm(role, slug, checked)
	if err != nil {
		return model.NewValidationError("axis", err.Error())
	}

	s.Notice = nil
	s.Selection = next
	s.Grid = matrix.Rebuild(s.Grid, next, s.Variations)
	s.edited()
	return nil
}

// ToggleCell sets the desired state of one grid cell.
func (s *Session) ToggleCell(key matrix.CellKey, desired bool) error {
	if err := s.editable(); err != nil {
		return err
	}

	g, err := matrix.Toggle(s.Grid, key, desired)
	if err != nil {
		return model.NewValidationError("cell", fmt.Sprintf("%q is not in the grid", key))
	}

	s.Notice = nil
	s.Grid = g
	s.edited()
	return nil
}

// Confirm computes the final change set and moves to Submitting.
// An incomplete selection or an empty change set leaves a notice and
// returns a selection error without changing the state.
func (s *Session) Confirm() (model.ChangeSet, error) {
	if s.State == StateSubmitting {
		return model.ChangeSet{}, ErrBusy
	}
	if err := s.editable(); err != nil {
		return model.ChangeSet{}, err
	}

	if err := s.Selection.Validate(); err != nil {
		reason := model.ReasonInvalidSelection
		if errors.Is(err, matrix.ErrAttributesMustDiffer) {
			reason = model.ReasonMustDiffer
		}
		s.Notice = &Notice{Reason: reason, Message: err.Error()}
		s.touch()
		return model.ChangeSet{}, model.NewSelectionError(reason, err.Error())
	}

	cs := matrix.ComputeChangeSet(s.Grid, s.Variations)
	if cs.IsEmpty() {
		s.Notice = &Notice{Reason: model.ReasonNoChanges, Message: "no changes to save"}
		s.touch()
		return model.ChangeSet{}, model.NewSelectionError(model.ReasonNoChanges, "no changes to save")
	}

	s.Notice = nil
	s.Failure = nil
	s.Pending = &cs
	s.State = StateSubmitting
	s.touch()
	return cs, nil
}

// Submitted closes the session with the persistence outcome. The host view
// must refresh afterwards, so the snapshot is discarded even for partial
// results.
func (s *Session) Submitted(epoch uint64, result *model.SubmitResult) error {
	if err := s.expect(epoch, StateSubmitting); err != nil {
		return err
	}

	s.Outcome = &Outcome{Result: *result, Partial: result.Partial()}
	s.discard()
	s.State = StateClosed
	s.touch()
	return nil
}

// SubmitFailed returns to Editing with the failure shown and all edits kept.
func (s *Session) SubmitFailed(epoch uint64, err error) error {
	if e := s.expect(epoch, StateSubmitting); e != nil {
		return e
	}

	s.Failure = failureFrom(err)
	s.Pending = nil
	s.State = StateEditing
	s.touch()
	return nil
}

// Close discards the dialog. Responses still in flight become stale.
func (s *Session) Close() {
	s.Epoch++
	s.discard()
	s.Notice = nil
	s.Failure = nil
	s.Outcome = nil
	s.State = StateClosed
	s.touch()
}

func (s *Session) expect(epoch uint64, state State) error {
	if epoch != s.Epoch || s.State != state {
		return ErrStaleResponse
	}
	return nil
}

func (s *Session) editable() error {
	switch s.State {
	case StateReady, StateEditing:
		return nil
	case StateSubmitting:
		return ErrBusy
	default:
		return fmt.Errorf("%w: edit in %s", ErrInvalidTransition, s.State)
	}
}

func (s *Session) edited() {
	s.State = StateEditing
	s.touch()
}

// discard drops everything that only lives while the dialog is open.
func (s *Session) discard() {
	s.ProductName = ""
	s.Attributes = []model.Attribute{}
	s.Variations = []model.Variation{}
	s.Selection = matrix.Selection{FirstTerms: []string{}, SecondTerms: []string{}}
	s.Grid = nil
	s.Pending = nil
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func failureFrom(err error) *Failure {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return &Failure{Code: apiErr.Code, Message: apiErr.Message, Reason: apiErr.Reason}
	}
	return &Failure{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
}
