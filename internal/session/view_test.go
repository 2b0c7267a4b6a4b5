package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
)

var testResult = model.SubmitResult{Created: []int64{90}, Deleted: []int64{}}

func TestView_Ready(t *testing.T) {
	s := New("s1")
	epoch, _ := s.Begin(12)
	require.NoError(t, s.Loaded(epoch, testProductData()))

	v := s.View()
	assert.Equal(t, "s1", v.SessionID)
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, []AttributeView{
		{Name: "pa_color", Label: "Color"},
		{Name: "pa_size", Label: "Size"},
		{Name: "fit", Label: "Fit"},
	}, v.Attributes)
	assert.Empty(t, v.TermGroups)
	assert.Nil(t, v.Table)
	assert.Empty(t, v.Changes)
	assert.False(t, v.CanSubmit)
}

func TestView_OneAxisHasNoTermGroups(t *testing.T) {
	s := New("s1")
	epoch, _ := s.Begin(12)
	require.NoError(t, s.Loaded(epoch, testProductData()))
	require.NoError(t, s.SelectAttribute(matrix.RoleFirst, "pa_color"))

	v := s.View()
	assert.Equal(t, "pa_color", v.First)
	assert.Empty(t, v.TermGroups)
}

func TestView_Table(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.ToggleCell(key("red", "m"), true))
	require.NoError(t, s.ToggleCell(key("blue", "s"), false))

	v := s.View()
	require.Len(t, v.TermGroups, 2)
	color := v.TermGroups[0]
	assert.Equal(t, matrix.RoleFirst, color.Role)
	assert.Equal(t, "Color", color.Label)
	assert.Equal(t, []TermOption{
		{Slug: "red", Name: "Red", Checked: true},
		{Slug: "blue", Name: "Blue", Checked: true},
		{Slug: "green", Name: "Green", Checked: false},
	}, color.Terms)

	require.NotNil(t, v.Table)
	assert.Equal(t, []Header{{Slug: "red", Name: "Red"}, {Slug: "blue", Name: "Blue"}}, v.Table.Columns)
	require.Len(t, v.Table.Rows, 2)
	assert.Equal(t, Header{Slug: "s", Name: "S"}, v.Table.Rows[0].Header)

	rowS := v.Table.Rows[0].Cells
	assert.Equal(t, CellView{Key: key("red", "s"), Label: "Red / S", Checked: true, Exists: true}, rowS[0])
	assert.Equal(t, CellView{Key: key("blue", "s"), Label: "Blue / S", Checked: false, Exists: true, Changed: true}, rowS[1])
	rowM := v.Table.Rows[1].Cells
	assert.True(t, rowM[0].Checked)
	assert.True(t, rowM[0].Changed)

	require.Len(t, v.Changes, 2)
	assert.Equal(t, matrix.ActionDelete, v.Changes[0].Action)
	assert.Equal(t, "Color Blue / Size S", v.Changes[0].Label)
	assert.Equal(t, int64(2), v.Changes[0].VariationID)
	assert.Equal(t, matrix.ActionCreate, v.Changes[1].Action)
	assert.Equal(t, "Color Red / Size M", v.Changes[1].Label)
	assert.True(t, v.CanSubmit)
}

func TestView_CannotSubmitWhileSubmitting(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.ToggleCell(key("red", "m"), true))
	_, err := s.Confirm()
	require.NoError(t, err)

	v := s.View()
	assert.Equal(t, StateSubmitting, v.State)
	assert.Len(t, v.Changes, 1)
	assert.False(t, v.CanSubmit)
}

func TestView_Outcome(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.ToggleCell(key("red", "m"), true))
	_, err := s.Confirm()
	require.NoError(t, err)

	require.NoError(t, s.Submitted(s.Epoch, &testResult))

	v := s.View()
	assert.Equal(t, StateClosed, v.State)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, []int64{90}, v.Outcome.Result.Created)
	assert.False(t, v.Outcome.Partial)
	assert.Nil(t, v.Table)
}
