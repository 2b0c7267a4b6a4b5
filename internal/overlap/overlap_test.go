package overlap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varmatrix/internal/model"
)

var keys = []string{"pa_color", "pa_size"}

func lineItem(orderNumber string, ts int64, qty int, color, size string) model.OrderLineItem {
	attrs := map[string]model.AttributeValue{}
	if color != "" {
		attrs["pa_color"] = model.AttributeValue{Slug: color, Name: titleOf(color)}
	}
	if size != "" {
		attrs["pa_size"] = model.AttributeValue{Slug: size, Name: titleOf(size)}
	}
	return model.OrderLineItem{
		OrderNumber: orderNumber,
		Timestamp:   ts,
		Quantity:    qty,
		Attributes:  attrs,
		Status:      "processing",
	}
}

func titleOf(slug string) string {
	names := map[string]string{"red": "Red", "blue": "Blue", "s": "S", "m": "M"}
	return names[slug]
}

// Scenario D: same combination sums across items; distinct combination stays alone.
func TestAggregate_SumsAndFlagsOverlap(t *testing.T) {
	items := []model.OrderLineItem{
		lineItem("100", 10, 2, "red", "s"),
		lineItem("101", 20, 3, "red", "s"),
		lineItem("102", 30, 1, "blue", "m"),
	}

	rows := Aggregate(items, keys)
	require.Len(t, rows, 3)

	byNumber := map[string]model.OverviewRow{}
	for _, r := range rows {
		byNumber[r.OrderNumber] = r
	}
	assert.Equal(t, 5, byNumber["100"].CombinationTotal)
	assert.True(t, byNumber["100"].Overlap)
	assert.Equal(t, 5, byNumber["101"].CombinationTotal)
	assert.True(t, byNumber["101"].Overlap)
	assert.Equal(t, 1, byNumber["102"].CombinationTotal)
	assert.False(t, byNumber["102"].Overlap)
}

// Scenario E: quantity 0 is clamped to 1.
func TestAggregate_ClampsQuantity(t *testing.T) {
	items := []model.OrderLineItem{
		lineItem("1", 1, 0, "red", "s"),
		lineItem("2", 2, -4, "blue", "s"),
	}

	rows := Aggregate(items, keys)
	for _, r := range rows {
		assert.Equal(t, 1, r.Quantity)
		assert.Equal(t, 1, r.CombinationTotal)
		assert.False(t, r.Overlap)
	}
}

func TestAggregate_TotalsMatchGroupSums(t *testing.T) {
	items := []model.OrderLineItem{
		lineItem("1", 5, 1, "red", "s"),
		lineItem("2", 4, 4, "red", "m"),
		lineItem("3", 3, 2, "red", "s"),
		lineItem("4", 2, 0, "blue", "m"),
		lineItem("5", 1, 7, "red", "m"),
		lineItem("6", 1, 1, "", "m"),
	}

	rows := Aggregate(items, keys)

	sums := map[string]int{}
	for _, r := range rows {
		sums[CombinationKey(r.Attributes, keys)] += r.Quantity
	}
	for _, r := range rows {
		key := CombinationKey(r.Attributes, keys)
		assert.Equal(t, sums[key], r.CombinationTotal, key)
		assert.Equal(t, r.CombinationTotal > 1, r.Overlap, key)
	}
}

func TestAggregate_SortOrder(t *testing.T) {
	items := []model.OrderLineItem{
		lineItem("9", 50, 1, "red", "s"),
		lineItem("3", 10, 1, "blue", "s"),
		lineItem("7", 40, 1, "red", "m"),
		lineItem("2", 10, 1, "red", "m"),
		lineItem("1", 10, 1, "red", "m"),
	}

	rows := Aggregate(items, keys)

	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = r.OrderNumber
	}
	// Blue < Red; within Red, M < S; within Red/M, ts 10 before 40 and "1" before "2".
	assert.Equal(t, []string{"3", "1", "2", "7", "9"}, got)
}

func TestAggregate_OrderNumberTieBreakIsLexicographic(t *testing.T) {
	items := []model.OrderLineItem{
		lineItem("20", 10, 1, "red", "s"),
		lineItem("100", 10, 1, "red", "s"),
		lineItem("3", 10, 1, "red", "s"),
	}

	rows := Aggregate(items, keys)
	assert.Equal(t, "100", rows[0].OrderNumber)
	assert.Equal(t, "20", rows[1].OrderNumber)
	assert.Equal(t, "3", rows[2].OrderNumber)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, keys))
}

func TestCombinationKey(t *testing.T) {
	values := map[string]model.AttributeValue{
		"pa_color": {Slug: "red", Name: "Red"},
		"pa_extra": {Slug: "x", Name: "X"},
	}

	assert.Equal(t, "pa_color:red|pa_size:", CombinationKey(values, keys), "missing value keeps arity")
	assert.Equal(t, EmptyKey, CombinationKey(values, nil))

	// Other fields must not matter.
	a := lineItem("1", 1, 1, "red", "s")
	b := lineItem("2", 99, 5, "red", "s")
	b.Customer = "Someone"
	assert.Equal(t, CombinationKey(a.Attributes, keys), CombinationKey(b.Attributes, keys))
}

func TestSummarize(t *testing.T) {
	rows := Aggregate([]model.OrderLineItem{
		lineItem("1", 1, 1, "red", "s"),
		lineItem("2", 2, 1, "red", "s"),
		lineItem("3", 3, 1, "blue", "s"),
	}, keys)

	stats := Summarize(rows, keys)
	assert.Equal(t, Stats{Rows: 3, Combinations: 2, OverlappingCombinations: 1, OverlappingRows: 2}, stats)
}

func TestOverview(t *testing.T) {
	data := &model.OrderData{
		ProductID:  12,
		Attributes: []model.Attribute{{Name: "pa_color"}, {Name: "pa_size"}},
		Items:      []model.OrderLineItem{lineItem("1", 1, 2, "red", "s")},
	}

	ov := Overview(data)
	assert.Equal(t, int64(12), ov.ProductID)
	require.Len(t, ov.Items, 1)
	assert.Equal(t, 2, ov.Items[0].CombinationTotal)
	assert.True(t, ov.Items[0].Overlap)
}
