// Package overlap aggregates paid order line items by variation attribute
// combination and flags combinations that were sold more than once.
package overlap

import (
	"slices"
	"strings"

	"varmatrix/internal/matrix"
	"varmatrix/internal/model"
)

// EmptyKey is the combination key used when a product has no variation
// attributes at all.
const EmptyKey = "_"

// CombinationKey builds the grouping key over attributeKeys in order.
// A missing value contributes an empty slug so every key has the same arity.
func CombinationKey(values map[string]model.AttributeValue, attributeKeys []string) string {
	if len(attributeKeys) == 0 {
		return EmptyKey
	}

	pairs := make([]matrix.Pair, len(attributeKeys))
	for i, key := range attributeKeys {
		pairs[i] = matrix.Pair{Attribute: key, Term: values[key].Slug}
	}
	return matrix.EncodePairs(pairs)
}

// entry carries the bookkeeping that never leaves this package.
type entry struct {
	item model.OrderLineItem
	key  string
}

// Aggregate clamps quantities to at least 1, sums them per combination,
// sorts the items so equal combinations are contiguous and returns overview
// rows with CombinationTotal and Overlap set.
//
// Sort order (stable): attribute display names in attributeKeys order, then
// ascending timestamp, then order number.
func Aggregate(items []model.OrderLineItem, attributeKeys []string) []model.OverviewRow {
	entries := make([]entry, len(items))
	totals := make(map[string]int)

	for i, item := range items {
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		key := CombinationKey(item.Attributes, attributeKeys)
		totals[key] += item.Quantity
		entries[i] = entry{item: item, key: key}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return compareItems(a.item, b.item, attributeKeys)
	})

	rows := make([]model.OverviewRow, len(entries))
	for i, e := range entries {
		total := totals[e.key]
		rows[i] = model.OverviewRow{
			OrderID:          e.item.OrderID,
			OrderNumber:      e.item.OrderNumber,
			EditURL:          e.item.EditURL,
			Status:           e.item.Status,
			StatusLabel:      e.item.StatusLabel,
			DateLabel:        e.item.DateLabel,
			Customer:         e.item.Customer,
			Quantity:         e.item.Quantity,
			Attributes:       e.item.Attributes,
			CombinationTotal: total,
			Overlap:          total > 1,
		}
	}
	return rows
}

func compareItems(a, b model.OrderLineItem, attributeKeys []string) int {
	for _, key := range attributeKeys {
		if c := strings.Compare(a.Attributes[key].Name, b.Attributes[key].Name); c != 0 {
			return c
		}
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	return strings.Compare(a.OrderNumber, b.OrderNumber)
}

// Stats summarizes an overview.
type Stats struct {
	Rows                    int `json:"rows"`
	Combinations            int `json:"combinations"`
	OverlappingCombinations int `json:"overlapping_combinations"`
	OverlappingRows         int `json:"overlapping_rows"`
}

// Summarize counts distinct and overlapping combinations in rows produced by
// Aggregate.
func Summarize(rows []model.OverviewRow, attributeKeys []string) Stats {
	stats := Stats{Rows: len(rows)}
	seen := make(map[string]bool)
	for _, r := range rows {
		key := CombinationKey(r.Attributes, attributeKeys)
		if r.Overlap {
			stats.OverlappingRows++
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		stats.Combinations++
		if r.Overlap {
			stats.OverlappingCombinations++
		}
	}
	return stats
}

// Overview aggregates host order data into the overview response.
func Overview(data *model.OrderData) *model.OrderOverview {
	keys := model.AttributeNames(data.Attributes)
	return &model.OrderOverview{
		ProductID:  data.ProductID,
		Attributes: data.Attributes,
		Items:      Aggregate(data.Items, keys),
	}
}
