package model

// AttributeValue is a line item's value for one variation attribute.
type AttributeValue struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// OrderLineItem is one paid order line referencing the product or one of
// its variations. Attributes is restricted to variation-defining attributes.
type OrderLineItem struct {
	OrderID     int64                     `json:"order_id"`
	OrderNumber string                    `json:"order_number"`
	EditURL     string                    `json:"order_edit_url,omitempty"`
	Status      string                    `json:"status"`
	StatusLabel string                    `json:"status_label"`
	DateLabel   string                    `json:"date"`
	Timestamp   int64                     `json:"timestamp"`
	Customer    string                    `json:"customer"`
	Quantity    int                       `json:"quantity"`
	Attributes  map[string]AttributeValue `json:"attributes"`
}

// OverviewRow is an aggregated line item as shown in the orders overview.
// The raw timestamp and grouping key are deliberately absent.
type OverviewRow struct {
	OrderID          int64                     `json:"order_id"`
	OrderNumber      string                    `json:"order_number"`
	EditURL          string                    `json:"order_edit_url,omitempty"`
	Status           string                    `json:"status"`
	StatusLabel      string                    `json:"status_label"`
	DateLabel        string                    `json:"date"`
	Customer         string                    `json:"customer"`
	Quantity         int                       `json:"quantity"`
	Attributes       map[string]AttributeValue `json:"attributes"`
	CombinationTotal int                       `json:"combination_total"`
	Overlap          bool                      `json:"overlap"`
}

// OrderData is what the host adapter returns for the orders overview,
// before aggregation.
type OrderData struct {
	ProductID  int64           `json:"product_id"`
	Attributes []Attribute     `json:"attributes"`
	Items      []OrderLineItem `json:"items"`
}

// OrderOverview is the aggregated, sorted overview.
type OrderOverview struct {
	ProductID  int64         `json:"product_id"`
	Attributes []Attribute   `json:"attributes"`
	Items      []OverviewRow `json:"items"`
}
