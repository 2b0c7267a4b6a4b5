// Package woocommerce implements the host adapter for WooCommerce stores using
// the REST API v3. All WooCommerce-specific types, transforms, and HTTP client
// logic live here.
package woocommerce

import (
	"encoding/json"

	"varmatrix/internal/model"
)

// === WooCommerce REST API Response Types ===

// WooProduct represents GET /products/{id}.
type WooProduct struct {
	ID         int64                 `json:"id"`
	Name       string                `json:"name"`
	Type       string                `json:"type"` // "simple", "variable", "grouped", "external"
	Status     string                `json:"status"`
	Attributes []WooProductAttribute `json:"attributes"`
	Variations []int64               `json:"variations"`
}

// WooProductAttribute is an attribute as attached to a product.
// ID is 0 for custom (local) attributes. Options hold display names, not slugs.
type WooProductAttribute struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Slug      string   `json:"slug,omitempty"` // Only present on newer WooCommerce versions
	Position  int      `json:"position"`
	Visible   bool     `json:"visible"`
	Variation bool     `json:"variation"`
	Options   []string `json:"options"`
}

// WooAttribute represents GET /products/attributes/{id} (a global attribute).
type WooAttribute struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"` // "pa_color"
}

// WooAttributeTerm represents an entry of GET /products/attributes/{id}/terms.
type WooAttributeTerm struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	MenuOrder int    `json:"menu_order"`
}

// WooVariation represents an entry of GET /products/{id}/variations.
type WooVariation struct {
	ID         int64                   `json:"id"`
	Status     string                  `json:"status"`
	Attributes []WooVariationAttribute `json:"attributes"`
}

// WooVariationAttribute is one attribute value on a variation.
// Option is the term name for taxonomy attributes; an empty option means "any".
type WooVariationAttribute struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Option string `json:"option"`
}

// WooOrder represents an entry of GET /orders.
type WooOrder struct {
	ID             int64         `json:"id"`
	Number         string        `json:"number"`
	Status         string        `json:"status"`
	DateCreated    string        `json:"date_created"`     // site-local "2006-01-02T15:04:05"
	DateCreatedGMT string        `json:"date_created_gmt"` // UTC, same layout
	Billing        WooBilling    `json:"billing"`
	LineItems      []WooLineItem `json:"line_items"`
}

// WooBilling holds the billing fields used for the customer column.
type WooBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// WooLineItem represents a product line in an order.
// ProductID is always the parent product; VariationID is 0 for simple lines.
type WooLineItem struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	ProductID   int64         `json:"product_id"`
	VariationID int64         `json:"variation_id"`
	Quantity    int           `json:"quantity"`
	MetaData    []WooItemMeta `json:"meta_data"`
}

// WooItemMeta is line-item metadata. Variation attributes are stored here
// with the attribute name as key ("pa_color") and the term slug as value.
// Value is raw because plugins may store arrays or objects.
type WooItemMeta struct {
	ID           int64           `json:"id"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	DisplayKey   string          `json:"display_key,omitempty"`
	DisplayValue json.RawMessage `json:"display_value,omitempty"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}

// === WooCommerce REST API Request Types ===

// WooVariationCreate is the body for creating one variation.
type WooVariationCreate struct {
	Status     string                  `json:"status"`
	Attributes []WooVariationAttribute `json:"attributes"`

	// draft is the record this payload was built from, for failure reports.
	draft model.VariationDraft
}

// === Batch API Types ===

// WooBatchRequest is the payload for POST /products/{id}/variations/batch.
// Deletes in a batch are always forced by WooCommerce.
type WooBatchRequest struct {
	Create []WooVariationCreate `json:"create,omitempty"`
	Delete []int64              `json:"delete,omitempty"`
}

// WooBatchResponse is the response from the variations batch endpoint.
// Each entry is either a variation or an object carrying an error.
type WooBatchResponse struct {
	Create []WooBatchResult `json:"create"`
	Delete []WooBatchResult `json:"delete"`
}

// WooBatchResult is a single result within a batch response.
type WooBatchResult struct {
	ID    int64             `json:"id"`
	Error *WooErrorResponse `json:"error,omitempty"`
}
