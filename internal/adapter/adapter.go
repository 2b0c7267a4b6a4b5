// Package adapter defines the interface between the matrix service and the
// store that owns products, variations and orders.
package adapter

import (
	"context"

	"varmatrix/internal/model"
)

// Host abstracts the store operations the matrix needs.
// WooCommerce is the production implementation.
//
// Implementations return typed *model.APIError values so callers can map
// failures onto the error taxonomy without knowing the platform.
type Host interface {
	// FetchProductData loads a variable product's variation attributes (with
	// their terms) and its existing variations.
	// Returns NotFound, WrongProductType or NoVariableAttributes for products
	// the matrix cannot edit.
	FetchProductData(ctx context.Context, productID int64) (*model.ProductData, error)

	// SubmitChangeSet creates and deletes variations. Per-record failures are
	// reported in the result rather than as an error; the returned error is
	// reserved for failures that prevented the submission as a whole.
	SubmitChangeSet(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error)

	// FetchOrderOverview returns the raw paid line items for a product. The
	// caller aggregates them.
	FetchOrderOverview(ctx context.Context, productID int64) (*model.OrderData, error)
}

// Config holds common configuration for hosts.
type Config struct {
	StoreURL  string
	APIKey    string
	APISecret string
}
