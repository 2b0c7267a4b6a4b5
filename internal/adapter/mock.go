package adapter

import (
	"context"

	"varmatrix/internal/model"
)

// Mock implements Host for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchProductDataFunc   func(ctx context.Context, productID int64) (*model.ProductData, error)
	SubmitChangeSetFunc    func(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error)
	FetchOrderOverviewFunc func(ctx context.Context, productID int64) (*model.OrderData, error)
}

// FetchProductData calls the configured FetchProductDataFunc or returns NotFound.
func (m *Mock) FetchProductData(ctx context.Context, productID int64) (*model.ProductData, error) {
	if m.FetchProductDataFunc != nil {
		return m.FetchProductDataFunc(ctx, productID)
	}
	return nil, model.NewNotFoundError("product")
}

// SubmitChangeSet calls the configured SubmitChangeSetFunc or reports every
// record as applied with synthetic IDs.
func (m *Mock) SubmitChangeSet(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error) {
	if m.SubmitChangeSetFunc != nil {
		return m.SubmitChangeSetFunc(ctx, productID, cs)
	}
	result := &model.SubmitResult{
		Created: make([]int64, 0, len(cs.Create)),
		Deleted: append([]int64{}, cs.Delete...),
	}
	for i := range cs.Create {
		result.Created = append(result.Created, productID*1000+int64(i)+1)
	}
	return result, nil
}

// FetchOrderOverview calls the configured FetchOrderOverviewFunc or returns NotFound.
func (m *Mock) FetchOrderOverview(ctx context.Context, productID int64) (*model.OrderData, error) {
	if m.FetchOrderOverviewFunc != nil {
		return m.FetchOrderOverviewFunc(ctx, productID)
	}
	return nil, model.NewNotFoundError("product")
}

// Verify Mock implements Host interface at compile time.
var _ Host = (*Mock)(nil)
