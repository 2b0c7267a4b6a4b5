package woocommerce

// =============================================================================
// BATCH BUILDER
// =============================================================================
//
// WooCommerce REST API v3 supports batching variation writes for one product
// via POST /wc/v3/products/{id}/variations/batch. Creates and deletes travel
// in the same request; WooCommerce applies them in order and reports a result
// (or an error object) per record.
//
// WooCommerce caps a batch at 100 records, so the builder splits larger
// change sets into several requests.
//
// Example batch request:
//
//	{
//	  "create": [
//	    {"status": "publish", "attributes": [{"id": 3, "option": "Red"}, {"name": "Fit", "option": "Slim"}]}
//	  ],
//	  "delete": [733, 734]
//	}
//
// =============================================================================

// maxBatchSize is WooCommerce's default per-request batch limit.
const maxBatchSize = 100

// BatchBuilder constructs variation batch requests.
// Uses fluent API pattern for readability.
type BatchBuilder struct {
	creates []WooVariationCreate
	deletes []int64
}

// NewBatch creates a new batch builder.
func NewBatch() *BatchBuilder {
	return &BatchBuilder{}
}

// Create queues a variation creation.
func (b *BatchBuilder) Create(v WooVariationCreate) *BatchBuilder {
	b.creates = append(b.creates, v)
	return b
}

// Delete queues a forced variation deletion. Zero IDs are ignored.
func (b *BatchBuilder) Delete(variationID int64) *BatchBuilder {
	if variationID == 0 {
		return b
	}
	b.deletes = append(b.deletes, variationID)
	return b
}

// HasOperations returns true if any operations have been added.
func (b *BatchBuilder) HasOperations() bool {
	return b.OperationCount() > 0
}

// OperationCount returns the number of queued records.
func (b *BatchBuilder) OperationCount() int {
	return len(b.creates) + len(b.deletes)
}

// Build splits the queued records into requests of at most maxBatchSize.
// Creates are packed before deletes. Returns nil if nothing was queued.
func (b *BatchBuilder) Build() []*WooBatchRequest {
	if !b.HasOperations() {
		return nil
	}

	var out []*WooBatchRequest
	cur := &WooBatchRequest{}
	size := 0
	flush := func() {
		if size > 0 {
			out = append(out, cur)
		}
		cur = &WooBatchRequest{}
		size = 0
	}

	for _, c := range b.creates {
		if size == maxBatchSize {
			flush()
		}
		cur.Create = append(cur.Create, c)
		size++
	}
	for _, id := range b.deletes {
		if size == maxBatchSize {
			flush()
		}
		cur.Delete = append(cur.Delete, id)
		size++
	}
	flush()
	return out
}
