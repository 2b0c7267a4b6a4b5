package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"varmatrix/internal/adapter"
	"varmatrix/internal/model"
	"varmatrix/internal/transport"
)

// =============================================================================
// AUTHENTICATION
// =============================================================================
//
// The REST API v3 authenticates with a consumer key/secret pair. Over HTTPS
// WooCommerce accepts them as HTTP Basic credentials, which is the only mode
// this client supports. Keys need read/write permission: variations are
// created and deleted, and the parent product is re-saved afterwards.
//
// Request flow:
//
//   fetch product:   GET /products/{id}
//                    GET /products/attributes/{id} + /terms   (per global attribute, concurrent)
//                    GET /products/{id}/variations            (paginated)
//   submit changes:  fetch product (attributes only)
//                    POST /products/{id}/variations/batch     (multi)
//                    or POST|DELETE per record                (sequential)
//                    PUT /products/{id}                       (sync + transient clear)
//   order overview:  fetch product + variations
//                    GET /orders?product={id}&status=...      (paginated)
// =============================================================================

// restAPIPath is the base path for WooCommerce REST API v3 endpoints.
const restAPIPath = "/wp-json/wc/v3"

// perPage is the largest page size WooCommerce allows.
const perPage = 100

// maxPages bounds pagination against a misbehaving X-WP-TotalPages header.
const maxPages = 200

// termFetchConcurrency limits parallel attribute lookups per product.
const termFetchConcurrency = 4

// BatchStrategy controls how variation writes are executed.
type BatchStrategy string

const (
	// BatchStrategyMulti uses the variations batch endpoint.
	// Faster (1 HTTP call per 100 records) - the default and recommended strategy.
	BatchStrategyMulti BatchStrategy = "multi"

	// BatchStrategySequential executes one request per record.
	// Slower (N HTTP calls) but useful as fallback if the batch endpoint is
	// blocked by a security plugin or WAF.
	BatchStrategySequential BatchStrategy = "sequential"
)

// Config holds WooCommerce-specific adapter configuration.
type Config struct {
	StoreURL      string
	APIKey        string
	APISecret     string
	BatchStrategy BatchStrategy // Default: multi

	// Transport overrides the Chrome-fingerprint transport. Tests use it.
	Transport http.RoundTripper
}

// Client implements adapter.Host for WooCommerce stores using the REST API v3.
type Client struct {
	httpClient    *http.Client
	storeURL      string
	apiKey        string
	apiSecret     string
	batchStrategy BatchStrategy
}

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}

	strategy := cfg.BatchStrategy
	switch strategy {
	case "":
		strategy = BatchStrategyMulti
	case BatchStrategyMulti, BatchStrategySequential:
	default:
		return nil, fmt.Errorf("unknown batch strategy %q", strategy)
	}

	// Use Chrome TLS fingerprint transport to avoid JA3-based rate limiting.
	// See internal/transport for rationale.
	rt := cfg.Transport
	if rt == nil {
		rt = transport.NewChromeTransport(30 * time.Second)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: rt,
		},
		storeURL:      strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		batchStrategy: strategy,
	}, nil
}

// Verify Client implements Host interface at compile time.
var _ adapter.Host = (*Client)(nil)

// FetchProductData loads the product's variation attributes and variations.
func (c *Client) FetchProductData(ctx context.Context, productID int64) (*model.ProductData, error) {
	cat, err := c.loadCatalog(ctx, productID)
	if err != nil {
		return nil, err
	}

	variations, err := c.listVariations(ctx, cat)
	if err != nil {
		return nil, err
	}

	return &model.ProductData{
		ProductID:  cat.product.ID,
		Name:       cat.product.Name,
		Attributes: cat.attributes,
		Variations: variations,
	}, nil
}

// SubmitChangeSet applies creates and deletes, then re-saves the parent
// product so WooCommerce syncs price ranges and clears product transients.
//
// Drafts must name only the product's variation attributes and their terms;
// otherwise the whole change set is rejected with a validation error before
// any write. Records are independent: a rejected record is reported in
// Failures and the rest still go through. An error is returned only when
// nothing could be applied (invalid draft, product lookup failed,
// credentials rejected, store unreachable).
func (c *Client) SubmitChangeSet(ctx context.Context, productID int64, cs model.ChangeSet) (*model.SubmitResult, error) {
	result := &model.SubmitResult{Created: []int64{}, Deleted: []int64{}}
	if cs.IsEmpty() {
		return result, nil
	}

	cat, err := c.loadCatalog(ctx, productID)
	if err != nil {
		return nil, err
	}

	// Validate every draft before writing anything.
	for i, draft := range cs.Create {
		if err := cat.checkDraft(draft); err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("create[%d]", i), err.Error())
		}
	}

	batch := NewBatch()
	for _, draft := range cs.Create {
		batch.Create(cat.variationCreate(draft))
	}
	for _, id := range cs.Delete {
		batch.Delete(id)
	}

	switch c.batchStrategy {
	case BatchStrategySequential:
		err = c.executeBatchSequential(ctx, productID, batch, result)
	default:
		err = c.executeBatchEndpoint(ctx, productID, batch, result)
	}
	if err != nil {
		return nil, err
	}

	if len(result.Created)+len(result.Deleted) > 0 {
		if err := c.resyncProduct(ctx, productID); err != nil {
			result.Failures = append(result.Failures, model.PersistFailure{
				Operation: model.OperationSync,
				Message:   err.Error(),
			})
		}
	}
	return result, nil
}

// FetchOrderOverview returns paid line items that reference the product or
// one of its variations.
func (c *Client) FetchOrderOverview(ctx context.Context, productID int64) (*model.OrderData, error) {
	cat, err := c.loadCatalog(ctx, productID)
	if err != nil {
		return nil, err
	}

	variations, err := c.listVariations(ctx, cat)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Variation, len(variations))
	for _, v := range variations {
		byID[v.ID] = v
	}

	query := url.Values{}
	query.Set("product", strconv.FormatInt(productID, 10))
	query.Set("status", strings.Join(PaidStatuses, ","))
	orders, err := listAll[WooOrder](ctx, c, "/orders", query)
	if err != nil {
		return nil, err
	}

	items := make([]model.OrderLineItem, 0)
	for i := range orders {
		order := &orders[i]
		for j := range order.LineItems {
			item, ok := cat.transformLineItem(order, &order.LineItems[j], byID, c.storeURL)
			if ok {
				items = append(items, item)
			}
		}
	}

	return &model.OrderData{
		ProductID:  cat.product.ID,
		Attributes: cat.attributes,
		Items:      items,
	}, nil
}

// loadCatalog fetches the product and resolves its variation attributes.
func (c *Client) loadCatalog(ctx context.Context, productID int64) (*catalog, error) {
	var product WooProduct
	if err := c.getJSON(ctx, fmt.Sprintf("/products/%d", productID), nil, &product); err != nil {
		return nil, err
	}
	if product.Type != "variable" {
		return nil, model.NewWrongProductTypeError(product.Type)
	}

	globals, terms, err := c.fetchGlobalAttributes(ctx, &product)
	if err != nil {
		return nil, err
	}

	cat := newCatalog(&product, globals, terms)
	if len(cat.attributes) == 0 {
		return nil, model.NewNoVariableAttributesError()
	}
	return cat, nil
}

// fetchGlobalAttributes looks up taxonomy slugs and terms for every global
// variation attribute of the product, concurrently.
func (c *Client) fetchGlobalAttributes(ctx context.Context, product *WooProduct) (map[int64]*WooAttribute, map[int64][]WooAttributeTerm, error) {
	globals := make(map[int64]*WooAttribute)
	terms := make(map[int64][]WooAttributeTerm)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(termFetchConcurrency)

	for _, pa := range product.Attributes {
		if !pa.Variation || pa.ID <= 0 {
			continue
		}
		id := pa.ID
		g.Go(func() error {
			var attr WooAttribute
			if err := c.getJSON(gctx, fmt.Sprintf("/products/attributes/%d", id), nil, &attr); err != nil {
				return fmt.Errorf("attribute %d: %w", id, err)
			}
			list, err := listAll[WooAttributeTerm](gctx, c, fmt.Sprintf("/products/attributes/%d/terms", id), nil)
			if err != nil {
				return fmt.Errorf("attribute %d terms: %w", id, err)
			}

			mu.Lock()
			globals[id] = &attr
			terms[id] = list
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return globals, terms, nil
}

// listVariations fetches all variations of the product, normalized.
func (c *Client) listVariations(ctx context.Context, cat *catalog) ([]model.Variation, error) {
	raw, err := listAll[WooVariation](ctx, c, fmt.Sprintf("/products/%d/variations", cat.product.ID), nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Variation, 0, len(raw))
	for _, v := range raw {
		out = append(out, cat.normalizeVariation(v))
	}
	return out, nil
}

// resyncProduct re-saves the parent product with an empty update.
func (c *Client) resyncProduct(ctx context.Context, productID int64) error {
	_, _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", productID), nil, struct{}{})
	return err
}

// =============================================================================
// MULTI BATCH EXECUTION (uses the variations batch endpoint)
// =============================================================================

// executeBatchEndpoint posts the change set in chunks of maxBatchSize.
// Per-record errors become failures. A request-level error on the first chunk
// aborts the submission; on a later chunk it fails that chunk and every
// remaining record, since earlier chunks are already applied.
func (c *Client) executeBatchEndpoint(ctx context.Context, productID int64, batch *BatchBuilder, result *model.SubmitResult) error {
	requests := batch.Build()
	path := fmt.Sprintf("/products/%d/variations/batch", productID)

	for i, req := range requests {
		body, _, err := c.do(ctx, http.MethodPost, path, nil, req)
		if err != nil {
			if i == 0 {
				return err
			}
			for _, rest := range requests[i:] {
				failChunk(result, rest, err.Error())
			}
			return nil
		}

		var resp WooBatchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			if i == 0 {
				return model.NewUpstreamError("WooCommerce", fmt.Errorf("parsing batch response: %w", err))
			}
			for _, rest := range requests[i:] {
				failChunk(result, rest, "unreadable batch response")
			}
			return nil
		}

		collectBatchResults(result, req, &resp)
	}
	return nil
}

// collectBatchResults matches batch results to the request by position.
func collectBatchResults(result *model.SubmitResult, req *WooBatchRequest, resp *WooBatchResponse) {
	for i, create := range req.Create {
		if i >= len(resp.Create) {
			result.Failures = append(result.Failures, createFailure(create, "no result returned"))
			continue
		}
		r := resp.Create[i]
		if r.Error != nil || r.ID == 0 {
			result.Failures = append(result.Failures, createFailure(create, batchErrorMessage(r.Error)))
			continue
		}
		result.Created = append(result.Created, r.ID)
	}

	for i, id := range req.Delete {
		if i >= len(resp.Delete) {
			result.Failures = append(result.Failures, deleteFailure(id, "no result returned"))
			continue
		}
		r := resp.Delete[i]
		if r.Error != nil {
			result.Failures = append(result.Failures, deleteFailure(id, batchErrorMessage(r.Error)))
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
}

func failChunk(result *model.SubmitResult, req *WooBatchRequest, msg string) {
	for _, create := range req.Create {
		result.Failures = append(result.Failures, createFailure(create, msg))
	}
	for _, id := range req.Delete {
		result.Failures = append(result.Failures, deleteFailure(id, msg))
	}
}

func createFailure(create WooVariationCreate, msg string) model.PersistFailure {
	return model.PersistFailure{
		Operation:  model.OperationCreate,
		Attributes: create.draft.Attributes,
		Message:    msg,
	}
}

func deleteFailure(id int64, msg string) model.PersistFailure {
	return model.PersistFailure{
		Operation:   model.OperationDelete,
		VariationID: id,
		Message:     msg,
	}
}

func batchErrorMessage(e *WooErrorResponse) string {
	if e == nil {
		return "record rejected"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// =============================================================================
// SEQUENTIAL EXECUTION (one request per record)
// =============================================================================

// executeBatchSequential creates and deletes one record at a time.
// A record-level rejection (400, 404) is recorded and the loop continues.
// An auth, rate-limit or transport failure stops the loop: before anything
// was applied it is returned as the error, afterwards the remaining records
// are reported as failed.
func (c *Client) executeBatchSequential(ctx context.Context, productID int64, batch *BatchBuilder, result *model.SubmitResult) error {
	createPath := fmt.Sprintf("/products/%d/variations", productID)
	applied := func() bool { return len(result.Created)+len(result.Deleted) > 0 }

	var stop error
	for _, create := range batch.creates {
		if stop != nil {
			result.Failures = append(result.Failures, createFailure(create, stop.Error()))
			continue
		}

		var created WooVariation
		body, _, err := c.do(ctx, http.MethodPost, createPath, nil, create)
		if err == nil {
			err = json.Unmarshal(body, &created)
		}
		if err != nil {
			if isFatal(err) {
				if !applied() && len(result.Failures) == 0 {
					return err
				}
				stop = err
			}
			result.Failures = append(result.Failures, createFailure(create, err.Error()))
			continue
		}
		result.Created = append(result.Created, created.ID)
	}

	force := url.Values{"force": {"true"}}
	for _, id := range batch.deletes {
		if stop != nil {
			result.Failures = append(result.Failures, deleteFailure(id, stop.Error()))
			continue
		}

		_, _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", createPath, id), force, nil)
		if err != nil {
			if isFatal(err) {
				if !applied() && len(result.Failures) == 0 {
					return err
				}
				stop = err
			}
			result.Failures = append(result.Failures, deleteFailure(id, err.Error()))
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return nil
}

// isFatal reports whether further requests are pointless.
func isFatal(err error) bool {
	return errors.Is(err, model.ErrUnauthorized) ||
		errors.Is(err, model.ErrRateLimited) ||
		errors.Is(err, model.ErrUpstreamError)
}

// =============================================================================
// HTTP
// =============================================================================

// userAgent identifies this client to upstream servers.
// Required: WooCommerce CDN/WAF rate-limits requests without User-Agent.
const userAgent = "Varmatrix/1.0"

// listAll walks a paginated collection until X-WP-TotalPages is reached.
func listAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	out := make([]T, 0)
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))

		body, header, err := c.do(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return nil, err
		}

		var batch []T
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("parsing %s: %w", path, err))
		}
		out = append(out, batch...)

		total, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		if page >= total || len(batch) == 0 {
			break
		}
	}
	return out, nil
}

// getJSON performs a GET and decodes the response into v.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	body, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewUpstreamError("WooCommerce", fmt.Errorf("parsing %s: %w", path, err))
	}
	return nil
}

// do executes a REST request and returns the body of a successful response.
// Path is relative to the REST base (e.g., "/products/12").
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, http.Header, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.storeURL + restAPIPath + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	c.setRESTHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, nil, c.parseErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, resp.Header, nil
}

// setRESTHeaders sets headers and Basic credentials for REST API v3 requests.
func (c *Client) setRESTHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)
}

// parseErrorResponse converts WooCommerce error to APIError.
func (c *Client) parseErrorResponse(statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		resource := "product"
		if strings.Contains(wcErr.Code, "variation") {
			resource = "variation"
		}
		return model.NewNotFoundError(resource)
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}
