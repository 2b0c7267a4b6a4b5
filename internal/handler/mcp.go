// MCP transport handler using the official MCP Go SDK.
// Exposes the three boundary operations as MCP tools.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"varmatrix/internal/audit"
	"varmatrix/internal/middleware"
	"varmatrix/internal/model"
)

// === MCP Tool Input Types ===

// ProductInput identifies the product a read tool works on.
type ProductInput struct {
	ProductID int64 `json:"product_id" jsonschema:"ID of a variable product"`
}

// SubmitChangeSetInput is the input schema for submit_change_set.
type SubmitChangeSetInput struct {
	ProductID int64                  `json:"product_id" jsonschema:"ID of a variable product"`
	Create    []model.VariationDraft `json:"create,omitempty" jsonschema:"variations to create, each mapping attribute name to term slug"`
	Delete    []int64                `json:"delete,omitempty" jsonschema:"IDs of variations to delete"`
}

// NewMCPServer creates an MCP server with the matrix tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "varmatrix",
			Version: middleware.APIVersion,
		},
		&mcp.ServerOptions{
			Instructions: "Variation matrix for WooCommerce variable products. " +
				"Read a product's attributes and variations, submit create/delete change sets, " +
				"and see which attribute combinations have been ordered.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_variation_matrix",
		Description: "Get a variable product's variation attributes with their terms and its existing variations.",
	}, h.mcpGetVariationMatrix)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_change_set",
		Description: "Create and delete variations of a product. Records are applied independently; failures are listed in the result.",
	}, h.mcpSubmitChangeSet)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order_overview",
		Description: "Get paid order lines for a product grouped by attribute combination, flagging combinations ordered more than once.",
	}, h.mcpGetOrderOverview)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetVariationMatrix(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ProductInput,
) (*mcp.CallToolResult, *model.ProductData, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	data, err := h.host.FetchProductData(ctx, input.ProductID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, data, nil
}

func (h *Handler) mcpSubmitChangeSet(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SubmitChangeSetInput,
) (*mcp.CallToolResult, *SubmitResponse, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	cs := model.ChangeSet{Create: input.Create, Delete: input.Delete}
	resp, err := h.submit(ctx, input.ProductID, cs, audit.SourceMCP)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, resp, nil
}

func (h *Handler) mcpGetOrderOverview(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ProductInput,
) (*mcp.CallToolResult, *OverviewResponse, error) {
	if input.ProductID <= 0 {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	resp, err := h.overview(ctx, input.ProductID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, resp, nil
}

// mcpError converts host errors to MCP-friendly errors.
// Internal details are logged, not returned.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	if apiErr.Reason != "" {
		return fmt.Errorf("%s (%s): %s", apiErr.Code, apiErr.Reason, apiErr.Message)
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
