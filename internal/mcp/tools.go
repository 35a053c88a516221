// Package mcp exposes the storefront as MCP tools over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"oversounds/internal/store"
	"oversounds/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ProductLister returns the current storefront.
type ProductLister interface {
	Products(ctx context.Context) ([]models.Product, error)
}

// NewServer registers the storefront tools on a fresh MCP server.
func NewServer(lister ProductLister, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"oversounds-store",
		version,
		server.WithToolCapabilities(true),
	)

	listTool := mcp.NewTool("list_store_products",
		mcp.WithDescription("List every product currently in the OverSounds storefront"),
		mcp.WithString("kind",
			mcp.Description("Only return one kind: song, album or merch"),
		),
	)
	s.AddTool(listTool, listProductsHandler(lister))

	return s
}

// Handler serves the MCP server over stateless streamable HTTP.
func Handler(lister ProductLister, version string) http.Handler {
	return server.NewStreamableHTTPServer(NewServer(lister, version), server.WithStateLess(true))
}

func listProductsHandler(lister ProductLister) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var kind models.ProductKind
		if name := request.GetString("kind", ""); name != "" {
			k, err := models.ParseProductKind(name)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			kind = k
		}

		products, err := lister.Products(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("storefront error: %v", err)), nil
		}
		if kind != 0 {
			products = store.FilterKind(products, kind)
		}

		data, err := json.MarshalIndent(products, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode error: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
