// CLAUDE:SUMMARY Registers aggregate MCP tools — catalog view, search, refresh, stats.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iswhat/raytv/kit"
)

// RegisterMCP registers aggregator tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCatalogTool(srv)
	s.registerSearchTool(srv)
	s.registerRefreshTool(srv)
	s.registerStatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- catalog ---

type catalogRequest struct {
	IncludeInactive bool   `json:"include_inactive,omitempty"`
	SortBy          string `json:"sort_by,omitempty"`
	Category        string `json:"category,omitempty"`
	Page            int    `json:"page,omitempty"`
	PageSize        int    `json:"page_size,omitempty"`
}

func (s *Service) registerCatalogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aggregate_catalog",
		Description: "List the merged site catalog, filtered by quality floor unless include_inactive, sorted and paginated.",
		InputSchema: inputSchema(map[string]any{
			"include_inactive": map[string]any{"type": "boolean", "description": "Include sites below the quality floor"},
			"sort_by":          map[string]any{"type": "string", "enum": []any{"quality", "reliability", "recent", "name"}},
			"category":         map[string]any{"type": "string", "description": "Restrict to one category type"},
			"page":             map[string]any{"type": "integer", "description": "1-based page"},
			"page_size":        map[string]any{"type": "integer"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*catalogRequest)
		if rr.Category != "" {
			return s.SitesByCategory(ctx, rr.Category, rr.IncludeInactive, SortBy(rr.SortBy))
		}
		if rr.Page > 0 || rr.PageSize > 0 {
			return s.SitesPage(ctx, rr.Page, rr.PageSize, rr.IncludeInactive, SortBy(rr.SortBy))
		}
		return s.Sites(ctx, rr.IncludeInactive, SortBy(rr.SortBy))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr catalogRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- search ---

type searchRequest struct {
	Keyword string `json:"keyword"`
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aggregate_search",
		Description: "Search the merged catalog by keyword across name, key, and extension payload, ranked by relevance.",
		InputSchema: inputSchema(map[string]any{
			"keyword": map[string]any{"type": "string"},
		}, []string{"keyword"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Search(ctx, req.(*searchRequest).Keyword)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr searchRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if rr.Keyword == "" {
			return nil, fmt.Errorf("keyword is required")
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- refresh ---

type refreshRequest struct {
	SourceURLs []string `json:"source_urls,omitempty"`
}

func (s *Service) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aggregate_refresh",
		Description: "Force a full re-aggregation of the configured (or given) source URLs.",
		InputSchema: inputSchema(map[string]any{
			"source_urls": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		catalog, err := s.Refresh(ctx, req.(*refreshRequest).SourceURLs)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"uniqueSites":   catalog.UniqueSiteCount,
			"failedSources": catalog.FailedSources,
			"generatedAt":   catalog.GeneratedAt,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr refreshRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- stats ---

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "aggregate_stats",
		Description: "Summary of the current catalog: unique sites, categories, source health.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Stats(ctx)
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
