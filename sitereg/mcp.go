// CLAUDE:SUMMARY Registers registry MCP tools — list sites, site health, enable/disable.
package sitereg

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iswhat/raytv/kit"
)

// RegisterMCP registers registry tools on an MCP server.
func (r *Registry) RegisterMCP(srv *mcp.Server) {
	r.registerListSitesTool(srv)
	r.registerSiteHealthTool(srv)
	r.registerSetEnabledTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- list_sites ---

type listSitesRequest struct {
	EnabledOnly bool   `json:"enabled_only,omitempty"`
	Runtime     string `json:"runtime,omitempty"`
}

func (r *Registry) registerListSitesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitereg_list_sites",
		Description: "List registered content sites with capability flags, optionally filtered by enabled state or plugin runtime.",
		InputSchema: inputSchema(map[string]any{
			"enabled_only": map[string]any{"type": "boolean", "description": "Only return enabled sites"},
			"runtime":      map[string]any{"type": "string", "enum": []any{"bytecode", "script", "interpreter"}, "description": "Filter by plugin runtime kind"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*listSitesRequest)
		var filters []Filter
		if rr.EnabledOnly {
			filters = append(filters, Enabled())
		}
		if rr.Runtime != "" {
			filters = append(filters, ByRuntime(RuntimeKind(rr.Runtime)))
		}
		return r.List(filters...), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr listSitesRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- site_health ---

type siteHealthRequest struct {
	Key string `json:"key"`
}

func (r *Registry) registerSiteHealthTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitereg_site_health",
		Description: "Return the health record of one site: status, counters, score, last error.",
		InputSchema: inputSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Site key"},
		}, []string{"key"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*siteHealthRequest)
		return r.HealthOf(rr.Key)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr siteHealthRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- set_enabled ---

type setEnabledRequest struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

func (r *Registry) registerSetEnabledTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sitereg_set_enabled",
		Description: "Enable or disable a site. Enabling clears a circuit-broken error state.",
		InputSchema: inputSchema(map[string]any{
			"key":     map[string]any{"type": "string", "description": "Site key"},
			"enabled": map[string]any{"type": "boolean", "description": "New enabled state"},
		}, []string{"key", "enabled"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*setEnabledRequest)
		if err := r.SetEnabled(ctx, rr.Key, rr.Enabled); err != nil {
			return nil, err
		}
		return map[string]any{"key": rr.Key, "enabled": rr.Enabled}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr setEnabledRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
