// CLAUDE:SUMMARY Registers crawl MCP tools — single call and batch call.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iswhat/raytv/kit"
)

// RegisterMCP registers crawl tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCallTool(srv)
	s.registerBatchTool(srv)
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

// --- call ---

func (s *Service) registerCallTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "crawl_call",
		Description: "Invoke one plugin method on a registered site. Returns the raw plugin output or a classified error kind.",
		InputSchema: inputSchema(map[string]any{
			"siteKey": map[string]any{"type": "string", "description": "Site key"},
			"method":  map[string]any{"type": "string", "description": "Plugin method name"},
			"params":  map[string]any{"type": "object", "description": "Method parameters (string values)"},
			"noCache": map[string]any{"type": "boolean", "description": "Skip the result cache"},
		}, []string{"siteKey", "method"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Call(ctx, req.(*Request)), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr struct {
			SiteKey string            `json:"siteKey"`
			Method  string            `json:"method"`
			Params  map[string]string `json:"params"`
			NoCache bool              `json:"noCache"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if rr.SiteKey == "" || rr.Method == "" {
			return nil, fmt.Errorf("siteKey and method are required")
		}
		out := &Request{SiteKey: rr.SiteKey, Method: rr.Method, Params: rr.Params}
		if rr.NoCache {
			out.Options = &Options{NoCache: true}
		}
		return &kit.MCPDecodeResult{Request: out}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- batch ---

type batchRequest struct {
	Requests    []*Request `json:"requests"`
	Concurrency int        `json:"concurrency,omitempty"`
}

func (s *Service) registerBatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "crawl_batch",
		Description: "Invoke plugin methods on several sites concurrently. Responses keep the order of the requests.",
		InputSchema: inputSchema(map[string]any{
			"requests": map[string]any{
				"type":        "array",
				"description": "Call requests, each with siteKey, method, and optional params",
				"items":       map[string]any{"type": "object"},
			},
			"concurrency": map[string]any{"type": "integer", "description": "Max concurrent calls (default 4)"},
		}, []string{"requests"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*batchRequest)
		return s.Batch(ctx, rr.Requests, rr.Concurrency), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr batchRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if len(rr.Requests) == 0 {
			return nil, fmt.Errorf("requests must not be empty")
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
