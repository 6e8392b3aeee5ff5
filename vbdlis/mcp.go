package vbdlis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lisq/kit"
)

// RegisterMCP registers the vbdlis tools on an MCP server.
func RegisterMCP(srv *mcp.Server, svc *Service) {
	registerSearchTool(srv, svc)
	registerCachedAtTool(srv, svc)
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

// --- search ---

func registerSearchTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name:        "vbdlis_search",
		Description: "Search VBDLIS land-use certificates by document number (CMND/CCCD), batched, cached.",
		InputSchema: inputSchema(map[string]any{
			"username": map[string]any{"type": "string", "description": "VBDLIS account"},
			"password": map[string]any{"type": "string", "description": "VBDLIS password"},
			"server":   map[string]any{"type": "string", "description": "Portal URL override"},
			"soGiayToList": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Document numbers to search",
			},
			"tinhId":       map[string]any{"type": "integer", "description": "Province filter"},
			"responseMode": map[string]any{"type": "string", "enum": []string{"full", "summary", "compact"}},
			"maxAgeDays":   map[string]any{"type": "integer", "description": "Accept cached results up to this many days old"},
			"refresh":      map[string]any{"type": "boolean", "description": "Bypass the cache and re-query the portal"},
		}, []string{"username", "password", "soGiayToList"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*BatchRequest)
		return svc.Search(ctx, *r)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r BatchRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &r,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithTransport(ctx, "mcp")
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- cached-at ---

type cachedAtReq struct {
	SoGiayTo string `json:"soGiayTo"`
}

func registerCachedAtTool(srv *mcp.Server, svc *Service) {
	tool := &mcp.Tool{
		Name:        "vbdlis_cached_at",
		Description: "Return when a document number's search result was last fetched from VBDLIS.",
		InputSchema: inputSchema(map[string]any{
			"soGiayTo": map[string]any{"type": "string", "description": "Document number"},
		}, []string{"soGiayTo"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*cachedAtReq)
		at, err := svc.CachedAt(ctx, r.SoGiayTo)
		if errors.Is(err, ErrNotCached) {
			return map[string]any{"soGiayTo": r.SoGiayTo, "cached": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"soGiayTo": r.SoGiayTo,
			"cached":   true,
			"cachedAt": at,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r cachedAtReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
