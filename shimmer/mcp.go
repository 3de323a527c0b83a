package shimmer

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shimmer/kit"
	"github.com/hazyhaar/shimmer/skeleton"
)

// RegisterMCP registers the shimmer tools on srv.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerMeasureTool(srv)
	e.registerConfigTool(srv)
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

func overrideSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"shimmer_color":      map[string]any{"type": "string", "description": "CSS colour of the sweep"},
			"background_color":   map[string]any{"type": "string", "description": "CSS colour of each block"},
			"duration_seconds":   map[string]any{"type": "number", "description": "Sweep period, > 0"},
			"fallback_radius_px": map[string]any{"type": "number", "description": "Radius for leaves without one, >= 0"},
		},
	}
}

func (e *Engine) registerMeasureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "shimmer_measure",
		Description: "Measure HTML content off-screen and return the skeleton placeholder for it: " +
			"leaf geometry, shimmer blocks and the HTML view to mount while loading.",
		InputSchema: inputSchema(map[string]any{
			"fragments": map[string]any{
				"type":        "array",
				"description": "Top-level content nodes; each sets exactly one of html, text, template",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"html":     map[string]any{"type": "string"},
						"text":     map[string]any{"type": "string"},
						"template": map[string]any{"type": "string", "description": "Go html/template source"},
						"inputs":   map[string]any{"type": "object"},
					},
				},
			},
			"loading":       map[string]any{"type": "boolean", "description": "Default true"},
			"template_data": map[string]any{"type": "object", "description": "Placeholder values for the first fragment"},
			"config":        overrideSchema(),
			"width":         map[string]any{"type": "integer", "description": "Layout width in CSS pixels"},
		}, []string{"fragments"}),
	}

	endpoint := kit.Chain(kit.Logging("shimmer_measure"), kit.Timeout(e.requestTimeout()))(e.measureEndpoint)
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[Request]())
}

type configReq struct {
	Override skeleton.Override `json:"override"`
}

func (e *Engine) registerConfigTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "shimmer_config",
		Description: "Resolve an optional override against the ambient shimmer configuration and the defaults.",
		InputSchema: inputSchema(map[string]any{
			"override": overrideSchema(),
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*configReq)
		return e.Resolve(ctx, r.Override), nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[configReq]())
}
