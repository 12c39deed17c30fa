package subwatch

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/subtrack/kit"
)

// RegisterMCP registers the watcher's tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerMatchTool(srv)
	w.registerCatalogTool(srv)
	w.registerObserveTool(srv)
	w.registerUnobserveTool(srv)
	w.registerStatusTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

func (w *Watcher) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.WithRequestIDs(), kit.Logging(w.logger, name))(ep)
}

// --- match ---

type matchRequest struct {
	Text string `json:"text"`
}

type matchResponse struct {
	Matched  bool   `json:"matched"`
	Keyword  string `json:"keyword,omitempty"`
	Category string `json:"category,omitempty"`
}

func (w *Watcher) registerMatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "subwatch_match",
		Description: "Match text against the subscription keyword catalog. Returns the first phrase found in catalog order.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to scan"},
		}, []string{"text"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(matchRequest)
		m, ok := w.cat.Match(r.Text)
		if !ok {
			return matchResponse{}, nil
		}
		return matchResponse{Matched: true, Keyword: m.Keyword, Category: m.Category}, nil
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, endpoint), kit.DecodeArgs[matchRequest]())
}

// --- catalog ---

func (w *Watcher) registerCatalogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "subwatch_catalog",
		Description: "List the keyword categories and phrases in match order.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return w.cat.Categories(), nil
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, endpoint), kit.DecodeArgs[struct{}]())
}

// --- observe ---

type observeRequest struct {
	ID           string `json:"id,omitempty"`
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level,omitempty"`
}

func (w *Watcher) registerObserveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "subwatch_observe",
		Description: "Start watching a page for subscription language. Stealth 0 scans once over HTTP, 1 headless, 2 headful, auto escalates when HTTP content is insufficient.",
		InputSchema: inputSchema(map[string]any{
			"id":            map[string]any{"type": "string", "description": "Page id (generated if empty)"},
			"url":           map[string]any{"type": "string", "description": "Page URL"},
			"stealth_level": map[string]any{"type": "string", "enum": []any{"0", "1", "2", "auto"}, "description": "Fetch mode (default 1)"},
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(observeRequest)
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		id, err := w.observe(ctx, PageConfig{ID: r.ID, URL: r.URL, StealthLevel: r.StealthLevel})
		if err != nil {
			return nil, err
		}
		for _, p := range w.Status().Pages {
			if p.ID == id {
				return p, nil
			}
		}
		return PageStatus{ID: id, URL: r.URL}, nil
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, endpoint), kit.DecodeArgs[observeRequest]())
}

// --- unobserve ---

type unobserveRequest struct {
	ID string `json:"id"`
}

func (w *Watcher) registerUnobserveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "subwatch_unobserve",
		Description: "Stop watching a page.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Page id"},
		}, []string{"id"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(unobserveRequest)
		w.StopPage(r.ID)
		return map[string]any{"id": r.ID, "stopped": true}, nil
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, endpoint), kit.DecodeArgs[unobserveRequest]())
}

// --- status ---

func (w *Watcher) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "subwatch_status",
		Description: "Report watched pages, scan counters and delivery counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return w.Status(), nil
	}
	kit.RegisterMCPTool(srv, tool, w.endpoint(tool.Name, endpoint), kit.DecodeArgs[struct{}]())
}
