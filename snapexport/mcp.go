package snapexport

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapexport/kit"
	"github.com/hazyhaar/snapexport/snapexport/internal/pdfpack"
)

// RegisterMCP registers the export tools on an MCP server.
func (e *Exporter) RegisterMCP(srv *mcp.Server) {
	e.registerExportTool(srv, KindRaster, "snapexport_raster",
		"Capture one element of a web page, by id, as a PNG at twice the device resolution.")
	e.registerExportTool(srv, KindDocument, "snapexport_document",
		"Capture one element of a web page, by id, as a single-page A4 PDF.")
	e.registerLayoutTool(srv)
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

// --- export ---

func (e *Exporter) registerExportTool(srv *mcp.Server, kind Kind, name, description string) {
	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "Page to open (http or https)"},
			"region": map[string]any{"type": "string", "description": "id attribute of the element to capture (default: poll-detail)"},
			"name":   map[string]any{"type": "string", "description": "Artifact base name without extension (default: poll-results)"},
		}, []string{"url"}),
	}

	endpoint := kit.Chain(
		kit.WithRequestIDs(nil),
		kit.Logging(e.logger, name),
	)(e.exportEndpoint(kind))

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r exportReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- layout ---

type layoutReq struct {
	Width  int `json:"width_px"`
	Height int `json:"height_px"`
}

func (e *Exporter) registerLayoutTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapexport_layout",
		Description: "Compute where a bitmap of the given pixel size lands on the configured PDF page (scale, offsets, size in mm).",
		InputSchema: inputSchema(map[string]any{
			"width_px":  map[string]any{"type": "integer", "description": "Bitmap width in pixels"},
			"height_px": map[string]any{"type": "integer", "description": "Bitmap height in pixels"},
		}, []string{"width_px", "height_px"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*layoutReq)
		return pdfpack.Fit(r.Width, r.Height, e.pipe.page)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r layoutReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
