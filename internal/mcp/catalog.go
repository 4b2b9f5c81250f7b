package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// catalogEntry pairs mark3labs/mcp-go's schema-builder type (used purely
// as a typed JSON-schema constructor, not its transport -- SPEC_FULL.md
// §11) with the raw JSON this server actually serves for tools/list.
type catalogEntry struct {
	tool mcp.Tool
	raw  json.RawMessage
}

// buildCatalog constructs the fixed, five-tool catalog (SPEC_FULL.md §4.4).
// It is a compile-time constant in spirit: built once at startup and never
// mutated, hence tools/list always reports listChanged:false.
func buildCatalog() []catalogEntry {
	tools := []mcp.Tool{
		mcp.NewTool("create_asset",
			mcp.WithDescription("Create a new Unreal Engine asset at the given content path."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Content-browser path for the new asset, e.g. /Game/Blueprints/BP_NewActor")),
			mcp.WithString("asset_class", mcp.Required(), mcp.Description("Engine class of the asset to create, e.g. Blueprint, Material")),
		),
		mcp.NewTool("read_asset",
			mcp.WithDescription("Read a summary of an existing Unreal Engine asset."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Content-browser path of the asset to read")),
		),
		mcp.NewTool("edit_blueprint",
			mcp.WithDescription("Apply an edit to a Blueprint asset's default properties or components."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Content-browser path of the Blueprint to edit")),
			mcp.WithString("property", mcp.Required(), mcp.Description("Property path to set")),
			mcp.WithString("value", mcp.Required(), mcp.Description("New value, JSON-encoded")),
		),
		mcp.NewTool("find_node",
			mcp.WithDescription("Find a node in a Blueprint's event graph by title or type."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Content-browser path of the Blueprint to search")),
			mcp.WithString("query", mcp.Required(), mcp.Description("Node title or type substring to search for")),
		),
		mcp.NewTool("edit_graph",
			mcp.WithDescription("Add, remove, or rewire nodes in a Blueprint's event graph."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Content-browser path of the Blueprint to edit")),
			mcp.WithString("operation", mcp.Required(), mcp.Description("One of: add_node, remove_node, connect_pins")),
			mcp.WithString("payload", mcp.Required(), mcp.Description("Operation-specific arguments, JSON-encoded")),
		),
	}

	entries := make([]catalogEntry, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t)
		if err != nil {
			// The catalog is a compile-time constant; a marshal failure here
			// is a programming error, not a runtime condition to recover from.
			panic("mcp: failed to marshal tool catalog entry: " + err.Error())
		}
		entries = append(entries, catalogEntry{tool: t, raw: raw})
	}
	return entries
}

// toolNames returns the catalog's tool-name set. handleToolsCall does not
// consult it: any non-empty tool name is forwarded to C3.
func toolNames(entries []catalogEntry) map[string]bool {
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.tool.Name] = true
	}
	return names
}
