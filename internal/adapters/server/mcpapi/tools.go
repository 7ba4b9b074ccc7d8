package mcpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/adapters/server/common"
	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// saveEnvironmentArgs is the argument shape of `blockenv.save_environment`.
type saveEnvironmentArgs struct {
	LayoutID       string            `json:"layout_id"`
	OrganisationID string            `json:"organisation_id"`
	Version        int64             `json:"version"`
	Operations     domain.Operations `json:"operations"`
	common.ActorTuple
}

// actorOptions returns the shared actor attribution arguments.
func actorOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("actor_id", mcp.Description("Caller identity recorded in the activity log")),
		mcp.WithString("actor_type", mcp.Description("user|agent"), mcp.Enum("user", "agent")),
		mcp.WithString("roles", mcp.Description("Comma-separated organisation=role pairs, e.g. org-1=editor")),
	}
}

// registerSaveTool registers `blockenv.save_environment`.
func registerSaveTool(srv *mcpserver.MCPServer, env common.EnvironmentService) {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Apply one batch of block operations to a layout. A stale version returns a conflict result without writing."),
		mcp.WithString("layout_id", mcp.Required(), mcp.Description("Layout identifier")),
		mcp.WithString("organisation_id", mcp.Required(), mcp.Description("Organisation owning the layout")),
		mcp.WithNumber("version", mcp.Required(), mcp.Description("Client layout version; must exceed the stored version")),
		mcp.WithArray("operations", mcp.Required(), mcp.Description("Operation envelopes: {type: ADD|UPDATE|MOVE|REORDER|REMOVE, block_id, timestamp, ...}"), mcp.Items(map[string]any{"type": "object"})),
	}
	srv.AddTool(
		mcp.NewTool("blockenv.save_environment", append(opts, actorOptions()...)...),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args saveEnvironmentArgs
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.LayoutID) == "" {
				return invalidRequestToolResult(fmt.Errorf("layout_id is required")), nil
			}
			ctx, err := common.WithActor(ctx, args.ActorTuple)
			if err != nil {
				return toolResultFromError(err), nil
			}
			saved, err := env.Save(ctx, app.SaveRequest{
				LayoutID:       args.LayoutID,
				OrganisationID: args.OrganisationID,
				Version:        args.Version,
				Operations:     args.Operations,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(saved)
			if err != nil {
				return nil, fmt.Errorf("encode save_environment result: %w", err)
			}
			return result, nil
		},
	)
}

// registerLayoutTools registers layout creation and read tools.
func registerLayoutTools(srv *mcpserver.MCPServer, env common.EnvironmentService) {
	srv.AddTool(
		mcp.NewTool(
			"blockenv.create_layout",
			mcp.WithDescription("Create an empty layout at version 0."),
			mcp.WithString("organisation_id", mcp.Required(), mcp.Description("Organisation owning the layout")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			organisationID, err := req.RequireString("organisation_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			layout, err := env.CreateLayout(ctx, organisationID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewLayoutView(layout))
			if err != nil {
				return nil, fmt.Errorf("encode create_layout result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"blockenv.layout_tree",
			mcp.WithDescription("Return every root block of a layout with its ordered descendants."),
			mcp.WithString("layout_id", mcp.Required(), mcp.Description("Layout identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			layoutID, err := req.RequireString("layout_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			nodes, err := env.LayoutTree(ctx, layoutID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			views, err := common.NewTreeView(nodes)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"blocks": views})
			if err != nil {
				return nil, fmt.Errorf("encode layout_tree result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"blockenv.list_activity",
			mcp.WithDescription("List the newest activity rows of a layout."),
			mcp.WithString("layout_id", mcp.Required(), mcp.Description("Layout identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows (default 50)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			layoutID, err := req.RequireString("layout_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			rows, err := env.ListActivity(ctx, layoutID, req.GetInt("limit", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"activity": common.NewActivityViews(rows)})
			if err != nil {
				return nil, fmt.Errorf("encode list_activity result: %w", err)
			}
			return result, nil
		},
	)
}

// registerBlockTools registers per-block read tools.
func registerBlockTools(srv *mcpserver.MCPServer, env common.EnvironmentService) {
	srv.AddTool(
		mcp.NewTool(
			"blockenv.list_children",
			mcp.WithDescription("List the ordered child edges of one block."),
			mcp.WithString("parent_id", mcp.Required(), mcp.Description("Parent block identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			parentID, err := req.RequireString("parent_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			edges, err := env.ListChildren(ctx, parentID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"children": edges})
			if err != nil {
				return nil, fmt.Errorf("encode list_children result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"blockenv.find_references",
			mcp.WithDescription("Resolve the references declared by one block's payload, with warnings for missing or lazy entries."),
			mcp.WithString("block_id", mcp.Required(), mcp.Description("Block identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			blockID, err := req.RequireString("block_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			refs, err := env.ResolveReferences(ctx, blockID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"references": refs})
			if err != nil {
				return nil, fmt.Errorf("encode find_references result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"blockenv.preview_cascade",
			mcp.WithDescription("Return the blocks and edges a removal of block_id would delete."),
			mcp.WithString("block_id", mcp.Required(), mcp.Description("Block identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			blockID, err := req.RequireString("block_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			plan, err := env.PreviewCascade(ctx, blockID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewCascadeView(plan))
			if err != nil {
				return nil, fmt.Errorf("encode preview_cascade result: %w", err)
			}
			return result, nil
		},
	)
}
