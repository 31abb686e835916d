package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/arbor/internal/tree"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const serverVersion = "0.1.0"

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only tree queries as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.log.Info().Str("db", a.cfg.Database.Path).Msg("mcp server on stdio")
			return server.ServeStdio(newMCPServer(a))
		},
	}
}

type toolHandler = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// newMCPServer registers one tool per query. Structural errors come back as
// tool errors carrying the error kind; only transport failures are returned
// as Go errors.
func newMCPServer(a *app) *server.MCPServer {
	s := server.NewMCPServer("arbor", serverVersion, server.WithToolCapabilities(false))
	for _, t := range mcpTools(a) {
		s.AddTool(t.tool, t.handle)
	}
	return s
}

type mcpTool struct {
	tool   mcp.Tool
	handle toolHandler
}

func mcpTools(a *app) []mcpTool {
	idArg := func(desc string) mcp.ToolOption {
		return mcp.WithNumber("id", mcp.Required(), mcp.Description(desc))
	}
	return []mcpTool{
		{
			mcp.NewTool("get_node",
				mcp.WithDescription("Fetch one live category node by id"),
				idArg("Node id"),
			),
			a.toolByID(func(ctx context.Context, id int64, _ mcp.CallToolRequest) (any, error) {
				return a.engine.Get(ctx, id)
			}),
		},
		{
			mcp.NewTool("children",
				mcp.WithDescription("List the ordered children of a node; id 0 lists the roots"),
				mcp.WithNumber("id", mcp.Description("Parent node id, 0 or absent for roots")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				id := int64(req.GetFloat("id", 0))
				var (
					nodes []*tree.Node
					err   error
				)
				if id <= 0 {
					nodes, err = a.engine.Roots(ctx)
				} else {
					nodes, err = a.engine.Children(ctx, id)
				}
				return a.toolResult("children", nodes, err)
			},
		},
		{
			mcp.NewTool("path",
				mcp.WithDescription("Return the chain of nodes from the root down to the node"),
				idArg("Node id"),
			),
			a.toolByID(func(ctx context.Context, id int64, _ mcp.CallToolRequest) (any, error) {
				return a.engine.GetPathToNode(ctx, id)
			}),
		},
		{
			mcp.NewTool("descendants",
				mcp.WithDescription("List every live node below a node"),
				idArg("Node id"),
				mcp.WithNumber("depth", mcp.Description("Levels below the node, 0 for all")),
			),
			a.toolByID(func(ctx context.Context, id int64, req mcp.CallToolRequest) (any, error) {
				return a.engine.Descendants(ctx, id, int(req.GetFloat("depth", 0)))
			}),
		},
		{
			mcp.NewTool("search",
				mcp.WithDescription("Find live nodes whose name contains a term"),
				mcp.WithString("term", mcp.Required(), mcp.Description("Substring to look for")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				term, err := req.RequireString("term")
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				nodes, err := a.engine.Search(ctx, term)
				return a.toolResult("search", nodes, err)
			},
		},
		{
			mcp.NewTool("node_stats",
				mcp.WithDescription("Child, descendant and content counts for a node"),
				idArg("Node id"),
			),
			a.toolByID(func(ctx context.Context, id int64, _ mcp.CallToolRequest) (any, error) {
				return a.engine.GetStatistics(ctx, id)
			}),
		},
		{
			mcp.NewTool("tree_stats",
				mcp.WithDescription("Node counts, depth profile and content totals of the whole forest"),
			),
			func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				st, err := a.engine.GetTreeStatistics(ctx)
				return a.toolResult("tree_stats", st, err)
			},
		},
		{
			mcp.NewTool("tree",
				mcp.WithDescription("Nested document of the forest or of the subtree under root"),
				mcp.WithNumber("root", mcp.Description("Subtree root id, 0 or absent for the whole forest")),
				mcp.WithNumber("depth", mcp.Description("Levels below the root(s), 0 for all")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				rootID := optionalParent(int64(req.GetFloat("root", 0)))
				doc, err := a.engine.Export(ctx, rootID, int(req.GetFloat("depth", 0)))
				return a.toolResult("tree", doc, err)
			},
		},
	}
}

// toolByID wraps a query that takes the required "id" argument.
func (a *app) toolByID(fn func(ctx context.Context, id int64, req mcp.CallToolRequest) (any, error)) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireFloat("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if raw < 1 || raw != float64(int64(raw)) {
			return mcp.NewToolResultError(fmt.Sprintf("ValidationFailure: id %v is not a node id", raw)), nil
		}
		v, err := fn(ctx, int64(raw), req)
		return a.toolResult(req.Params.Name, v, err)
	}
}

func (a *app) toolResult(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		kind := tree.KindOf(err)
		a.log.Warn().Err(err).Str("tool", tool).Str("kind", kind).Msg("tool call failed")
		return mcp.NewToolResultError(kind + ": " + err.Error()), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
