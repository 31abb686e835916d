package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/agentic-research/arbor/internal/engine"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/spf13/cobra"
)

func newNodeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "node",
		Short: "Create, change and query category nodes",
	}
	c.AddCommand(
		newNodeCreateCmd(a),
		newNodeGetCmd(a),
		newNodeUpdateCmd(a),
		newNodeMoveCmd(a),
		newNodeReorderCmd(a),
		newNodeDeleteCmd(a),
		newNodeContentCmd(a),
		newNodeChildrenCmd(a),
		newNodePathCmd(a),
		newNodeDescendantsCmd(a),
		newNodeSearchCmd(a),
		newNodeStatsCmd(a),
	)
	return c
}

func newNodeCreateCmd(a *app) *cobra.Command {
	var (
		in       engine.CreateInput
		parent   int64
		typeCode string
	)
	c := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a node under --parent (a root when omitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			typeID, err := a.typeID(ctx, typeCode)
			if err != nil {
				return err
			}
			in.Name, in.TypeID, in.ParentID = args[0], typeID, optionalParent(parent)

			n, err := a.engine.Create(ctx, a.actor, in)
			if err != nil {
				a.audit("create", 0, err)
				return err
			}
			a.audit("create", n.ID, nil)
			return a.emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNode(w, n) })
		},
	}
	fl := c.Flags()
	fl.Int64VarP(&parent, "parent", "p", 0, "Parent node id (0 for a root)")
	fl.StringVar(&in.Code, "code", "", "Business code, unique among siblings")
	fl.StringVarP(&in.Description, "description", "d", "", "Description")
	fl.StringVarP(&typeCode, "type", "t", engine.DefaultTypeCode, "Node type code")
	fl.IntVar(&in.OrderIndex, "order", 0, "Order index among siblings (0 appends)")
	fl.BoolVar(&in.Hidden, "hidden", false, "Create invisible")
	fl.BoolVar(&in.Inactive, "inactive", false, "Create inactive")
	return c
}

func newNodeGetCmd(a *app) *cobra.Command {
	var (
		code   string
		parent int64
	)
	c := &cobra.Command{
		Use:   "get [ID]",
		Short: "Show a node by id, or by --code within --parent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				n   *tree.Node
				err error
			)
			switch {
			case len(args) == 1:
				id, perr := parseID(args[0])
				if perr != nil {
					return perr
				}
				n, err = a.engine.Get(ctx, id)
			case code != "":
				n, err = a.engine.GetByCode(ctx, optionalParent(parent), code)
			default:
				return fmt.Errorf("node get needs an id or --code: %w", tree.ErrValidation)
			}
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNode(w, n) })
		},
	}
	c.Flags().StringVar(&code, "code", "", "Look up by business code")
	c.Flags().Int64VarP(&parent, "parent", "p", 0, "Scope of --code (0 for roots)")
	return c
}

func newNodeUpdateCmd(a *app) *cobra.Command {
	var (
		code, name, desc, typeCode string
		active, visible            bool
		version                    int64
	)
	c := &cobra.Command{
		Use:   "update ID",
		Short: "Change content fields of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			in := engine.UpdateInput{Version: version}
			if fl.Changed("code") {
				in.Code = &code
			}
			if fl.Changed("name") {
				in.Name = &name
			}
			if fl.Changed("description") {
				in.Description = &desc
			}
			if fl.Changed("type") {
				typeID, err := a.typeID(ctx, typeCode)
				if err != nil {
					return err
				}
				in.TypeID = &typeID
			}
			if fl.Changed("active") {
				in.IsActive = &active
			}
			if fl.Changed("visible") {
				in.IsVisible = &visible
			}

			n, err := a.engine.Update(ctx, a.actor, id, in)
			a.audit("update", id, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNode(w, n) })
		},
	}
	fl := c.Flags()
	fl.StringVar(&code, "code", "", "New business code (empty clears it)")
	fl.StringVarP(&name, "name", "n", "", "New name")
	fl.StringVarP(&desc, "description", "d", "", "New description")
	fl.StringVarP(&typeCode, "type", "t", "", "New node type code")
	fl.BoolVar(&active, "active", true, "Set the active flag")
	fl.BoolVar(&visible, "visible", true, "Set the visible flag")
	fl.Int64Var(&version, "version", 0, "Expected version (0 skips the check)")
	return c
}

func newNodeMoveCmd(a *app) *cobra.Command {
	var (
		parent int64
		in     engine.MoveInput
	)
	c := &cobra.Command{
		Use:   "move ID",
		Short: "Move a node and its subtree under --parent (0 for the root scope)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			in.ParentID = optionalParent(parent)
			n, err := a.engine.Move(cmd.Context(), a.actor, id, in)
			a.audit("move", id, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNode(w, n) })
		},
	}
	fl := c.Flags()
	fl.Int64VarP(&parent, "parent", "p", 0, "New parent id (0 for the root scope)")
	fl.IntVar(&in.OrderIndex, "order", 0, "Order index in the new scope (0 appends)")
	fl.Int64Var(&in.Version, "version", 0, "Expected version (0 skips the check)")
	return c
}

func newNodeReorderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder PARENT ID...",
		Short: "Renumber the children of PARENT (0 for roots), listed ids first",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || parent < 0 {
				return fmt.Errorf("parent id %q: %w", args[0], tree.ErrValidation)
			}
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			nodes, err := a.engine.Reorder(cmd.Context(), a.actor, optionalParent(parent), ids)
			a.audit("reorder", parent, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), nodes, func(w io.Writer) { printNodes(w, nodes) })
		},
	}
}

func newNodeDeleteCmd(a *app) *cobra.Command {
	var cascade bool
	c := &cobra.Command{
		Use:   "delete ID",
		Short: "Soft-delete a node; --cascade removes its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			count, err := a.engine.Delete(cmd.Context(), a.actor, id, cascade)
			a.audit("delete", id, err)
			if err != nil {
				return err
			}
			res := struct {
				Deleted int `json:"deleted"`
			}{count}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %d node(s)\n", count)
			})
		},
	}
	c.Flags().BoolVar(&cascade, "cascade", false, "Delete descendants too")
	return c
}

func newNodeContentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "content ID COUNT",
		Short: "Set the linked-content counter of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("content count %q: %w", args[1], tree.ErrValidation)
			}
			n, err := a.engine.SetContentCount(cmd.Context(), a.actor, id, count)
			a.audit("content", id, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNode(w, n) })
		},
	}
}

func newNodeChildrenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "children [ID]",
		Short: "List the children of ID in order, or the roots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				nodes []*tree.Node
				err   error
			)
			if len(args) == 0 || args[0] == "0" {
				nodes, err = a.engine.Roots(ctx)
			} else {
				id, perr := parseID(args[0])
				if perr != nil {
					return perr
				}
				nodes, err = a.engine.Children(ctx, id)
			}
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), nodes, func(w io.Writer) { printNodes(w, nodes) })
		},
	}
}

func newNodePathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "path ID",
		Aliases: []string{"ancestors"},
		Short:   "Show the chain from the root down to ID",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			chain, err := a.engine.GetPathToNode(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), chain, func(w io.Writer) {
				for i, n := range chain {
					if i > 0 {
						fmt.Fprint(w, " > ")
					}
					fmt.Fprint(w, n.Name)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

func newNodeDescendantsCmd(a *app) *cobra.Command {
	var depth int
	c := &cobra.Command{
		Use:   "descendants ID",
		Short: "List every node below ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			nodes, err := a.engine.Descendants(cmd.Context(), id, depth)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), nodes, func(w io.Writer) { printNodes(w, nodes) })
		},
	}
	c.Flags().IntVar(&depth, "depth", 0, "Levels below ID to include (0 for all)")
	return c
}

func newNodeSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search TERM",
		Short: "Find live nodes whose name contains TERM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := a.engine.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), nodes, func(w io.Writer) { printNodes(w, nodes) })
		},
	}
}

func newNodeStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats ID",
		Short: "Show child, descendant and content counts for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.engine.GetStatistics(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "node %d: depth %d, %d children, %d descendants, leaf=%v\n",
					st.NodeID, st.Depth, st.ChildCount, st.DescendantCount, st.IsLeaf)
				fmt.Fprintf(w, "content: %d own, %d in subtree\n", st.ContentCount, st.SubtreeContentCount)
			})
		},
	}
}

// ---------------------------------------------------------------------------
// Text rendering
// ---------------------------------------------------------------------------

func printNode(w io.Writer, n *tree.Node) {
	code := n.Code
	if code == "" {
		code = "-"
	}
	fmt.Fprintf(w, "%d\t%s\t%s\torder=%d depth=%d path=%q v%d", n.ID, code, n.Name, n.OrderIndex, n.Depth, n.Path, n.Version)
	if !n.IsActive {
		fmt.Fprint(w, " inactive")
	}
	if !n.IsVisible {
		fmt.Fprint(w, " hidden")
	}
	fmt.Fprintln(w)
}

func printNodes(w io.Writer, nodes []*tree.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, n := range nodes {
		printNode(w, n)
	}
}
