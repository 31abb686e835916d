package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentic-research/arbor/internal/engine"
	"github.com/agentic-research/arbor/internal/ingest"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/spf13/cobra"
)

func newTreeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "tree",
		Short: "Whole-tree views, maintenance and import/export",
	}
	c.AddCommand(
		newTreeShowCmd(a),
		newTreeStatsCmd(a),
		newTreeCheckCmd(a),
		newTreeRebuildCmd(a),
		newTreeExportCmd(a),
		newTreeImportCmd(a),
	)
	return c
}

// rootArg reads an optional subtree root; absent or "0" is the whole forest.
func rootArg(args []string) (*int64, error) {
	if len(args) == 0 || args[0] == "0" {
		return nil, nil
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func newTreeShowCmd(a *app) *cobra.Command {
	var depth int
	c := &cobra.Command{
		Use:   "show [ID]",
		Short: "Print the forest, or the subtree under ID, as an indented outline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := rootArg(args)
			if err != nil {
				return err
			}
			if a.json {
				doc, err := a.engine.Export(cmd.Context(), rootID, depth)
				if err != nil {
					return err
				}
				return a.emit(cmd.OutOrStdout(), doc, nil)
			}
			f, err := a.engine.GetTree(cmd.Context(), rootID, depth)
			if err != nil {
				return err
			}
			printForest(cmd.OutOrStdout(), f)
			return nil
		},
	}
	c.Flags().IntVar(&depth, "depth", 0, "Levels below the root(s) to include (0 for all)")
	return c
}

func newTreeStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node counts, depth profile and content totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.engine.GetTreeStatistics(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "nodes: %d (%d active), roots: %d, max depth: %d\n",
					st.TotalNodes, st.ActiveNodes, st.RootCount, st.MaxDepth)
				for level, n := range st.NodesPerLevel {
					fmt.Fprintf(w, "  depth %d: %d\n", level, n)
				}
				fmt.Fprintf(w, "content: %d total, %.2f per node\n", st.TotalContent, st.AverageContent)
			})
		},
	}
}

func newTreeCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report structural violations without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := a.engine.CheckConsistency(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.emit(cmd.OutOrStdout(), vs, func(w io.Writer) {
				if len(vs) == 0 {
					fmt.Fprintln(w, "ok")
				}
				for _, v := range vs {
					fmt.Fprintf(w, "%d\t%s\t%s\n", v.NodeID, v.Kind, v.Detail)
				}
			}); err != nil {
				return err
			}
			if len(vs) > 0 {
				a.log.Warn().Int("violations", len(vs)).Msg("consistency check failed")
				return fmt.Errorf("%d violation(s) found: %w", len(vs), tree.ErrValidation)
			}
			return nil
		},
	}
}

func newTreeRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute every path and depth from the parent pointers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.engine.RebuildPaths(cmd.Context(), a.actor)
			a.audit("rebuild", 0, err)
			if err != nil {
				return err
			}
			if len(rep.Unreachable) > 0 {
				a.log.Warn().Interface("ids", rep.Unreachable).Msg("nodes unreachable from any root")
			}
			return a.emit(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "scanned %d, repaired %d, unreachable %d\n", rep.Scanned, rep.Repaired, len(rep.Unreachable))
			})
		},
	}
}

func newTreeExportCmd(a *app) *cobra.Command {
	var (
		depth int
		out   string
	)
	c := &cobra.Command{
		Use:   "export [ID]",
		Short: "Write the forest, or the subtree under ID, as a JSON document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, err := rootArg(args)
			if err != nil {
				return err
			}
			doc, err := a.engine.Export(cmd.Context(), rootID, depth)
			if err != nil {
				return err
			}
			b, err := ingest.Encode(doc)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			a.log.Info().Str("file", out).Int("nodes", doc.Count()).Msg("exported")
			return nil
		},
	}
	c.Flags().IntVar(&depth, "depth", 0, "Levels below the root(s) to include (0 for all)")
	c.Flags().StringVarP(&out, "output", "o", "", "Output file (stdout when empty)")
	return c
}

func newTreeImportCmd(a *app) *cobra.Command {
	var (
		parent      int64
		selector    string
		defaultType string
	)
	c := &cobra.Command{
		Use:   "import FILE",
		Short: "Create the nodes of a JSON document under --parent; existing siblings are reused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := ingest.DecodeFile(args[0], selector)
			if err != nil {
				return fmt.Errorf("%w: %w", tree.ErrValidation, err)
			}
			rep, err := a.engine.Import(cmd.Context(), a.actor, optionalParent(parent), nodes, defaultType)
			a.audit("import", parent, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "created %d, reused %d\n", rep.Created, rep.Reused)
			})
		},
	}
	fl := c.Flags()
	fl.Int64VarP(&parent, "parent", "p", 0, "Parent node id (0 for the root scope)")
	fl.StringVarP(&selector, "select", "s", "", "JSONPath selecting the node(s) to import")
	fl.StringVarP(&defaultType, "default-type", "t", engine.DefaultTypeCode, "Type code for nodes that name none")
	return c
}

func printForest(w io.Writer, f *tree.Forest) {
	if f.Len() == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}
	f.Walk(func(n *tree.Node, level int) bool {
		label := n.Name
		if n.Code != "" {
			label = fmt.Sprintf("%s [%s]", n.Name, n.Code)
		}
		fmt.Fprintf(w, "%s%s (#%d)\n", strings.Repeat("  ", level), label, n.ID)
		return true
	})
}
