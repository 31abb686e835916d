package cmd

import (
	"fmt"
	"io"

	"github.com/agentic-research/arbor/internal/engine"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/spf13/cobra"
)

func newTypeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "type",
		Short: "Manage the node type registry",
	}
	c.AddCommand(newTypeCreateCmd(a), newTypeListCmd(a), newTypeGetCmd(a), newTypeUpdateCmd(a), newTypeDeleteCmd(a))
	return c
}

func newTypeCreateCmd(a *app) *cobra.Command {
	var (
		in   engine.TypeInput
		leaf bool
	)
	c := &cobra.Command{
		Use:   "create CODE NAME",
		Short: "Register a node type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Code, in.Name, in.AllowsChildren = args[0], args[1], !leaf
			nt, err := a.engine.CreateType(cmd.Context(), a.actor, in)
			if err != nil {
				a.audit("type.create", 0, err)
				return err
			}
			a.audit("type.create", nt.ID, nil)
			return a.emit(cmd.OutOrStdout(), nt, func(w io.Writer) { printType(w, nt) })
		},
	}
	fl := c.Flags()
	fl.StringVarP(&in.Description, "description", "d", "", "Description")
	fl.BoolVar(&leaf, "leaf", false, "Nodes of this type cannot have children")
	fl.BoolVar(&in.Hidden, "hidden", false, "Create invisible")
	fl.BoolVar(&in.Inactive, "inactive", false, "Create inactive")
	return c
}

func newTypeListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := a.engine.ListTypes(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), types, func(w io.Writer) {
				for _, nt := range types {
					printType(w, nt)
				}
			})
		},
	}
}

func newTypeGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get CODE",
		Short: "Show a node type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nt, err := a.engine.GetTypeByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), nt, func(w io.Writer) { printType(w, nt) })
		},
	}
}

func newTypeUpdateCmd(a *app) *cobra.Command {
	var (
		name, desc                string
		children, active, visible bool
		version                   int64
	)
	c := &cobra.Command{
		Use:   "update CODE",
		Short: "Change a node type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nt, err := a.engine.GetTypeByCode(ctx, args[0])
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			in := engine.TypeUpdate{Version: version}
			if fl.Changed("name") {
				in.Name = &name
			}
			if fl.Changed("description") {
				in.Description = &desc
			}
			if fl.Changed("allows-children") {
				in.AllowsChildren = &children
			}
			if fl.Changed("active") {
				in.IsActive = &active
			}
			if fl.Changed("visible") {
				in.IsVisible = &visible
			}
			out, err := a.engine.UpdateType(ctx, a.actor, nt.ID, in)
			a.audit("type.update", nt.ID, err)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), out, func(w io.Writer) { printType(w, out) })
		},
	}
	fl := c.Flags()
	fl.StringVarP(&name, "name", "n", "", "New name")
	fl.StringVarP(&desc, "description", "d", "", "New description")
	fl.BoolVar(&children, "allows-children", true, "Whether nodes of the type may have children")
	fl.BoolVar(&active, "active", true, "Set the active flag")
	fl.BoolVar(&visible, "visible", true, "Set the visible flag")
	fl.Int64Var(&version, "version", 0, "Expected version (0 skips the check)")
	return c
}

func newTypeDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CODE",
		Short: "Remove a user-defined node type no live node uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nt, err := a.engine.GetTypeByCode(ctx, args[0])
			if err != nil {
				return err
			}
			err = a.engine.DeleteType(ctx, a.actor, nt.ID)
			a.audit("type.delete", nt.ID, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted type %s\n", nt.Code)
			return nil
		},
	}
}

func printType(w io.Writer, nt *tree.NodeType) {
	fmt.Fprintf(w, "%d\t%s\t%s\tchildren=%v active=%v visible=%v", nt.ID, nt.Code, nt.Name, nt.AllowsChildren, nt.IsActive, nt.IsVisible)
	if nt.IsSystem {
		fmt.Fprint(w, " system")
	}
	fmt.Fprintln(w)
}
