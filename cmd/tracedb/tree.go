package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tracedb/internal/calltree"
	"tracedb/internal/cli"
	"tracedb/internal/render"
	"tracedb/internal/store"
)

func newTreeCmd(g *cli.Globals) *cobra.Command {
	var (
		root  int64
		depth int
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the call forest with inclusive and own time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			st, err := s.OpenStore(cmd.Context(), s.Config.LogFile)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			ctx := cmd.Context()
			if root == int64(calltree.NoParent) {
				return printChildren(ctx, w, st, calltree.NoParent, 0, depth)
			}
			c, err := st.Call(ctx, calltree.ID(root))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, render.TreeLine(0, c)); err != nil {
				return err
			}
			return printChildren(ctx, w, st, c.ID, 1, depth)
		},
	}
	cmd.Flags().Int64Var(&root, "root", 0, "only print the subtree of this call ID")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum depth to print (0 for all)")
	return cmd
}

func printChildren(ctx context.Context, w io.Writer, st store.Store, parent calltree.ID, level, maxDepth int) error {
	if maxDepth > 0 && level >= maxDepth {
		return nil
	}
	children, err := st.Children(ctx, parent)
	if err != nil {
		return err
	}
	for i := range children {
		c := &children[i]
		if _, err := fmt.Fprintln(w, render.TreeLine(level, c)); err != nil {
			return err
		}
		if err := printChildren(ctx, w, st, c.ID, level+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}
