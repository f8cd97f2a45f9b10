package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tracedb/internal/cli"
	"tracedb/internal/render"
	"tracedb/internal/rollup"
)

func newSummaryCmd(g *cli.Globals) *cobra.Command {
	var (
		orderBy string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "method-summary",
		Aliases: []string{"method_summary"},
		Short:   "Rank methods by total time, total own time or call count",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("order-by") {
				orderBy = s.Config.Summary.OrderBy
			}
			if !cmd.Flags().Changed("limit") {
				limit = s.Config.Summary.Limit
			}
			// Arguments are checked before the store is touched.
			metric, err := rollup.ParseMetric(orderBy)
			if err != nil {
				return err
			}
			if err := rollup.CheckLimit(limit); err != nil {
				return err
			}

			st, err := s.OpenStore(cmd.Context(), s.Config.LogFile)
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.MethodSummary(cmd.Context(), metric, limit)
			if err != nil {
				return err
			}
			s.LogMetrics()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.SummaryTable(rows))
			return err
		},
	}
	cmd.Flags().StringVarP(&orderBy, "order-by", "o", rollup.CallCount.String(),
		"metric to rank by ("+strings.Join(rollup.MetricNames(), "|")+")")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of methods to show")
	return cmd
}
