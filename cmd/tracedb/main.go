// Command tracedb loads an engine trace log into a call store and queries it.
//
// Without a sub-command it only makes sure the store of --logfile is up to date,
// rebuilding it when the log is newer or when --reload is given.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"tracedb/internal/cli"
)

func main() {
	var g cli.Globals
	os.Exit(g.Execute(newRootCmd(&g), os.Stderr))
}

func newRootCmd(g *cli.Globals) *cobra.Command {
	root := &cobra.Command{
		Use:   "tracedb",
		Short: "Load an engine trace log into a queryable call store",
		Long: `tracedb reconstructs the nested method calls of a trace log and keeps them in a
store next to the log (<logfile>.db), rebuilding it only when the log changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			st, err := s.OpenStore(cmd.Context(), s.Config.LogFile)
			if err != nil {
				return err
			}
			s.LogMetrics()
			return st.Close()
		},
	}
	g.Register(root.PersistentFlags())
	g.RegisterLogFile(root.PersistentFlags())

	root.AddCommand(newSummaryCmd(g))
	root.AddCommand(newTreeCmd(g))
	root.AddCommand(newShellCmd(g))
	return root
}
