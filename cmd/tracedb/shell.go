package main

import (
	"os"
	"os/exec"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"tracedb/internal/cli"
	"tracedb/internal/store"
)

// sqliteShell is looked up on PATH.
var sqliteShell = "sqlite3"

func newShellCmd(g *cli.Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open the sqlite3 shell on the store",
		Long: `shell loads or rebuilds the store and then runs "sqlite3 --header --column" on it.
The views augmented_method_call and method_summary are available for queries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			opts, err := s.StoreOptions()
			if err != nil {
				return err
			}
			if opts.Backend != store.SQLite {
				return errors.Newf("shell needs the sqlite backend, not %s", opts.Backend)
			}
			bin, err := exec.LookPath(sqliteShell)
			if err != nil {
				return errors.WithHint(errors.Wrapf(err, "%s not found", sqliteShell),
					"install the sqlite3 command line shell")
			}

			st, err := store.Open(cmd.Context(), s.Config.LogFile, opts)
			if err != nil {
				return err
			}
			path := st.Info().Path
			if err := st.Close(); err != nil {
				return err
			}

			sh := exec.CommandContext(cmd.Context(), bin, "--header", "--column", path)
			sh.Stdin = os.Stdin
			sh.Stdout = cmd.OutOrStdout()
			sh.Stderr = cmd.ErrOrStderr()
			return errors.Wrapf(sh.Run(), "running %s", sqliteShell)
		},
	}
}
