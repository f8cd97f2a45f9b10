package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracedb/internal/calltree"
	"tracedb/internal/store"
)

// startWith runs a command that only calls Start and returns its session.
func startWith(t *testing.T, args ...string) (*Session, string, error) {
	t.Helper()
	var (
		g       Globals
		session *Session
		errs    bytes.Buffer
	)
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			session = s
			return err
		},
	}
	g.Register(cmd.PersistentFlags())
	g.RegisterLogFile(cmd.PersistentFlags())
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errs)
	err := cmd.Execute()
	return session, errs.String(), err
}

func TestStartDefaults(t *testing.T) {
	s, _, err := startWith(t)
	require.NoError(t, err)
	assert.Equal(t, "logs/trace.log", s.Config.LogFile)
	assert.False(t, s.Reload)

	opts, err := s.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, store.SQLite, opts.Backend)
	assert.Equal(t, calltree.Options{}, opts.Reconstruct)
	assert.NotNil(t, opts.Metrics)
}

func TestStartFlagsOverrideConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tracedb.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logfile = \"from-file.log\"\nbackend = \"pebble\"\nstack_per_trace = true\n"), 0o644))

	s, _, err := startWith(t, "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "from-file.log", s.Config.LogFile)
	assert.Equal(t, "pebble", s.Config.Backend)
	assert.True(t, s.Config.StackPerTrace)

	s, _, err = startWith(t, "--config", cfgPath, "--logfile", "flag.log", "--backend", "sqlite",
		"--stack-per-trace=false", "--reload")
	require.NoError(t, err)
	assert.Equal(t, "flag.log", s.Config.LogFile)
	assert.Equal(t, "sqlite", s.Config.Backend)
	assert.False(t, s.Config.StackPerTrace)
	assert.True(t, s.Reload)
}

func TestStartRejectsBadValues(t *testing.T) {
	_, _, err := startWith(t, "--backend", "bolt")
	assert.ErrorContains(t, err, "unknown backend")

	_, _, err = startWith(t, "--color", "always")
	assert.ErrorContains(t, err, "invalid color mode")

	_, _, err = startWith(t, "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLogMetrics(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(logPath, []byte("{traceId=a} -> m: x\n{traceId=a} <- 3ns m: y\n"), 0o644))

	var (
		g    Globals
		errs bytes.Buffer
	)
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			st, err := s.OpenStore(context.Background(), logPath)
			if err != nil {
				return err
			}
			s.LogMetrics()
			return st.Close()
		},
	}
	g.Register(cmd.PersistentFlags())
	cmd.SetArgs([]string{"--verbose"})
	cmd.SetErr(&errs)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errs.String(), "DEBUG: tracedb_calls_total value=1\n")
	assert.Contains(t, errs.String(), "DEBUG: tracedb_rebuilds_total value=1 reason=missing\n")
	assert.NotContains(t, errs.String(), "tracedb_store_reuses_total")
}

func TestExecuteReportsOneErrorLine(t *testing.T) {
	var (
		g    Globals
		errs bytes.Buffer
	)
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.Start(cmd); err != nil {
				return err
			}
			return errors.WithHint(errors.New("it broke"), "try again")
		},
	}
	g.Register(cmd.PersistentFlags())
	cmd.SetArgs([]string{})
	cmd.SetErr(&errs)

	assert.Equal(t, 1, g.Execute(cmd, &errs))
	assert.Equal(t, "ERROR: it broke hint=\"try again\"\n", errs.String())

	errs.Reset()
	var g2 Globals
	bad := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	g2.Register(bad.PersistentFlags())
	bad.SetArgs([]string{"--no-such-flag"})
	bad.SetErr(&errs)
	assert.Equal(t, 1, g2.Execute(bad, &errs))
	assert.Contains(t, errs.String(), "ERROR: unknown flag: --no-such-flag")
}
