// Command traceindex loads or rebuilds the call store of every trace log under a
// directory, several logs at a time.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tracedb/internal/cli"
	"tracedb/internal/render"
	"tracedb/internal/store"
)

func main() {
	var g cli.Globals
	os.Exit(g.Execute(newRootCmd(&g), os.Stderr))
}

func newRootCmd(g *cli.Globals) *cobra.Command {
	var (
		dir     string
		pattern string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "traceindex",
		Short: "Load or rebuild the store of every trace log in a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("pattern") {
				pattern = s.Config.Index.Pattern
			}
			if !cmd.Flags().Changed("workers") {
				workers = s.Config.Index.Workers
			}
			if workers < 1 {
				return errors.Newf("--workers must be positive, got %d", workers)
			}

			files, err := findLogs(dir, pattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				s.Logger.Info("no trace logs found", "dir", dir, "pattern", pattern)
				return nil
			}
			s.Logger.Info("indexing trace logs", "files", len(files), "workers", workers)

			results := index(cmd.Context(), s, files, workers)
			s.LogMetrics()
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), resultTable(results)); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
				}
			}
			if failed > 0 {
				return errors.Newf("%d of %d trace logs failed", failed, len(results))
			}
			return nil
		},
	}
	g.Register(cmd.PersistentFlags())
	cmd.Flags().StringVar(&dir, "dir", "logs", "directory to search for trace logs")
	cmd.Flags().StringVar(&pattern, "pattern", "*.log", "file name pattern of trace logs")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of logs processed at once")
	return cmd
}

// findLogs walks dir for files whose base name matches pattern. Stores and their
// temporary files are skipped.
func findLogs(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if path != dir && isStoreArtifact(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if isStoreArtifact(name) {
			return nil
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "directory %s", dir)
		}
		return nil, errors.Wrapf(err, "walking %s", dir)
	}
	return files, nil
}

func isStoreArtifact(name string) bool {
	return strings.HasSuffix(name, ".db") || strings.HasSuffix(name, ".pebble") ||
		strings.Contains(name, ".db.tmp-") || strings.Contains(name, ".pebble.tmp-")
}

type result struct {
	path string
	info store.Info
	err  error
}

// index opens the store of every file with at most workers at a time. A failed
// file does not stop the others.
func index(ctx context.Context, s *cli.Session, files []string, workers int) []result {
	results := make([]result, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, path := range files {
		eg.Go(func() error {
			results[i] = indexOne(ctx, s, path)
			if err := results[i].err; err != nil {
				s.Logger.Error("indexing failed", "path", path, "err", err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func indexOne(ctx context.Context, s *cli.Session, path string) result {
	st, err := s.OpenStore(ctx, path)
	if err != nil {
		return result{path: path, err: err}
	}
	info := st.Info()
	return result{path: path, info: info, err: st.Close()}
}

func resultTable(results []result) string {
	rows := make([][]string, len(results))
	for i, r := range results {
		status := "rebuilt"
		switch {
		case r.err != nil:
			status = "error"
		case r.info.Reused:
			status = "reused"
		}
		rows[i] = []string{r.path, status, strconv.FormatInt(r.info.Calls, 10), strconv.Itoa(r.info.Stats.Open)}
	}
	return render.Table([]string{"log", "status", "calls", "open"}, rows)
}
