// Command traceweb serves a trace log's call store read-only over HTTP.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tracedb/internal/cli"
)

func main() {
	var g cli.Globals
	os.Exit(g.Execute(newRootCmd(&g), os.Stderr))
}

func newRootCmd(g *cli.Globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "traceweb",
		Short: "Browse a trace log's calls and method summary over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Start(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = s.Config.Web.Addr
			}

			st, err := s.OpenStore(cmd.Context(), s.Config.LogFile)
			if err != nil {
				return err
			}
			defer st.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return errors.Wrapf(err, "listening on %s", addr)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := newServer(st, s)
			s.Logger.Info("starting web server", "addr", ln.Addr().String())
			return serve(ctx, ln, srv.routes())
		},
	}
	g.Register(cmd.PersistentFlags())
	g.RegisterLogFile(cmd.PersistentFlags())
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// serve runs h on ln until ctx is done, then shuts the server down.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving http")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
