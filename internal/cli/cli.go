// Package cli holds the flags, config overlay and error reporting shared by the
// tracedb commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tracedb/internal/calltree"
	"tracedb/internal/config"
	"tracedb/internal/logging"
	"tracedb/internal/metrics"
	"tracedb/internal/store"
)

// Globals are the persistent flags of every command.
type Globals struct {
	ConfigPath    string
	LogFile       string
	Backend       string
	Reload        bool
	StackPerTrace bool
	Color         string
	Quiet         bool
	Verbose       bool

	logger *slog.Logger
}

// Register adds the flags every command shares.
func (g *Globals) Register(fs *pflag.FlagSet) {
	fs.StringVar(&g.ConfigPath, "config", "", "TOML file with default settings")
	fs.StringVar(&g.Backend, "backend", string(store.SQLite), "store backend (sqlite|pebble)")
	fs.BoolVar(&g.Reload, "reload", false, "rebuild the store even if it is up to date")
	fs.BoolVar(&g.StackPerTrace, "stack-per-trace", false, "keep one open-call stack per trace ID")
	fs.StringVar(&g.Color, "color", string(logging.ColorAuto), "colorize output (auto|on|off)")
	fs.BoolVar(&g.Quiet, "quiet", false, "only print warnings and errors")
	fs.BoolVar(&g.Verbose, "verbose", false, "print debug output")
}

// RegisterLogFile adds --logfile for commands working on a single log.
func (g *Globals) RegisterLogFile(fs *pflag.FlagSet) {
	fs.StringVar(&g.LogFile, "logfile", config.DefaultLogFile, "trace log to load")
}

// Session is what a command needs after its flags are parsed.
type Session struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Ingest   *metrics.Ingest
	Reload   bool
}

// Start loads the config file, lays the changed flags of cmd over it and builds
// the logger. The logger writes to cmd's error stream.
func (g *Globals) Start(cmd *cobra.Command) (*Session, error) {
	mode, err := logging.ParseColorMode(g.Color)
	if err != nil {
		return nil, err
	}
	w := cmd.ErrOrStderr()
	g.logger = logging.New(w, logging.Options{
		Level: logging.LevelFor(g.Quiet, g.Verbose),
		Color: mode.Enabled(w),
	})

	cfg := config.Default()
	if g.ConfigPath != "" {
		if cfg, err = config.Load(g.ConfigPath); err != nil {
			return nil, err
		}
	}
	fs := cmd.Flags()
	if fs.Changed("logfile") {
		cfg.LogFile = g.LogFile
	}
	if fs.Changed("backend") {
		cfg.Backend = g.Backend
	}
	if fs.Changed("stack-per-trace") {
		cfg.StackPerTrace = g.StackPerTrace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	return &Session{
		Config:   cfg,
		Logger:   g.logger,
		Registry: reg,
		Ingest:   metrics.New(reg),
		Reload:   g.Reload,
	}, nil
}

// StoreOptions returns the store settings of the session.
func (s *Session) StoreOptions() (store.Options, error) {
	b, err := store.ParseBackend(s.Config.Backend)
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		Backend:     b,
		Force:       s.Reload,
		Reconstruct: calltree.Options{StackPerTrace: s.Config.StackPerTrace},
		Logger:      s.Logger,
		Metrics:     s.Ingest,
	}, nil
}

// OpenStore loads or rebuilds the store of logPath.
func (s *Session) OpenStore(ctx context.Context, logPath string) (store.Store, error) {
	opts, err := s.StoreOptions()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, logPath, opts)
}

// LogMetrics prints every non-zero sample of the session registry at debug level.
func (s *Session) LogMetrics() {
	families, err := s.Registry.Gather()
	if err != nil {
		s.Logger.Debug("gathering metrics", "err", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := sampleValue(mf.GetType(), m)
			if v == 0 {
				continue
			}
			args := []any{"value", v}
			for _, lp := range m.GetLabel() {
				args = append(args, lp.GetName(), lp.GetValue())
			}
			s.Logger.Debug(mf.GetName(), args...)
		}
	}
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return m.GetHistogram().GetSampleSum()
	}
	return 0
}

// Execute runs cmd and reports a failure as a single ERROR line on stderr. It
// returns the process exit code.
func (g *Globals) Execute(cmd *cobra.Command, stderr io.Writer) int {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	logger := g.logger
	if logger == nil {
		logger = logging.New(stderr, logging.Options{Color: logging.ColorAuto.Enabled(stderr)})
	}
	var args []any
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		args = append(args, "hint", strings.Join(hints, "; "))
	}
	logger.Error(err.Error(), args...)
	return 1
}
