// Package config loads the optional TOML defaults file shared by the tracedb
// commands. Command line flags override every value read here.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"tracedb/internal/rollup"
	"tracedb/internal/store"
)

// DefaultLogFile is where the engine writes its trace log.
const DefaultLogFile = "logs/trace.log"

type Config struct {
	LogFile       string  `toml:"logfile"`
	Backend       string  `toml:"backend"`
	StackPerTrace bool    `toml:"stack_per_trace"`
	Summary       Summary `toml:"summary"`
	Web           Web     `toml:"web"`
	Index         Index   `toml:"index"`
}

type Summary struct {
	OrderBy string `toml:"order_by"`
	Limit   int    `toml:"limit"`
}

type Web struct {
	Addr string `toml:"addr"`
}

type Index struct {
	Pattern string `toml:"pattern"`
	Workers int    `toml:"workers"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogFile: DefaultLogFile,
		Backend: string(store.SQLite),
		Summary: Summary{OrderBy: rollup.CallCount.String(), Limit: 20},
		Web:     Web{Addr: ":8080"},
		Index:   Index{Pattern: "*.log", Workers: 4},
	}
}

// Load reads path over the defaults. Keys the file sets replace the default; keys
// it does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s: failed to parse TOML", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.Newf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// Validate checks the values that have a fixed set of choices or a range.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LogFile) == "" {
		return errors.New("logfile must not be empty")
	}
	if _, err := store.ParseBackend(c.Backend); err != nil {
		return err
	}
	if _, err := rollup.ParseMetric(c.Summary.OrderBy); err != nil {
		return errors.Wrap(err, "[summary].order_by")
	}
	if err := rollup.CheckLimit(c.Summary.Limit); err != nil {
		return errors.Wrap(err, "[summary].limit")
	}
	if c.Index.Workers < 1 {
		return errors.Newf("[index].workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.Pattern == "" {
		return errors.New("[index].pattern must not be empty")
	}
	return nil
}
