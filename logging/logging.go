// Package logging builds the zerolog.Logger every component in this
// module accepts, grounded on logger/create.go's console-plus-rolling-
// file multi-writer. The urfave/cli flag wiring and management-log
// hook logger/create.go layers on top are dropped: this module has no
// CLI surface of its own, so Config is constructed directly rather
// than parsed from flags.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// Config selects which sinks a Logger writes to. A nil *RollingConfig
// disables file rotation; Console defaults to on.
type Config struct {
	MinLevel      string // debug | info | warn | error
	DisableColor  bool
	DisableConsole bool
	Rolling       *RollingConfig
}

// RollingConfig mirrors logger.RollingConfig: a lumberjack-backed log
// file that rotates once it exceeds MaxSizeMB, keeping MaxBackups old
// files for MaxAgeDays.
type RollingConfig struct {
	Dirname    string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Default returns console-only logging at info level, matching
// logger.createDefaultConfig's MinLevel choice.
func Default() Config {
	return Config{MinLevel: "info"}
}

// New builds a *zerolog.Logger from cfg. A malformed MinLevel falls
// back to info, same as logger.newZerolog.
func New(cfg Config) *zerolog.Logger {
	var writers []io.Writer

	if !cfg.DisableConsole {
		out := io.Writer(os.Stdout)
		if !cfg.DisableColor {
			out = colorable.NewColorableStdout()
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	if cfg.Rolling != nil {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Rolling.fullpath(),
			MaxSize:    orDefault(cfg.Rolling.MaxSizeMB, 1),
			MaxBackups: orDefault(cfg.Rolling.MaxBackups, 5),
			MaxAge:     cfg.Rolling.MaxAgeDays,
		})
	}

	level, err := zerolog.ParseLevel(cfg.MinLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = zerolog.MultiLevelWriter(writers...)
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &log
}

func (rc *RollingConfig) fullpath() string {
	name := rc.Filename
	if name == "" {
		name = "mina.log"
	}
	if rc.Dirname == "" {
		return name
	}
	return rc.Dirname + string(os.PathSeparator) + name
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
