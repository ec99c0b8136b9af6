// Package logger sets up the process-wide zerolog logger: a console writer,
// an optional size-rotated log file and any extra sinks such as the
// dashboard's log pane.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
)

// ParseLevel accepts a zerolog level name or a syslog-style number 0-7
// (7 debug, 6 and 5 info, 4 warn, 3 error, 0-2 fatal). Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 7:
			return zerolog.DebugLevel, nil
		case n >= 5:
			return zerolog.InfoLevel, nil
		case n == 4:
			return zerolog.WarnLevel, nil
		case n == 3:
			return zerolog.ErrorLevel, nil
		case n >= 0:
			return zerolog.FatalLevel, nil
		}
		return zerolog.NoLevel, fmt.Errorf("logger: invalid level %d", n)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: invalid level %q: %w", s, err)
	}
	return lvl, nil
}

// Logger is a configured root logger plus the file it may own.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New builds the root logger. console may be nil to disable terminal
// output, which the dashboard needs since it owns the screen. The result is
// also installed as the zerolog/log global.
func New(cfg Config, console io.Writer, extra ...io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.TimeOnly})
	}

	l := &Logger{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(cfg.File), err)
		}
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = defaultMaxSizeMB
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = defaultMaxBackups
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, l.file)
	}
	writers = append(writers, extra...)

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	l.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	log.Logger = l.Logger
	return l, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
