package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the diagnostic log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured logger procdash uses for its own
// diagnostics.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool // ANSI level colors, text format on a terminal only
	TimeStamps bool
}

// FileConfig describes the rotating diagnostic log file. Rotation
// parameters follow lumberjack semantics. An empty Path means no file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config combines the handler and the destination. Children's output never
// goes through here; it only lives in the in-memory log buffers.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// Writer returns the rotating file writer, or nil when no path is set.
func (c FileConfig) Writer() io.WriteCloser {
	if strings.TrimSpace(c.Path) == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(c.Path), 0o750)
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// NewSlogger builds a logger writing to the configured file, or to fallback
// when no file is configured. The returned closer releases the file and is
// never nil.
func (c Config) NewSlogger(fallback io.Writer) (*slog.Logger, io.Closer) {
	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	fileOut := false
	if fw := c.File.Writer(); fw != nil {
		w, closer, fileOut = fw, fw, true
	}
	if w == nil {
		w = io.Discard
	}
	return slog.New(c.handler(w, !fileOut)), closer
}

func (c Config) handler(w io.Writer, terminal bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(string(c.Slog.Level))}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	if c.Slog.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Slog.Color && terminal {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(LevelDebug):
		return slog.LevelDebug
	case string(LevelWarn), "warning":
		return slog.LevelWarn
	case string(LevelError):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
