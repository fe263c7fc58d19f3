package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults applied when a field is unset.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes file log destinations for a named component.
// If StdoutPath/StderrPath are empty and Dir is set, files are derived as
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics and apply only to the
// supervisor's own log; worker files are plain append-mode files.
type FileConfig struct {
	Dir        string // base directory for logs
	StdoutPath string // explicit stdout path overrides Dir
	StderrPath string // explicit stderr path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Config is the logging configuration attached to a process spec or to the
// supervisor itself.
type Config struct {
	File FileConfig
}

// AppendFiles opens append-mode stdout/stderr files for the named worker.
// The descriptors are meant to be inherited by a detached child, so the
// worker keeps logging after the supervisor exits. A rotating writer cannot
// serve here: it would pump output through a pipe owned by the supervisor,
// and a log-heavy worker dies on SIGPIPE the moment that pipe closes.
// Either file may be nil when no destination is configured.
func (c Config) AppendFiles(name string) (*os.File, *os.File, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outF, errF *os.File
	var err error
	if stdout != "" {
		if outF, err = openAppend(stdout); err != nil {
			return nil, nil, fmt.Errorf("open stdout log: %w", err)
		}
	}
	if stderr != "" {
		if errF, err = openAppend(stderr); err != nil {
			if outF != nil {
				_ = outF.Close()
			}
			return nil, nil, fmt.Errorf("open stderr log: %w", err)
		}
	}
	return outF, errF, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	// #nosec G304 -- path comes from operator-provided configuration
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
}

// RotatingWriter returns a lumberjack writer for the supervisor's own log,
// at StdoutPath when set, else Dir/<name>.log. Returns nil when no file
// destination is configured.
func (c Config) RotatingWriter(name string) io.WriteCloser {
	path := c.File.StdoutPath
	if path == "" && c.File.Dir != "" {
		path = filepath.Join(c.File.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil
	}
	return newRotatingWriter(path, c.File)
}

func newRotatingWriter(path string, fc FileConfig) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(fc.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(fc.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(fc.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   fc.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewConsole builds the supervisor's own console logger on stderr.
// Unknown level names fall back to info.
func NewConsole(level string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if color {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// NewWithWriter builds a logger emitting plain text records to w.
func NewWithWriter(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name (debug/info/warn/error, case-insensitive)
// to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
