package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Rotation applies to file outputs; stdout and stderr are never rotated.
	Rotation RotationConfig
	Audit    AuditConfig
}

// RotationConfig bounds the size and retention of file based logs.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (r RotationConfig) withDefaults() RotationConfig {
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = 100
	}
	if r.MaxBackups <= 0 {
		r.MaxBackups = 7
	}
	if r.MaxAgeDays <= 0 {
		r.MaxAgeDays = 30
	}
	return r
}

// AuditConfig controls the audit stream. It receives one JSON record per
// committed ledger call and per operation outcome, independent of Level.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu       sync.RWMutex
	current  *state
	levelVar = new(slog.LevelVar)
)

// Init configures the global loggers. Only the first successful call takes
// effect; later calls are no-ops so that commands sharing a process can call
// it unconditionally.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return nil
	}
	s, err := build(cfg)
	if err != nil {
		return err
	}
	current = s
	return nil
}

func build(cfg Config) (*state, error) {
	levelVar.Set(parseLevel(cfg.Level))
	s := &state{}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	rotation := cfg.Rotation.withDefaults()
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, closer, err := openWriter(out, rotation)
		if err != nil {
			s.close()
			return nil, err
		}
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
		writers = append(writers, writer)
	}
	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	s.app = slog.New(newHandler(cfg.Format, writer, &slog.HandlerOptions{Level: levelVar, AddSource: true}))

	s.audit = s.app
	if cfg.Audit.Enabled {
		audit, closer, err := openAudit(cfg.Audit)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, closer)
		s.audit = audit
	}
	return s, nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func buildAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	logger, _, err := openAudit(cfg)
	return logger, err
}

func openAudit(cfg AuditConfig) (*slog.Logger, io.Closer, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil, errors.New("audit log path cannot be empty when enabled")
	}
	writer, err := newRollingFile(cfg.Path, RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}.withDefaults())
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})), writer, nil
}

// openWriter resolves an output name. Standard streams come back without a
// closer so Sync never closes them.
func openWriter(path string, rotation RotationConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	writer, err := newRollingFile(path, rotation)
	if err != nil {
		return nil, nil, err
	}
	return writer, writer, nil
}

func newRollingFile(path string, rotation RotationConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}, nil
}

func (s *state) close() error {
	var err error
	for _, closer := range s.closers {
		err = errors.Join(err, closer.Close())
	}
	s.closers = nil
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SetLevel changes the minimum level of the application logger at runtime.
func SetLevel(name string) {
	levelVar.Set(parseLevel(name))
}

func loaded() *state {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// L returns the application logger, initialising a stdout JSON logger on
// first use.
func L() *slog.Logger {
	return loaded().app
}

// Audit returns the audit logger, which falls back to L when no audit file
// is configured.
func Audit() *slog.Logger {
	return loaded().audit
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes file outputs. Loggers keep writing to the rotated files, which
// lumberjack reopens on the next write.
func Sync() error {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.close()
}
