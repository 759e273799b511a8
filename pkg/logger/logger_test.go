package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestOpenWriterRotatesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	writer, closer, err := openWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if closer == nil {
		t.Fatalf("file writer should be closable")
	}

	handler := slog.NewJSONHandler(writer, nil)
	slog.New(handler).Info("ledger call committed", slog.Uint64("seq", 1))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), `"seq":1`) {
		t.Fatalf("unexpected log content %s", content)
	}
}

func TestOpenWriterStandardStreams(t *testing.T) {
	for _, name := range []string{"stdout", "STDERR"} {
		writer, closer, err := openWriter(name, RotationConfig{})
		if err != nil || writer == nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if closer != nil {
			t.Fatalf("%s must not be closed by the logger", name)
		}
	}
}

func TestAuditLoggerRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}
