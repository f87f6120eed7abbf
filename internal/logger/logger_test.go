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
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetmon.log")
	lg := New(Config{Level: "debug", File: path})
	lg.Info("cycle complete", "live", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "cycle complete") {
		t.Fatalf("expected log record in file, got: %s", data)
	}
	if !strings.Contains(string(data), "live=3") {
		t.Fatalf("expected attribute in file, got: %s", data)
	}
}

func TestNewConsoleOnly(t *testing.T) {
	lg := New(Config{})
	if lg == nil {
		t.Fatal("expected logger")
	}
	lg.Debug("suppressed at default level")
}

func TestWriter(t *testing.T) {
	if w := (Config{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without file")
	}
	path := filepath.Join(t.TempDir(), "out.log")
	w := (Config{File: path}).Writer()
	if w == nil {
		t.Fatalf("expected writer")
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
}
