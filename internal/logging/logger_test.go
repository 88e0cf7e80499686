package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fantasim/tappos/internal/config"
)

func TestSetup(t *testing.T) {
	tmpDir := t.TempDir()

	closer, err := Setup("info", tmpDir)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer closer.Close()

	expectedFile := filepath.Join(tmpDir, config.LogFilePrefix+time.Now().Format("2006-01-02")+".log")
	if _, err := os.Stat(expectedFile); os.IsNotExist(err) {
		t.Errorf("expected log file %q to exist", expectedFile)
	}
}

func TestSetupInvalidLevel(t *testing.T) {
	tmpDir := t.TempDir()

	closer, err := Setup("invalid", tmpDir)
	if closer != nil {
		defer closer.Close()
	}
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestDailyFile_RollsOverAtMidnight(t *testing.T) {
	tmpDir := t.TempDir()
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Minute)

	current := day1
	f := &dailyFile{dir: tmpDir, prefix: config.LogFilePrefix, now: func() time.Time { return current }}
	if err := f.rotate(current); err != nil {
		t.Fatalf("rotate() error = %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	current = day2
	if _, err := f.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	first, err := os.ReadFile(filepath.Join(tmpDir, config.LogFilePrefix+"2026-03-01.log"))
	if err != nil {
		t.Fatalf("read day1 log: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(tmpDir, config.LogFilePrefix+"2026-03-02.log"))
	if err != nil {
		t.Fatalf("read day2 log: %v", err)
	}

	if string(first) != "first\n" {
		t.Errorf("day1 content = %q", first)
	}
	if string(second) != "second\n" {
		t.Errorf("day2 content = %q", second)
	}
}

func TestCleanOldLogs(t *testing.T) {
	tmpDir := t.TempDir()

	oldFile := filepath.Join(tmpDir, config.LogFilePrefix+"2020-01-01.log")
	newFile := filepath.Join(tmpDir, config.LogFilePrefix+"today.log")
	otherFile := filepath.Join(tmpDir, "unrelated-2020-01-01.log")

	for _, f := range []string{oldFile, newFile, otherFile} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}

	old := time.Now().AddDate(0, 0, -40)
	os.Chtimes(oldFile, old, old)
	os.Chtimes(otherFile, old, old)

	removed := CleanOldLogs(tmpDir, 30)
	if removed != 1 {
		t.Errorf("CleanOldLogs() removed %d, want 1", removed)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expected old terminal log to be removed")
	}
	if _, err := os.Stat(otherFile); err != nil {
		t.Error("expected unrelated file to be kept")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"invalid", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
