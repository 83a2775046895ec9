package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveLogOutput(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		output     string
		want       io.Writer
		wantCloser bool
	}{
		{"", os.Stdout, false},
		{"stdout", os.Stdout, false},
		{"stderr", os.Stderr, false},
		{filepath.Join(dir, "missing", "dir", "x.log"), os.Stderr, false},
		{filepath.Join(dir, "phpembed.log"), nil, true},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.output), func(t *testing.T) {
			w, c := resolveLogOutput(tt.output)
			if tt.want != nil && w != tt.want {
				t.Fatalf("writer: got %v, want %v", w, tt.want)
			}
			if (c != nil) != tt.wantCloser {
				t.Fatalf("closer: got %v, want closer %v", c, tt.wantCloser)
			}
			if c != nil {
				c.Close()
			}
		})
	}
}

func TestLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phpembed.log")
	for _, line := range []string{"first\n", "second\n"} {
		w, c := resolveLogOutput(path)
		if _, err := io.WriteString(w, line); err != nil {
			t.Fatalf("write: %v", err)
		}
		c.Close()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Fatalf("log file content: %q", data)
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger("warn", "text", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "key=value") {
		t.Fatalf("unexpected text output: %q", out)
	}

	buf.Reset()
	setupLogger("debug", "json", &buf).Debug("json record")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(errors.New("plain")); got != 1 {
		t.Fatalf("plain error: got %d, want 1", got)
	}
	err := &exitError{code: 2, err: errors.New("bad config")}
	if got := exitCode(err); got != 2 {
		t.Fatalf("exit error: got %d, want 2", got)
	}
	if got := exitCode(errors.Join(errors.New("x"), err)); got != 2 {
		t.Fatalf("joined exit error: got %d, want 2", got)
	}
}
