package phpengine

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogPHPMessageLevelMapping(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logPHPMessage(logger, 3, "error message")
	logPHPMessage(logger, 4, "warn message")
	logPHPMessage(logger, 6, "info message")
	logPHPMessage(logger, 7, "debug message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 log lines, got %d: %q", len(lines), buf.String())
	}
	for i, want := range []string{"level=ERROR", "level=WARN", "level=INFO", "level=DEBUG"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d: expected %q, got %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[0], "error message") || !strings.Contains(lines[0], "php_syslog_type=3") {
		t.Errorf("unexpected first line %q", lines[0])
	}
}

func TestLogPHPMessageFallsBackToPackageLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetLogger(nil) })

	logPHPMessage(nil, 4, "from package logger")
	if !strings.Contains(buf.String(), "from package logger") {
		t.Fatalf("expected package logger output, got %q", buf.String())
	}

	SetLogger(nil)
	logPHPMessage(nil, 4, "dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("expected message to be dropped without a logger")
	}
}

func TestSyslogLevel(t *testing.T) {
	tests := map[int]slog.Level{
		0:  slog.LevelError,
		2:  slog.LevelError,
		4:  slog.LevelWarn,
		5:  slog.LevelInfo,
		7:  slog.LevelDebug,
		42: slog.LevelInfo,
	}
	for in, want := range tests {
		if got := syslogLevel(in); got != want {
			t.Errorf("syslogLevel(%d) = %v, want %v", in, got, want)
		}
	}
}
