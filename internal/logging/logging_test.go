package logging

import (
	"bytes"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	h := &TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo}
	logger := slog.New(h).With("job_id", "abc")

	logger.Debug("hidden")
	logger.Warn("blend skipped", "image", 2)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug record should be filtered: %q", got)
	}
	want := "[WARN] blend skipped [job_id=abc image=2]\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSetupWritesLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	var stdout bytes.Buffer
	logger, err := setup(&stdout, Options{Level: "debug", Format: "text", FileOutput: true, LogDir: dir})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("file sink check")

	matches, _ := filepath.Glob(filepath.Join(dir, "panostitch-2*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one dated log file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[DEBUG] file sink check") {
		t.Fatalf("log file missing record: %q", data)
	}
	if !strings.Contains(stdout.String(), "panostitch logging initialized") {
		t.Fatalf("stdout missing startup record: %q", stdout.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
