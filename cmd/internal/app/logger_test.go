package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogHandler_Formats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slog.New(newLogHandler(&buf, "info", "json")).Info("server.start", "addr", ":8080")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json handler wrote %q: %v", buf.String(), err)
	}
	if line["msg"] != "server.start" || line["addr"] != ":8080" {
		t.Fatalf("unexpected record: %v", line)
	}
	if _, ok := line["source"]; !ok {
		t.Fatalf("source attribute missing: %v", line)
	}

	buf.Reset()
	log := slog.New(newLogHandler(&buf, "warn", "TEXT"))
	log.Info("dropped")
	log.Warn("kept", "k", "v")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record passed a warn handler: %q", out)
	}
	if !strings.Contains(out, "msg=kept") || !strings.Contains(out, "k=v") {
		t.Fatalf("text handler output %q", out)
	}
}
