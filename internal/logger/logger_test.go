package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/rs/zerolog/log"
)

type captureSink struct{ events []axiom.Event }

func (c *captureSink) Send(ev axiom.Event) { c.events = append(c.events, ev) }

func TestAxiomWriterDropsDebugAndTagsService(t *testing.T) {
	sink := &captureSink{}
	w := &axiomWriter{sink: sink}

	lines := []string{
		`{"level":"debug","message":"noise"}`,
		`{"level":"warn","message":"quota error - retrying AI request","attempt":2}`,
		`not json`,
	}
	for _, l := range lines {
		n, err := w.Write([]byte(l))
		if err != nil || n != len(l) {
			t.Fatalf("Write(%q) = %d, %v", l, n, err)
		}
	}

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev["service"] != ServiceName {
			t.Errorf("service = %v", ev["service"])
		}
		if _, ok := ev["_time"]; !ok {
			t.Errorf("event lacks timestamp: %v", ev)
		}
	}
	if sink.events[1]["message"] != "not json" {
		t.Errorf("raw line not preserved: %v", sink.events[1])
	}
}

func TestInitWritesJSONToFileAndStdout(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "app.log")
	var out bytes.Buffer

	if err := Init(Options{Level: "warn", File: file, MaxSizeMB: 1, Stdout: &out}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(Close)

	log.Info().Msg("hidden")
	log.Warn().Str("provider", "gemini").Msg("shown")

	line := strings.TrimSpace(out.String())
	if strings.Contains(line, "hidden") {
		t.Errorf("info line written at warn level: %s", line)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("stdout is not JSON: %q", line)
	}
	if ev["provider"] != "gemini" || ev["message"] != "shown" {
		t.Errorf("event = %v", ev)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), `"shown"`) {
		t.Errorf("file content = %q", data)
	}
}

func TestInitFallsBackWhenLogDirFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer

	err := Init(Options{Level: "info", File: filepath.Join(blocker, "app.log"), Stdout: &out})
	t.Cleanup(Close)
	if err == nil || !strings.Contains(err.Error(), "create logs dir") {
		t.Fatalf("Init() error = %v, want create logs dir failure", err)
	}

	log.Info().Msg("still logging")
	if !strings.Contains(out.String(), "still logging") {
		t.Errorf("stdout sink not installed: %q", out.String())
	}
}
