package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerFollowsApply(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(&buf, Config{Level: "warn", Console: true})
	log = log.With(String("comp", "reminder"))

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}

	svc.Apply(Config{Level: "debug", Console: true})
	log.Debug("shown", Int("n", 2), Err(errors.New("boom")), Err(nil))
	out := buf.String()
	for _, want := range []string{"shown", "comp=reminder", "n=2", "err=boom", "logx_test.go:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "carecue.log")
	var console bytes.Buffer
	svc, log := newService(&console, Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})

	log.Info("to file", String("kind", "sleep"))
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"kind":"sleep"`) || console.Len() != 0 {
		t.Fatalf("file = %q console = %q", b, console.String())
	}

	log.Info("after close")
	if !strings.Contains(console.String(), "after close") {
		t.Fatal("closed service stopped logging")
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero wrong")
	}
	zero.Info("dropped")
	Nop().With(String("a", "b")).Error("dropped")
}

func TestParseLevel(t *testing.T) {
	for _, ok := range []string{"", "TRACE", "debug", " Info ", "warning", "error"} {
		if _, err := ParseLevel(ok); err != nil {
			t.Errorf("ParseLevel(%q): %v", ok, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("unknown level accepted")
	}
}
