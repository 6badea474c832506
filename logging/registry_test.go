package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGet_ReturnsSameLogger(t *testing.T) {
	a := Get("orchestrator")
	b := Get("orchestrator")
	if a != b {
		t.Error("Get returned different loggers for the same name")
	}
	if Get("session") == a {
		t.Error("Get returned the same logger for different names")
	}
}

func TestGet_WritesOncePerMessage(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	// Repeated lookups must not stack extra writers.
	for i := 0; i < 3; i++ {
		Get("dup-check")
	}
	Get("dup-check").Print("hello")

	out := buf.String()
	if n := strings.Count(out, "hello"); n != 1 {
		t.Fatalf("message written %d times, want 1: %q", n, out)
	}
	if !strings.Contains(out, "[dup-check] hello") {
		t.Errorf("missing name prefix: %q", out)
	}
}

func TestSetOutput_AffectsExistingLoggers(t *testing.T) {
	l := Get("late-output")

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	l.Print("after switch")
	if !strings.Contains(buf.String(), "after switch") {
		t.Errorf("existing logger did not follow new output: %q", buf.String())
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := NewRotatingWriter(path, 10)
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer w.Close()

	w.Write([]byte("0123456789abcdef"))
	w.Write([]byte("xy"))

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "xy" {
		t.Errorf("current log = %q, want %q", data, "xy")
	}
}
