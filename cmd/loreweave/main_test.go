package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writing PID file: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("reading PID file: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file should be gone")
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loreweave.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error for non-numeric PID file")
	}
}

func TestColorizeRespectsNoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if out := colorize(colorGreen, "hi"); strings.Contains(out, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", out)
	}

	noColor = false
	if out := colorize(colorGreen, "hi"); !strings.Contains(out, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
}
