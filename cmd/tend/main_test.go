package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ldi/tend/internal/config"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	return tmpDir
}

func runTend(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if args == nil {
		// nil makes cobra fall back to os.Args.
		args = []string{}
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runTend(t, args...)
	if err != nil {
		t.Fatalf("tend %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

var idPattern = regexp.MustCompile(`\(([0-9a-f-]{36})\)`)

func createdID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no task id in output: %s", out)
	}
	return m[1]
}

func TestInit(t *testing.T) {
	tmpDir := setupWorkspace(t)

	out := mustRun(t, "init")
	if !strings.Contains(out, "tend initialized successfully") {
		t.Errorf("unexpected output: %s", out)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, ".tend", ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if string(content) != "tend.db*\n" {
		t.Errorf(".gitignore content mismatch: got %q", string(content))
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".tend", "tend.db")); err != nil {
		t.Errorf("database file was not created: %v", err)
	}

	cfg, err := config.LoadFromFile(filepath.Join(tmpDir, "tend.yaml"))
	if err != nil {
		t.Fatalf("failed to load written tend.yaml: %v", err)
	}
	if cfg.Owner != "default" {
		t.Errorf("expected default owner, got %q", cfg.Owner)
	}
}

func TestInitIntoDirectory(t *testing.T) {
	tmpDir := setupWorkspace(t)
	target := filepath.Join(tmpDir, "home")

	mustRun(t, "init", target)
	if _, err := os.Stat(filepath.Join(target, ".tend", "tend.db")); err != nil {
		t.Errorf("database file was not created in target: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "tend.yaml")); err != nil {
		t.Errorf("tend.yaml was not written in target: %v", err)
	}
}

func TestVersion(t *testing.T) {
	setupWorkspace(t)
	out := mustRun(t, "version")
	if !strings.Contains(out, "tend version dev") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootOpensMenu(t *testing.T) {
	setupWorkspace(t)
	mustRun(t, "init")

	original := runMenu
	t.Cleanup(func() { runMenu = original })

	runMenu = func() (string, error) { return "status", nil }
	out := mustRun(t)
	if !strings.Contains(out, "Tasks for default") {
		t.Errorf("expected the status command to run, got: %s", out)
	}

	runMenu = func() (string, error) { return "", nil }
	if out := mustRun(t); out != "" {
		t.Errorf("expected no output when the menu is left, got: %s", out)
	}
}

func TestInvalidConfig(t *testing.T) {
	tmpDir := setupWorkspace(t)
	path := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(path, []byte("sweep:\n  schedule: \"every day\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := runTend(t, "--config", path, "list")
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestParseWhen(t *testing.T) {
	a := &app{cfg: config.DefaultConfig()}
	a.cfg.Timezone = "Europe/Berlin"
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-02T08:00:00Z", time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)},
		{"2026-03-02T08:00", time.Date(2026, time.March, 2, 8, 0, 0, 0, berlin)},
		{"2026-03-02 08:00", time.Date(2026, time.March, 2, 8, 0, 0, 0, berlin)},
		{"2026-03-02", time.Date(2026, time.March, 2, 0, 0, 0, 0, berlin)},
	}
	for _, tt := range tests {
		got, err := a.parseWhen(tt.in)
		if err != nil {
			t.Errorf("parseWhen(%q) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseWhen(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := a.parseWhen("next tuesday"); err == nil {
		t.Error("expected an error for free text")
	}
}
