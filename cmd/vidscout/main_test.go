package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/vidscout/internal/config"
	"github.com/nugget/vidscout/internal/defaults"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

// writeConfig writes a minimal config pointing at backendURL and
// returns its path.
func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	t.Setenv(config.BackendURLEnv, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("backend:\n  url: %s\nhealth:\n  probe_timeout: 2s\n", backendURL)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"version:", "go_version:", "os:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	for _, args := range [][]string{
		{"-o", "json", "version"},
		{"--output", "json", "version"},
		{"-o=json", "version"},
		{"version", "--output=json"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			var buf bytes.Buffer
			if err := run(context.Background(), &buf, &buf, args); err != nil {
				t.Fatalf("run: %v", err)
			}
			var info map[string]string
			if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
			}
			if info["version"] == "" {
				t.Errorf("version missing from %v", info)
			}
		})
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var buf bytes.Buffer
		if err := run(context.Background(), &buf, &buf, args); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		if !strings.Contains(buf.String(), "Usage: vidscout") {
			t.Errorf("run %v did not print usage:\n%s", args, buf.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"--verbose", "version"}, "unknown flag: --verbose"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"missing explicit config", []string{"-config", "/nonexistent/vidscout.yaml", "check"}, "/nonexistent/vidscout.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := run(context.Background(), &buf, &buf, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_CheckUp(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health/":
			fmt.Fprint(w, `{"status":"ok"}`)
		case "/videos/":
			fmt.Fprint(w, `[{"video_id":"a"},{"video_id":"b"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()
	cfgPath := writeConfig(t, backend.URL)

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "check"}); err != nil {
			t.Fatalf("check: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "is up") || !strings.Contains(out, "2 videos indexed") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := run(context.Background(), &buf, &buf, []string{"-config=" + cfgPath, "-o", "json", "check"}); err != nil {
			t.Fatalf("check: %v", err)
		}
		var res checkResult
		if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if !res.Available || res.Videos == nil || *res.Videos != 2 {
			t.Errorf("result = %+v", res)
		}
		if res.URL != backend.URL {
			t.Errorf("URL = %q, want %q", res.URL, backend.URL)
		}
	})
}

func TestRun_CheckDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warming up", http.StatusNotFound)
	}))
	defer backend.Close()
	cfgPath := writeConfig(t, backend.URL)

	var buf bytes.Buffer
	err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "-o", "json", "check"})
	if err == nil {
		t.Fatal("expected error for unavailable backend")
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("error = %q", err)
	}

	var res checkResult
	if jerr := json.Unmarshal(buf.Bytes(), &res); jerr != nil {
		t.Fatalf("output is not JSON: %v\n%s", jerr, buf.String())
	}
	if res.Available || res.Error == "" || res.Videos != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	// Run from an empty directory so ./config.yaml is not found. The
	// home and /etc locations are not expected on a test machine.
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.BackendURLEnv, "http://gpu-box:9000")

	cfg, path, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Skipf("a config exists at %s on this machine", path)
	}
	if cfg.Backend.URL != "http://gpu-box:9000" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "nested")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}
	if !bytes.Equal(data, defaults.ConfigYAML) {
		t.Error("config.yaml does not match the embedded example")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("mode = %o, want 600", got)
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output should mark the file as created:\n%s", buf.String())
	}

	// The written file must load as a valid config.
	t.Setenv(config.BackendURLEnv, "")
	if _, err := config.Load(path); err != nil {
		t.Errorf("example config does not load: %v", err)
	}
}

func TestRunInit_LeavesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	const marker = "# mine\nbackend:\n  url: http://mine:1234\n"
	if err := os.WriteFile(path, []byte(marker), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != marker {
		t.Errorf("existing config was overwritten:\n%s", data)
	}
	if !strings.Contains(buf.String(), "left unchanged") {
		t.Errorf("output should note the existing file:\n%s", buf.String())
	}
}
