package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Lock.Timeout.Std() != 10*time.Second || cfg.Lock.Retries != 2 {
		t.Fatalf("lock defaults = %+v", cfg.Lock)
	}
	if !cfg.Agents.AutoRegister || cfg.Agents.StaleAfter.Std() != 5*time.Minute {
		t.Fatalf("agent defaults = %+v", cfg.Agents)
	}
}

func TestFromYAMLKeepsUnsetDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("lock:\n  mode: best-effort\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Lock.Mode != "best-effort" || cfg.Lock.Timeout.Std() != 10*time.Second {
		t.Fatalf("lock = %+v", cfg.Lock)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("server defaults lost: %+v", cfg.Server)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"mode":     "lock:\n  mode: strict\n",
		"retries":  "lock:\n  retries: 9\n",
		"backoff":  "lock:\n  backoff: 5s\n",
		"capacity": "agents:\n  default_capacity: 101\n",
		"format":   "log:\n  format: xml\n",
	}
	for name, body := range cases {
		if _, err := FromYAML([]byte(body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional = %v, %v", cfg, err)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(GenerateDefault(), "retries: 2", "retries: 4", 1)
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Lock.Retries != 4 {
		t.Fatalf("retries = %d", cfg.Lock.Retries)
	}
}
