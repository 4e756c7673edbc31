package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.ID != "world_1" || cfg.Index.Backend != "sqlite" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Saves.Dir != filepath.Join("data", "build_saves") {
		t.Fatalf("saves dir=%q", cfg.Saves.Dir)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yml := `
listen: "0.0.0.0:9000"
data_dir: /srv/hophop
world:
  id: arena
  tick_rate_hz: 20
index:
  backend: off
log:
  level: DEBUG
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("HOPHOP_WS_TOKEN=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("HOPHOP_TICK_RATE_HZ", "50")
	// registered for restore, then cleared so the .env value applies
	t.Setenv("HOPHOP_WS_TOKEN", "")
	os.Unsetenv("HOPHOP_WS_TOKEN")

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.World.ID != "arena" || cfg.World.TickRateHz != 50 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Index.Backend != "none" || cfg.Log.Level != "debug" {
		t.Fatalf("normalize: backend=%q level=%q", cfg.Index.Backend, cfg.Log.Level)
	}
	if cfg.Saves.Dir != filepath.Join("/srv/hophop", "build_saves") || cfg.Index.Path != filepath.Join("/srv/hophop", "index", "builds.sqlite") {
		t.Fatalf("derived paths: %q %q", cfg.Saves.Dir, cfg.Index.Path)
	}
	if cfg.Auth.WSToken != "from-dotenv" {
		t.Fatalf("dotenv token=%q", cfg.Auth.WSToken)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad listen":  "listen: nope\n",
		"tick rate":   "world:\n  tick_rate_hz: 0\n",
		"backend":     "index:\n  backend: postgres\n",
		"log level":   "log:\n  level: loud\n",
		"not yaml":    "world: [\n",
		"neg history": "saves:\n  history_keep: -1\n",
	}
	for name, yml := range cases {
		path := filepath.Join(t.TempDir(), "server.yaml")
		if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path, ""); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv_RejectsBadNumbers(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{"HOPHOP_TICK_RATE_HZ": "fast"}
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err == nil || !strings.Contains(err.Error(), "HOPHOP_TICK_RATE_HZ") {
		t.Fatalf("err=%v", err)
	}
}
