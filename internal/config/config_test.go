package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseArgsDefaults(t *testing.T) {
	dir := t.TempDir()
	env := envFrom(map[string]string{
		"XDG_CONFIG_HOME": filepath.Join(dir, "cfg"),
		"XDG_DATA_HOME":   filepath.Join(dir, "data"),
		"XDG_STATE_HOME":  filepath.Join(dir, "state"),
	})

	cfg, err := ParseArgs(nil, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("poll interval: got %s want %s", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.RouteLayout != "chats" || cfg.ChangeDetection != "heuristic" {
		t.Fatalf("unexpected defaults: layout=%q detection=%q", cfg.RouteLayout, cfg.ChangeDetection)
	}
	if !cfg.Ephemeral {
		t.Fatalf("session should be ephemeral by default")
	}
	if cfg.SessionKeyPrefix != "0-" || cfg.APIPrefix != "/api" {
		t.Fatalf("unexpected prefixes: %q %q", cfg.SessionKeyPrefix, cfg.APIPrefix)
	}
	if cfg.DBPath != filepath.Join(dir, "data", "chatline", "state.sqlite") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if _, err := os.Stat(filepath.Dir(cfg.LogFile)); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestParseArgsPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yml := `
api_url: https://file.example
route_layout: conversations
poll_interval: 3s
session:
  ephemeral: false
oidc:
  client_id: file-client
  authority: https://idp.example
sync:
  change_detection: exact
`
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env := envFrom(map[string]string{
		"XDG_DATA_HOME":      filepath.Join(dir, "data"),
		"XDG_STATE_HOME":     filepath.Join(dir, "state"),
		"CHATLINE_CLIENT_ID": "env-client",
		"CHATLINE_API_URL":   "https://env.example",
	})

	cfg, err := ParseArgs([]string{"--config", cfgPath, "--api-url", "https://flag.example"}, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.APIURL != "https://flag.example" {
		t.Fatalf("flag should win over env and file, got %q", cfg.APIURL)
	}
	if cfg.OIDC.ClientID != "env-client" {
		t.Fatalf("env should win over file, got %q", cfg.OIDC.ClientID)
	}
	if cfg.OIDC.Authority != "https://idp.example" {
		t.Fatalf("file value lost: %q", cfg.OIDC.Authority)
	}
	if cfg.RouteLayout != "conversations" || cfg.PollInterval != 3*time.Second {
		t.Fatalf("file values not applied: %q %s", cfg.RouteLayout, cfg.PollInterval)
	}
	if cfg.Ephemeral {
		t.Fatalf("expected ephemeral=false from file")
	}
	if cfg.ChangeDetection != "exact" {
		t.Fatalf("expected exact detection, got %q", cfg.ChangeDetection)
	}
}

func TestParseArgsRejectsUnknownLayout(t *testing.T) {
	dir := t.TempDir()
	env := envFrom(map[string]string{"XDG_CONFIG_HOME": dir})
	if _, err := ParseArgs([]string{"--route-layout", "threads"}, env); err == nil {
		t.Fatalf("expected error for unknown layout")
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	fc, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if fc.APIURL != "" || fc.Session != nil {
		t.Fatalf("expected empty config, got %#v", fc)
	}
}
