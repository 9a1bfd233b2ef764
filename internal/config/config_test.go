package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"databases": {"sqlite3": {"dsn": "data/test.db"}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "sqlite3" {
		t.Fatalf("expected sqlite3 default, got %q", cfg.BasicConfig.Database)
	}
	if cfg.Pipeline.HistoryLimit != 10 {
		t.Fatalf("expected history limit 10, got %d", cfg.Pipeline.HistoryLimit)
	}
	if cfg.Pipeline.QuotaFailurePolicy != QuotaFailOpen {
		t.Fatalf("expected fail-open quota policy, got %q", cfg.Pipeline.QuotaFailurePolicy)
	}
	if cfg.Pipeline.CompletionFailurePolicy != CompletionFallbackText {
		t.Fatalf("expected fallback_text policy, got %q", cfg.Pipeline.CompletionFailurePolicy)
	}
	if cfg.Pipeline.DefaultMonthlyLimit != 100 {
		t.Fatalf("expected default cap 100, got %d", cfg.Pipeline.DefaultMonthlyLimit)
	}
	want := filepath.Join(filepath.Dir(path), "data/test.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("expected dsn resolved to %s, got %s", want, got)
	}
}

func TestLoadClampsHistoryLimit(t *testing.T) {
	path := writeConfig(t, `{"databases": {"sqlite3": {"dsn": ":memory:"}}, "pipeline": {"history_limit": 50}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.HistoryLimit != 10 {
		t.Fatalf("expected history limit clamped to 10, got %d", cfg.Pipeline.HistoryLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"databases": {"sqlite3": {"dsn": ":memory:"}}}`)
	t.Setenv("AGENTDESK_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("AGENTDESK_PIPELINE_QUOTA_FAILURE_POLICY", "closed")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "jwt-secret" {
		t.Fatalf("expected jwt secret from env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.CronSecret != "cron-secret" {
		t.Fatalf("expected cron secret from env, got %q", cfg.Auth.CronSecret)
	}
	if cfg.Pipeline.QuotaFailurePolicy != QuotaFailClosed {
		t.Fatalf("expected closed policy, got %q", cfg.Pipeline.QuotaFailurePolicy)
	}
	if cfg.Databases["sqlite3"].DSN != ":memory:" {
		t.Fatalf("memory dsn must not be rewritten")
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `{"pipeline": {"completion_failure_policy": "retry"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestProviderLookup(t *testing.T) {
	path := writeConfig(t, `{"pipeline": {"provider": "claude"}, "providers": {"claude": {"model": "claude-3-haiku", "api_key": "k"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	name, prov, err := cfg.Provider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if name != "claude" || prov.Model != "claude-3-haiku" {
		t.Fatalf("unexpected provider %s %+v", name, prov)
	}
}
