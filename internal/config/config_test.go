package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB == "" {
		t.Error("expected a default db path")
	}
	if cfg.Dialogue.Voice != "coral" {
		t.Errorf("unexpected default voice %q", cfg.Dialogue.Voice)
	}
	if cfg.YouTube.PollInterval.Std() != time.Second {
		t.Errorf("unexpected default poll interval %v", cfg.YouTube.PollInterval)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db: /tmp/test.db
host_identity: Niama
bilibili:
  room_id: "12345"
dialogue:
  voice: alloy
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB != "/tmp/test.db" {
		t.Errorf("db not overridden: %q", cfg.DB)
	}
	if cfg.HostIdentity != "Niama" {
		t.Errorf("host identity not overridden: %q", cfg.HostIdentity)
	}
	if cfg.Bilibili.RoomID != "12345" {
		t.Errorf("room id not set: %q", cfg.Bilibili.RoomID)
	}
	if cfg.Dialogue.Voice != "alloy" {
		t.Errorf("voice not overridden: %q", cfg.Dialogue.Voice)
	}
	// Untouched fields keep their defaults.
	if cfg.Dialogue.URL == "" {
		t.Error("default dialogue url lost")
	}
}

func TestDurationParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
youtube:
  video_id: abc
  poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.YouTube.PollInterval.Std() != 250*time.Millisecond {
		t.Errorf("poll interval %v", cfg.YouTube.PollInterval.Std())
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("youtube:\n  poll_interval: soon\n"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSDATA", "cookie")
	t.Setenv("YOUTUBE_API_KEY", "yt-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dialogue.APIKey != "sk-test" || cfg.Bilibili.SessData != "cookie" || cfg.YouTube.APIKey != "yt-key" {
		t.Error("secrets not overlaid from environment")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestPersonaFallback(t *testing.T) {
	cfg := Default()
	cfg.PersonaFile = filepath.Join(t.TempDir(), "absent.txt")
	if cfg.Persona() == "" {
		t.Error("expected fallback persona for missing file")
	}

	path := filepath.Join(t.TempDir(), "persona.txt")
	os.WriteFile(path, []byte("You are Aiko."), 0o644)
	cfg.PersonaFile = path
	if cfg.Persona() != "You are Aiko." {
		t.Errorf("persona not read: %q", cfg.Persona())
	}
}
