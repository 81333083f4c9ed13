// Package config loads the engine configuration: a YAML file for shape,
// environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	// DB is the SQLite backlog path.
	DB string `yaml:"db"`
	// PersonaFile holds the role-setting preamble text.
	PersonaFile string `yaml:"persona_file"`
	// HostIdentity is the source identity attached to transcribed speech.
	HostIdentity string `yaml:"host_identity"`
	// TranscriptFile receives streamed reply text for the subtitle overlay.
	// Empty disables the writer.
	TranscriptFile string `yaml:"transcript_file"`

	Display  Display  `yaml:"display"`
	Dialogue Dialogue `yaml:"dialogue"`
	Bilibili Bilibili `yaml:"bilibili"`
	YouTube  YouTube  `yaml:"youtube"`
	VTS      VTS      `yaml:"vts"`
}

// Display configures the observer surface.
type Display struct {
	// Addr is the listen address; empty disables the surface.
	Addr string `yaml:"addr"`
}

// Dialogue configures the realtime channel. APIKey comes from
// $OPENAI_API_KEY, never from the file.
type Dialogue struct {
	URL      string `yaml:"url"`
	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`
	APIKey   string `yaml:"-"`
}

// Bilibili configures the danmaku crawler; empty RoomID disables it.
// SessData comes from $SESSDATA.
type Bilibili struct {
	RoomID   string `yaml:"room_id"`
	SessData string `yaml:"-"`
}

// Duration decodes "1s" style YAML values into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// YouTube configures the live-chat poller; empty VideoID disables it.
// APIKey comes from $YOUTUBE_API_KEY.
type YouTube struct {
	VideoID      string   `yaml:"video_id"`
	PollInterval Duration `yaml:"poll_interval"`
	APIKey       string   `yaml:"-"`
}

// VTS configures the avatar hotkey adapter; empty URL disables it.
type VTS struct {
	URL       string            `yaml:"url"`
	TokenPath string            `yaml:"token_path"`
	Hotkeys   map[string]string `yaml:"hotkeys"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".aiko")
	return Config{
		DB:           filepath.Join(base, "chat_memory.db"),
		PersonaFile:  filepath.Join(base, "persona.txt"),
		HostIdentity: "host",
		Display:      Display{Addr: "127.0.0.1:8787"},
		Dialogue: Dialogue{
			URL:      "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview-2024-12-17",
			Voice:    "coral",
			Language: "zh",
		},
		YouTube: YouTube{PollInterval: Duration(time.Second)},
		VTS:     VTS{TokenPath: filepath.Join(base, "vts_token.json")},
	}
}

// Load reads path over the defaults and overlays secrets from the
// environment. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Dialogue.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Bilibili.SessData = os.Getenv("SESSDATA")
	cfg.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")

	if cfg.YouTube.PollInterval <= 0 {
		cfg.YouTube.PollInterval = Duration(time.Second)
	}
	return cfg, nil
}

// Persona reads the role-setting preamble. A missing file yields a minimal
// fallback rather than an error, so the engine can start unconfigured.
func (c Config) Persona() string {
	b, err := os.ReadFile(c.PersonaFile)
	if err != nil || len(b) == 0 {
		return "You are a friendly virtual streamer. Reply briefly and stay in character."
	}
	return string(b)
}
