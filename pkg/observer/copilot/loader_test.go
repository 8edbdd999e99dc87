package copilot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte("name: Watcher\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Watcher" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Model != "gpt-4o-mini" || cfg.API.MaxTokens != 4000 || cfg.API.Temperature != 0.5 {
		t.Errorf("engine defaults lost: %+v", cfg.API)
	}
	if cfg.Agent.MaxToolUse != 5 || cfg.Agent.EntryLimit != 64 {
		t.Errorf("agent defaults lost: %+v", cfg.Agent)
	}
	if !cfg.Memory.Enabled || !cfg.Channels.Discord.SendTyping {
		t.Error("boolean defaults should stay on")
	}
}

func TestParseConfig_Overlay(t *testing.T) {
	t.Parallel()

	data := `
model: gpt-4.1
agent:
  max_tool_use: 2
  image_detail: high
memory:
  enabled: false
  ttl: 48h
channels:
  discord:
    allowed_guilds: ["g1"]
`
	cfg, err := ParseConfig([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "gpt-4.1" || cfg.Agent.MaxToolUse != 2 || cfg.Agent.ImageDetail != "high" {
		t.Errorf("overlay not applied: model=%s agent=%+v", cfg.Model, cfg.Agent)
	}
	if cfg.Agent.EntryLimit != 64 {
		t.Errorf("EntryLimit = %d, want default 64", cfg.Agent.EntryLimit)
	}
	if cfg.Memory.Enabled {
		t.Error("explicit memory.enabled=false was overridden")
	}
	if cfg.Memory.TTL != 48*time.Hour || cfg.Memory.PruneSchedule != "@daily" {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if !cfg.Channels.Discord.SendTyping {
		t.Error("send_typing should keep its default when the key is absent")
	}
	if len(cfg.Channels.Discord.AllowedGuilds) != 1 {
		t.Errorf("AllowedGuilds = %v", cfg.Channels.Discord.AllowedGuilds)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := ParseConfig([]byte("agent: [1, 2")); err == nil {
		t.Error("expected a YAML error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero cap is valid", func(c *Config) { c.Agent.MaxToolUse = 0 }, ""},
		{"negative cap", func(c *Config) { c.Agent.MaxToolUse = -1 }, "max_tool_use"},
		{"zero entry limit", func(c *Config) { c.Agent.EntryLimit = 0 }, "entry_limit"},
		{"bad image detail", func(c *Config) { c.Agent.ImageDetail = "ultra" }, "image_detail"},
		{"bad directive role", func(c *Config) { c.API.DirectiveRole = "user" }, "directive_role"},
		{"blank name", func(c *Config) { c.Name = "  " }, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDirectiveText(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.DirectiveText() != DefaultDirective {
		t.Error("empty directive should fall back to the default")
	}
	cfg.Agent.Directive = "be brief"
	if cfg.DirectiveText() != "be brief" {
		t.Error("configured directive ignored")
	}
	if ec := cfg.EngineConfig(); ec.Model != cfg.Model || ec.TopP != 1.0 {
		t.Errorf("EngineConfig = %+v", ec)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("OBS_TEST_SET", "value")
	t.Setenv("OBS_TEST_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"key: ${OBS_TEST_SET}", "key: value"},
		{"key: $OBS_TEST_SET", "key: value"},
		{"key: ${OBS_TEST_EMPTY:-fallback}", "key: "},
		{"key: ${OBS_TEST_UNSET_1:-fallback}", "key: fallback"},
		{"key: ${OBS_TEST_UNSET_1}", "key: ${OBS_TEST_UNSET_1}"},
		{"key: $OBS_TEST_UNSET_1", "key: $OBS_TEST_UNSET_1"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := expandEnvVarsWithValidation("a: 1\nkey: ${OBS_TEST_UNSET_2:?set the key}\n")
	if err == nil || err.Error() != "config error: OBS_TEST_UNSET_2 - set the key" {
		t.Errorf("error = %v", err)
	}
	if _, err := expandEnvVarsWithValidation("key: ${OBS_TEST_SET:?unused}"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("OBS_TEST_API_KEY", "sk-from-env")
	t.Setenv("OBSERVER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DISCORD_TOKEN", "discord-env-token")
	t.Setenv("BRAVE_API_KEY", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
api:
  api_key: ${OBS_TEST_API_KEY}
channels:
  discord:
    token: ${DISCORD_TOKEN_UNSET_FOR_TEST}
memory:
  path: data/notes.db
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.API.APIKey)
	}
	if cfg.Channels.Discord.Token != "discord-env-token" {
		t.Errorf("placeholder token should be filled from DISCORD_TOKEN, got %q", cfg.Channels.Discord.Token)
	}
	if want := filepath.Join(dir, "data", "notes.db"); cfg.Memory.Path != want {
		t.Errorf("Memory.Path = %q, want %q", cfg.Memory.Path, want)
	}

	if err := os.WriteFile(path, []byte("agent:\n  entry_limit: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Error("expected a validation error")
	}
	if _, err := LoadConfigFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected a read error")
	}
}

func TestSaveConfigToFile(t *testing.T) {
	t.Setenv("OBSERVER_API_KEY", "sk-abcdefghijklmnopqrstuvwxyz")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DISCORD_TOKEN", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-abcdefghijklmnopqrstuvwxyz"
	cfg.Channels.Discord.Token = "literal-token"
	cfg.Memory.TTL = 2 * time.Hour

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Error("API key written in plain text")
	}
	if !strings.Contains(string(raw), "${OBSERVER_API_KEY}") {
		t.Errorf("API key should be written as a reference:\n%s", raw)
	}
	if cfg.API.APIKey != "sk-abcdefghijklmnopqrstuvwxyz" {
		t.Error("SaveConfigToFile must not modify its argument")
	}

	back, err := ParseConfig(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Memory.TTL != 2*time.Hour || back.Channels.Discord.Token != "literal-token" {
		t.Errorf("round trip lost values: %+v", back.Memory)
	}

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not written: %v", err)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", ""},
		{"short", "*****"},
		{"${OBSERVER_API_KEY}", "${OBSERVER_API_KEY}"},
		{"sk-1234567890abcd", "*************abcd"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveKeyringSecrets(t *testing.T) {
	keyring.MockInit()

	if err := StoreKeyring(KeyringAPIKey, "sk-from-keyring"); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.API.APIKey = "${OBSERVER_API_KEY}"
	cfg.Channels.Discord.Token = "set-in-config"
	cfg.Tools.WebSearch.BraveAPIKey = "${BRAVE_API_KEY}"

	ResolveKeyringSecrets(cfg, discardLogger())

	if cfg.API.APIKey != "sk-from-keyring" {
		t.Errorf("APIKey = %q", cfg.API.APIKey)
	}
	if cfg.Channels.Discord.Token != "set-in-config" {
		t.Errorf("configured token was overwritten: %q", cfg.Channels.Discord.Token)
	}
	if cfg.Tools.WebSearch.BraveAPIKey != "" {
		t.Errorf("unresolved placeholder kept: %q", cfg.Tools.WebSearch.BraveAPIKey)
	}

	if !KeyringAvailable() {
		t.Error("mock keyring should be available")
	}
	if err := DeleteKeyring(KeyringAPIKey); err != nil {
		t.Fatal(err)
	}
	if GetKeyring(KeyringAPIKey) != "" {
		t.Error("secret still present after delete")
	}
}
