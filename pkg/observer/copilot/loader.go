// Package copilot – loader.go handles loading configuration from YAML files
// with credentials supplied through environment variables and .env files.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// It loads .env files, expands environment variables, fills secrets from
// the environment and validates the result.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// Partial sections must not switch off boolean features that default
	// to on.
	defaults := DefaultConfig()
	if !hasKey(raw, "memory", "enabled") {
		cfg.Memory.Enabled = defaults.Memory.Enabled
	}
	if !hasKey(raw, "channels", "discord", "send_typing") {
		cfg.Channels.Discord.SendTyping = defaults.Channels.Discord.SendTyping
	}

	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to path. Secrets that match an
// environment variable are written as references to it. An existing file
// is backed up to path.bak first.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, "OBSERVER_API_KEY", "OPENAI_API_KEY")
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, "DISCORD_TOKEN")
	sanitized.Tools.WebSearch.BraveAPIKey = sanitizeSecret(cfg.Tools.WebSearch.BraveAPIKey, "BRAVE_API_KEY")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"observer.yaml",
		"observer.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about secrets written in plain text in the config.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if looksLikeRealKey(cfg.API.APIKey) && os.Getenv("OBSERVER_API_KEY") != cfg.API.APIKey &&
		os.Getenv("OPENAI_API_KEY") != cfg.API.APIKey {
		logger.Warn("API key appears to be hardcoded in config",
			"hint", "set 'api_key: ${OBSERVER_API_KEY}' or run 'observer config set-key openai'")
	}
}

// ---------- Internal ----------

// loadEnvFiles loads .env files without overriding existing variables.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR
// references. Unset variables without a modifier keep their placeholder;
// an unset ${VAR:?error} becomes an "ERROR:VAR:msg" marker.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if val, ok := os.LookupEnv(bare); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		}
		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but fails when a
// ${VAR:?error} variable is unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}

	rest := result[idx+len("ERROR:"):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	return "", fmt.Errorf("config error: %s - %s", rest[:colon], rest[colon+1:])
}

// resolveSecrets fills empty or placeholder secrets from the environment.
func resolveSecrets(cfg *Config) {
	fill := func(dst *string, envVars ...string) {
		if *dst != "" && !IsEnvReference(*dst) {
			return
		}
		for _, v := range envVars {
			if val := os.Getenv(v); val != "" {
				*dst = val
				return
			}
		}
	}
	fill(&cfg.API.APIKey, "OBSERVER_API_KEY", "OPENAI_API_KEY")
	fill(&cfg.Channels.Discord.Token, "DISCORD_TOKEN")
	fill(&cfg.Tools.WebSearch.BraveAPIKey, "BRAVE_API_KEY")
}

// resolveRelativePaths makes file paths relative to the config file's
// directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	if cfg.Memory.Path != "" {
		cfg.Memory.Path = resolvePathFromConfig(cfg.Memory.Path, filepath.Dir(configPath))
	}
}

// resolvePathFromConfig expands ~ and resolves relative paths against
// configDir.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret returns a ${VAR} reference when one of envVars holds value.
func sanitizeSecret(value string, envVars ...string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, v := range envVars {
		if os.Getenv(v) == value {
			return "${" + v + "}"
		}
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real key.
func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	return strings.HasPrefix(s, "sk-") || len(s) > 20
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}

func hasKey(m map[string]any, keys ...string) bool {
	cur := m
	for i, k := range keys {
		v, ok := cur[k]
		if !ok {
			return false
		}
		if i == len(keys)-1 {
			return true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}
