// Package copilot – keyring.go provides credential storage in the operating
// system's native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving secrets:
//  1. config.yaml value (after ${VAR} expansion)
//  2. Environment variable (OBSERVER_API_KEY, DISCORD_TOKEN, ...)
//  3. OS keyring
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const keyringService = "observer"

// Keyring entry names.
const (
	KeyringAPIKey       = "api_key"
	KeyringDiscordToken = "discord_token"
	KeyringBraveAPIKey  = "brave_api_key"
)

// KeyringNames maps the names accepted by `observer config set-key` to
// keyring entries.
var KeyringNames = map[string]string{
	"openai":  KeyringAPIKey,
	"discord": KeyringDiscordToken,
	"brave":   KeyringBraveAPIKey,
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__observer_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveKeyringSecrets fills secrets still missing after config and env
// resolution from the OS keyring.
func ResolveKeyringSecrets(cfg *Config, logger *slog.Logger) {
	fill := func(dst *string, key, what string) {
		if *dst != "" && !IsEnvReference(*dst) {
			return
		}
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from OS keyring", "secret", what)
			return
		}
		// An unresolved ${VAR} placeholder is not a usable secret.
		*dst = ""
	}
	fill(&cfg.API.APIKey, KeyringAPIKey, "api_key")
	fill(&cfg.Channels.Discord.Token, KeyringDiscordToken, "discord_token")
	fill(&cfg.Tools.WebSearch.BraveAPIKey, KeyringBraveAPIKey, "brave_api_key")

	if cfg.API.APIKey == "" {
		logger.Warn("no API key found. Set one with: observer config set-key openai")
	}
}

// ReadPassword prompts for a secret without echo. Non-terminal input is read
// as a single line.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	var (
		secret []byte
		err    error
	)
	if term.IsTerminal(fd) {
		secret, err = term.ReadPassword(fd)
		fmt.Println()
	} else {
		var buf [4096]byte
		var n int
		n, err = os.Stdin.Read(buf[:])
		secret = buf[:n]
	}
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimRight(string(secret), "\r\n"), nil
}
