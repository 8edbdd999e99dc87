// Package copilot – config.go defines the configuration structures for the
// Observer assistant.
package copilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/observer/pkg/observer/channels/discord"
	"github.com/jholhewres/observer/pkg/observer/llm"
	"github.com/jholhewres/observer/pkg/observer/media"
	"github.com/jholhewres/observer/pkg/observer/tools"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

// DefaultDirective is the operating instruction injected into every
// reasoning session.
const DefaultDirective = `You are a participant in a group chat. Each user message starts with a
[META] line carrying the message id, the author's display name and the id of
the message it replies to. Never repeat the [META] line in your answers.
Spoilers are hidden as ||<spoiler_msg>||; do not guess their content.
Answer in the language of the conversation and keep replies short.
Use tools when they help; when you call one, fill "$explain" with a few words
describing what you are doing.`

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant display name attached to directives.
	Name string `yaml:"name"`

	// Trigger is a message prefix that activates the bot besides mentions
	// and direct messages (e.g. "!obs"). Empty disables prefix triggering.
	Trigger string `yaml:"trigger"`

	// Model is the completion model identifier.
	Model string `yaml:"model"`

	// API configures the completion endpoint.
	API APIConfig `yaml:"api"`

	// Agent configures the reasoning loop.
	Agent AgentConfig `yaml:"agent"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Tools configures the built-in tools.
	Tools ToolsConfig `yaml:"tools"`

	// Memory configures the long-term notes store.
	Memory MemoryConfig `yaml:"memory"`

	// Media configures attachment resolution.
	Media media.Config `yaml:"media"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the OpenAI-compatible endpoint.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`

	// DirectiveRole is "developer" or "system".
	DirectiveRole string `yaml:"directive_role"`

	// Timeout bounds each completion request.
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig configures the reasoning loop.
type AgentConfig struct {
	// MaxToolUse is the tool-use cap: at most MaxToolUse+1 engine steps run
	// per session and the last one has tools disabled.
	MaxToolUse int `yaml:"max_tool_use"`

	// EntryLimit is the per-channel transcript cap.
	EntryLimit int `yaml:"entry_limit"`

	// ImageDetail is the default attachment fidelity: "none", "low" or "high".
	ImageDetail string `yaml:"image_detail"`

	// Directive overrides DefaultDirective.
	Directive string `yaml:"directive"`
}

// ChannelsConfig configures communication channels.
type ChannelsConfig struct {
	Discord discord.Config `yaml:"discord"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// Timezone is the default timezone of get_time.
	Timezone string `yaml:"timezone"`

	// WebSearch configures the web_search provider.
	WebSearch tools.SearchConfig `yaml:"web_search"`

	// ScrapeMaxBytes caps documents fetched by web_scraper.
	ScrapeMaxBytes int64 `yaml:"scrape_max_bytes"`
}

// MemoryConfig configures the notes store behind the memory tool.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// TTL is how long notes are kept. Zero keeps notes forever.
	TTL time.Duration `yaml:"ttl"`

	// PruneSchedule is the cron schedule of the prune job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	engine := llm.DefaultConfig()
	return &Config{
		Name:  "Observer",
		Model: engine.Model,
		API: APIConfig{
			Temperature:   engine.Temperature,
			MaxTokens:     engine.MaxTokens,
			TopP:          engine.TopP,
			DirectiveRole: engine.DirectiveRole,
			Timeout:       engine.Timeout,
		},
		Agent: AgentConfig{
			MaxToolUse:  5,
			EntryLimit:  transcript.DefaultLimit,
			ImageDetail: "low",
		},
		Channels: ChannelsConfig{
			Discord: discord.DefaultConfig(),
		},
		Tools: ToolsConfig{
			Timezone: "UTC",
			WebSearch: tools.SearchConfig{
				Provider:   "duckduckgo",
				MaxResults: 8,
			},
			ScrapeMaxBytes: tools.DefaultScrapeMaxBytes,
		},
		Memory: MemoryConfig{
			Enabled:       true,
			Path:          "./data/memory.db",
			TTL:           30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Media: media.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the values the reasoning core depends on.
func (c *Config) Validate() error {
	var errs []string
	if c.Agent.EntryLimit <= 0 {
		errs = append(errs, fmt.Sprintf("agent.entry_limit must be > 0 (got %d)", c.Agent.EntryLimit))
	}
	if c.Agent.MaxToolUse < 0 {
		errs = append(errs, fmt.Sprintf("agent.max_tool_use must be >= 0 (got %d)", c.Agent.MaxToolUse))
	}
	if _, err := ParseImageDetail(c.Agent.ImageDetail); err != nil {
		errs = append(errs, "agent.image_detail: "+err.Error())
	}
	switch c.API.DirectiveRole {
	case "", "developer", "system":
	default:
		errs = append(errs, fmt.Sprintf("api.directive_role must be developer or system (got %q)", c.API.DirectiveRole))
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, "name must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DirectiveText returns the configured directive or the default.
func (c *Config) DirectiveText() string {
	if strings.TrimSpace(c.Agent.Directive) != "" {
		return c.Agent.Directive
	}
	return DefaultDirective
}

// EngineConfig builds the completion engine configuration.
func (c *Config) EngineConfig() llm.Config {
	return llm.Config{
		BaseURL:       c.API.BaseURL,
		APIKey:        c.API.APIKey,
		Model:         c.Model,
		Temperature:   c.API.Temperature,
		MaxTokens:     c.API.MaxTokens,
		TopP:          c.API.TopP,
		DirectiveRole: c.API.DirectiveRole,
		Timeout:       c.API.Timeout,
	}
}
