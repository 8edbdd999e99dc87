package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/observer/pkg/observer/copilot"
)

// newSetupCmd creates the `observer setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the assistant name, trigger, model, credentials and tool settings.
Credentials go to the OS keyring and are never written to config.yaml.

Examples:
  observer setup`,
		RunE: runSetup,
	}
}

// setupAnswers holds the wizard inputs as strings and flags, the way the
// form fields bind them.
type setupAnswers struct {
	name, trigger, model, baseURL  string
	apiKey, discordToken, braveKey string
	imageDetail, maxToolUse        string
	memory, useKeyring             bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := copilot.DefaultConfig()
	a := setupAnswers{
		name:        cfg.Name,
		model:       cfg.Model,
		imageDetail: cfg.Agent.ImageDetail,
		maxToolUse:  strconv.Itoa(cfg.Agent.MaxToolUse),
		memory:      cfg.Memory.Enabled,
		useKeyring:  copilot.KeyringAvailable(),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Description("Shown to the model as the author of its instructions.").
				Value(&a.name).
				Validate(notBlank("name")),
			huh.NewInput().
				Title("Trigger prefix").
				Description("Optional, e.g. !obs. Mentions and direct messages always trigger.").
				Value(&a.trigger),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Options(huh.NewOptions("gpt-4o-mini", "gpt-4o", "gpt-4.1-mini", "gpt-4.1")...).
				Value(&a.model),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for api.openai.com; any OpenAI-compatible endpoint works.").
				Value(&a.baseURL),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&a.apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.discordToken),
			huh.NewInput().
				Title("Brave Search API key").
				Description("Optional. DuckDuckGo is used without it.").
				EchoMode(huh.EchoModePassword).
				Value(&a.braveKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Image detail").
				Options(
					huh.NewOption("Low (cheaper)", "low"),
					huh.NewOption("High", "high"),
					huh.NewOption("Ignore images", "none"),
				).
				Value(&a.imageDetail),
			huh.NewInput().
				Title("Tool calls per answer").
				Value(&a.maxToolUse).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 0 {
						return fmt.Errorf("enter a number >= 0")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Enable long-term memory notes?").
				Value(&a.memory),
			huh.NewConfirm().
				Title("Store credentials in the OS keyring?").
				Value(&a.useKeyring),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	cfg.Name = strings.TrimSpace(a.name)
	cfg.Trigger = strings.TrimSpace(a.trigger)
	cfg.Model = a.model
	cfg.API.BaseURL = strings.TrimSpace(a.baseURL)
	cfg.Agent.ImageDetail = a.imageDetail
	cfg.Agent.MaxToolUse, _ = strconv.Atoi(strings.TrimSpace(a.maxToolUse))
	cfg.Memory.Enabled = a.memory

	// config.yaml never contains the real secrets.
	cfg.API.APIKey = "${OBSERVER_API_KEY}"
	cfg.Channels.Discord.Token = "${DISCORD_TOKEN}"
	cfg.Tools.WebSearch.BraveAPIKey = "${BRAVE_API_KEY}"
	if strings.TrimSpace(a.braveKey) != "" {
		cfg.Tools.WebSearch.Provider = "brave"
	}

	stored := storeSecrets(a)

	target, _ := cmd.Root().PersistentFlags().GetString("config")
	if target == "" {
		target = "config.yaml"
	}
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&overwrite).
			Run()
		if err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := copilot.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\n%s created.\n\n", target)
	if stored {
		fmt.Println("Credentials are stored in the OS keyring.")
	} else {
		fmt.Println("Credentials were not stored. Export them before starting:")
		fmt.Println("  export OBSERVER_API_KEY=...")
		fmt.Println("  export DISCORD_TOKEN=...")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  observer chat      # try it in the terminal")
	fmt.Println("  observer serve     # connect to Discord")
	return nil
}

// storeSecrets saves the non-empty secrets in the OS keyring. Reports
// whether every given secret was stored.
func storeSecrets(a setupAnswers) bool {
	if !a.useKeyring {
		return false
	}
	secrets := map[string]string{
		copilot.KeyringAPIKey:       a.apiKey,
		copilot.KeyringDiscordToken: a.discordToken,
		copilot.KeyringBraveAPIKey:  a.braveKey,
	}
	ok := true
	for entry, value := range secrets {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if err := copilot.StoreKeyring(entry, value); err != nil {
			fmt.Printf("[!] Could not store %s: %v\n", entry, err)
			ok = false
		}
	}
	return ok
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
