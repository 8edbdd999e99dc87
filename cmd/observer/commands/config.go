package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/observer/pkg/observer/copilot"
)

// newConfigCmd creates the `observer config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the assistant configuration",
		Long: `Manage the Observer configuration and stored credentials.

Examples:
  observer config init
  observer config show
  observer config set-key openai
  observer config delete-key discord`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Root().PersistentFlags().GetString("config")
			if target == "" {
				target = "config.yaml"
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			}

			cfg := copilot.DefaultConfig()
			cfg.API.APIKey = "${OBSERVER_API_KEY}"
			cfg.Channels.Discord.Token = "${DISCORD_TOKEN}"
			if err := copilot.SaveConfigToFile(cfg, target); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", target)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			shown := *cfg
			shown.API.APIKey = copilot.MaskSecret(cfg.API.APIKey)
			shown.Channels.Discord.Token = copilot.MaskSecret(cfg.Channels.Discord.Token)
			shown.Tools.WebSearch.BraveAPIKey = copilot.MaskSecret(cfg.Tools.WebSearch.BraveAPIKey)

			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <" + strings.Join(keyringNames(), "|") + ">",
		Short:     "Store a credential in the OS keyring",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: keyringNames(),
		RunE: func(_ *cobra.Command, args []string) error {
			entry := copilot.KeyringNames[args[0]]
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; use environment variables instead")
			}

			value, err := copilot.ReadPassword(fmt.Sprintf("%s key (hidden input): ", args[0]))
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := copilot.StoreKeyring(entry, strings.TrimSpace(value)); err != nil {
				return fmt.Errorf("storing %s key: %w", args[0], err)
			}
			fmt.Printf("%s key stored in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <" + strings.Join(keyringNames(), "|") + ">",
		Short:     "Remove a credential from the OS keyring",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: keyringNames(),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := copilot.DeleteKeyring(copilot.KeyringNames[args[0]]); err != nil {
				return fmt.Errorf("deleting %s key: %w", args[0], err)
			}
			fmt.Printf("%s key removed.\n", args[0])
			return nil
		},
	}
}

func keyringNames() []string {
	names := make([]string, 0, len(copilot.KeyringNames))
	for n := range copilot.KeyringNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
