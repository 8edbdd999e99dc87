package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/observer/pkg/observer/channels"
	"github.com/jholhewres/observer/pkg/observer/channels/discord"
	"github.com/jholhewres/observer/pkg/observer/copilot"
)

// newServeCmd creates the `observer serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the messaging channels and start answering",
		Long: `Start Observer as a long-running service: connect the enabled channels,
record every message as context and answer triggering ones.

Examples:
  observer serve
  observer serve --config ./config.yaml -v`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)
	logger.Info("config loaded", "path", configPath)

	// ── Resolve secrets ──
	// Audit before resolving so only values written in the file are flagged.
	copilot.AuditSecrets(cfg, logger)
	copilot.ResolveKeyringSecrets(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Channels ──
	manager := channels.NewManager(logger)
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("discord", channelFilter, true) {
		if cfg.Channels.Discord.Token == "" {
			logger.Warn("discord token not set, channel disabled",
				"hint", "observer config set-key discord")
		} else if err := manager.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if len(manager.HealthAll()) == 0 {
		return fmt.Errorf("no channel enabled")
	}

	// ── Reasoning core ──
	rt, err := copilot.NewRuntime(cfg, manager, logger)
	if err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}

	assistant := copilot.NewAssistant(copilot.AssistantConfig{
		Trigger: cfg.Trigger,
		Typing:  cfg.Channels.Discord.SendTyping,
	}, manager, rt.Orchestrator, rt.States, logger)

	if err := rt.Start(ctx); err != nil {
		rt.Close()
		return fmt.Errorf("starting scheduler: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		rt.Close()
		return fmt.Errorf("starting channels: %w", err)
	}
	assistant.Start(ctx)

	// ── Wait for shutdown ──
	logger.Info("Observer running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"trigger", cfg.Trigger,
		"model", rt.Model(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		assistant.Stop()
		manager.Stop()
		if err := rt.Close(); err != nil {
			logger.Error("failed to close runtime", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	return slices.Contains(filter, name)
}
