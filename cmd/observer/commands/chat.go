package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/observer/pkg/observer/channels"
	"github.com/jholhewres/observer/pkg/observer/copilot"
)

// chatConversation is the conversation key of the local terminal session.
var chatConversation = channels.ConversationKey("cli", "local")

// newChatCmd creates the `observer chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Send a single message or, without arguments, start an interactive
session. The session keeps its history like a channel does; type /clear to
reset it and exit (or Ctrl+D) to leave.

Examples:
  observer chat "What time is it in Tokyo?"
  observer chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "model to use (e.g. gpt-4o-mini)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model = model
	}

	// Keep the terminal for the conversation unless -v was given.
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); !verbose {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "text"
	logger := newLogger(cmd, cfg, os.Stderr)

	copilot.ResolveKeyringSecrets(cfg, logger)

	var out io.Writer = os.Stdout
	notifier := copilot.NotifierFunc(func(_ context.Context, _, text string) error {
		_, err := fmt.Fprintln(out, text)
		return err
	})

	rt, err := copilot.NewRuntime(cfg, notifier, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	user := localUser()
	state := rt.States.Get(chatConversation)

	if len(args) > 0 {
		reply := rt.Orchestrator.Reason(ctx, state, chatConversation, copilot.InboundMessage{
			Content: args[0], AuthorName: user, MessageID: "1", AuthorID: user,
		})
		fmt.Fprintln(out, reply)
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()
	out = rl.Stdout()

	fmt.Fprintf(out, "%s (%s). /clear resets the history, exit leaves.\n", cfg.Name, rt.Model())

	for n := 1; ; n++ {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.EqualFold(line, copilot.ClearCommand):
			state.Clear()
			fmt.Fprintln(out, "-# conversation cleared")
			continue
		}

		reply := rt.Orchestrator.Reason(ctx, state, chatConversation, copilot.InboundMessage{
			Content:    line,
			AuthorName: user,
			MessageID:  strconv.Itoa(n),
			AuthorID:   user,
		})
		fmt.Fprintln(out, reply)
		fmt.Fprintln(out)
	}
}

func localUser() string {
	for _, v := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(v); u != "" {
			return u
		}
	}
	return "local"
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".observer_history")
}
