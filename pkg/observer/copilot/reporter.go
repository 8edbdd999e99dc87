// Package copilot – reporter.go surfaces tool activity to the conversation.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/observer/pkg/observer/tools"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

// Notifier delivers short status notes to a conversation. Delivery is
// fire-and-forget from the caller's point of view.
type Notifier interface {
	Notify(ctx context.Context, conversation, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, conversation, text string) error

func (f NotifierFunc) Notify(ctx context.Context, conversation, text string) error {
	return f(ctx, conversation, text)
}

// ToolReporter posts a progress note for each tool call the engine is about
// to make.
type ToolReporter struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewToolReporter creates a reporter. A nil notifier drops every note.
func NewToolReporter(notifier Notifier, logger *slog.Logger) *ToolReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolReporter{notifier: notifier, logger: logger.With("component", "reporter")}
}

// Report delivers the progress note for call. Failures are logged.
func (r *ToolReporter) Report(ctx context.Context, conversation string, call transcript.ToolCall) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, conversation, ProgressText(call)); err != nil {
		r.logger.Debug("progress note not delivered",
			"conversation", conversation, "tool", call.Name, "error", err)
	}
}

// ProgressText is "-# <rationale>..." when the call carries a rationale and
// "-# using <tool>..." otherwise.
func ProgressText(call transcript.ToolCall) string {
	var args map[string]any
	if call.Arguments != "" {
		_ = json.Unmarshal([]byte(call.Arguments), &args)
	}
	if explain, ok := tools.Rationale(args); ok {
		return fmt.Sprintf("-# %s...", explain)
	}
	return fmt.Sprintf("-# using %s...", call.Name)
}

// ToolUsage counts tool calls in order of first use.
type ToolUsage struct {
	order  []string
	counts map[string]int
}

// Record counts one call of name.
func (u *ToolUsage) Record(name string) {
	if u.counts == nil {
		u.counts = make(map[string]int)
	}
	if u.counts[name] == 0 {
		u.order = append(u.order, name)
	}
	u.counts[name]++
}

// Count returns how many calls of name were recorded.
func (u *ToolUsage) Count(name string) int {
	return u.counts[name]
}

// Total returns the number of recorded calls.
func (u *ToolUsage) Total() int {
	total := 0
	for _, c := range u.counts {
		total += c
	}
	return total
}

// Trailer renders "\n-# tools: a, b ×2", or "" when nothing was used.
func (u *ToolUsage) Trailer() string {
	if len(u.order) == 0 {
		return ""
	}
	items := make([]string, len(u.order))
	for i, name := range u.order {
		if c := u.counts[name]; c > 1 {
			items[i] = fmt.Sprintf("%s ×%d", name, c)
		} else {
			items[i] = name
		}
	}
	return "\n-# tools: " + strings.Join(items, ", ")
}
