// Package copilot – orchestrator.go runs one bounded reasoning session per
// triggering message over a private copy of the channel transcript.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/observer/pkg/observer/llm"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

// FallbackText is the reply body when the engine returns no text.
const FallbackText = "Err: response is none from ai"

// OrchestratorConfig holds the reasoning parameters.
type OrchestratorConfig struct {
	// MaxToolUse is the tool-use cap. The loop runs at most MaxToolUse+1
	// steps and the one at index MaxToolUse has tools disabled.
	MaxToolUse int

	// Directive is the ephemeral instruction injected into every session.
	Directive string

	// AssistantName attributes the directive.
	AssistantName string

	// ImageDetail is the default attachment fidelity.
	ImageDetail ImageDetail
}

// Orchestrator drives reasoning sessions.
type Orchestrator struct {
	engine     llm.Engine
	normalizer *Normalizer
	reporter   *ToolReporter
	cfg        OrchestratorConfig
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(engine llm.Engine, normalizer *Normalizer, reporter *ToolReporter, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil, logger)
	}
	if reporter == nil {
		reporter = NewToolReporter(nil, logger)
	}
	if cfg.MaxToolUse < 0 {
		cfg.MaxToolUse = 0
	}
	return &Orchestrator{
		engine:     engine,
		normalizer: normalizer,
		reporter:   reporter,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Ingest records a message that does not ask for a reply.
func (o *Orchestrator) Ingest(ctx context.Context, state *ChannelState, msg InboundMessage) {
	state.Add(o.normalizer.Normalize(ctx, msg, o.cfg.ImageDetail))
}

// Reason commits msg to state, runs a reasoning session over a private copy
// and returns the reply text. On success the session's new turns (minus the
// directive) are merged back into state; on failure state keeps only the
// committed message and a diagnostic is returned.
//
// Concurrent sessions on the same state are not serialized: each snapshot
// reflects one instant and merges from different sessions may interleave.
func (o *Orchestrator) Reason(ctx context.Context, state *ChannelState, conversation string, msg InboundMessage) string {
	logger := o.logger.With("session", uuid.NewString(), "conversation", conversation, "msg_id", msg.MessageID)
	start := time.Now()

	state.Add(o.normalizer.Normalize(ctx, msg, o.cfg.ImageDetail))

	local := state.Snapshot()
	local.SetLimit(transcript.Unbounded)
	boundary := local.Len()

	directiveAt := local.Len()
	local.Add(transcript.DirectiveTurn(o.cfg.AssistantName, o.cfg.Directive))

	session, err := o.engine.Reasoning(ctx, local, llm.ToolsAutomatic)
	if err != nil {
		logger.Error("reasoning failed to start", "error", err)
		return failureText(err)
	}

	var usage ToolUsage
	for i := 0; i <= o.cfg.MaxToolUse; i++ {
		if session.CanFinish() {
			break
		}

		for _, call := range session.PendingToolCalls() {
			usage.Record(call.Name)
			o.reporter.Report(ctx, conversation, call)
		}

		policy := llm.ToolsAutomatic
		if i == o.cfg.MaxToolUse {
			policy = llm.ToolsDisabled
		}
		if err := session.Proceed(ctx, policy); err != nil {
			logger.Error("reasoning step failed", "step", i, "policy", policy.String(), "error", err)
			return failureText(err)
		}
	}

	text, ok := session.FinalText()
	if !ok {
		text = FallbackText
	}
	reply := strings.ReplaceAll(text, `\n`, "\n") +
		"\n-# model: " + o.engine.Model() +
		usage.Trailer()

	delta := make([]transcript.Turn, 0, local.Len()-boundary)
	for i, turn := range local.Since(boundary) {
		if boundary+i == directiveAt {
			continue
		}
		delta = append(delta, turn)
	}
	state.Add(delta...)

	logger.Info("reasoning finished",
		"tool_calls", usage.Total(),
		"merged_turns", len(delta),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

func failureText(err error) string {
	return fmt.Sprintf("Err: failed reasoning - %v", err)
}
