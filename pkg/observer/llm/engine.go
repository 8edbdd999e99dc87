// Package llm defines the completion engine contract used by the reasoning
// loop and an implementation backed by an OpenAI-compatible API.
package llm

import (
	"context"
	"errors"

	"github.com/jholhewres/observer/pkg/observer/transcript"
)

var (
	// ErrEngineUnavailable is returned when a reasoning session cannot be
	// created.
	ErrEngineUnavailable = errors.New("completion engine unavailable")

	// ErrStepFailed is returned when a session fails to advance.
	ErrStepFailed = errors.New("reasoning step failed")
)

// ToolPolicy controls whether the engine may request tool calls on the next
// step.
type ToolPolicy int

const (
	// ToolsAutomatic lets the engine decide whether to call tools.
	ToolsAutomatic ToolPolicy = iota

	// ToolsDisabled forbids tool calls; the engine must answer in text.
	ToolsDisabled
)

func (p ToolPolicy) String() string {
	if p == ToolsDisabled {
		return "none"
	}
	return "auto"
}

// Engine starts reasoning sessions over a transcript.
type Engine interface {
	// Reasoning performs the first completion over history. Every turn the
	// session produces is appended to history.
	Reasoning(ctx context.Context, history *transcript.Transcript, policy ToolPolicy) (Session, error)

	// Model is the model identifier reported in reply trailers.
	Model() string
}

// Session is one multi-step reasoning exchange.
type Session interface {
	// CanFinish reports whether the last step produced a final answer with
	// no outstanding tool calls.
	CanFinish() bool

	// PendingToolCalls lists the tool calls requested by the last step.
	PendingToolCalls() []transcript.ToolCall

	// Proceed executes the pending tool calls and requests the next step.
	Proceed(ctx context.Context, policy ToolPolicy) error

	// FinalText returns the text of the last step, if any.
	FinalText() (string, bool)
}
