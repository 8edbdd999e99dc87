package copilot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/observer/pkg/observer/llm"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStep is one scripted engine response.
type fakeStep struct {
	calls []transcript.ToolCall
	text  string
}

// fakeEngine replays steps. Like a real engine it appends its assistant and
// tool turns to the history it was given, and answers in text whenever
// tools are disabled.
type fakeEngine struct {
	steps     []fakeStep
	startErr  error
	failAt    int // Proceed call (1-based) that fails; 0 never
	onStart   func(history *transcript.Transcript)
	forcedMsg string

	mu       sync.Mutex
	policies []llm.ToolPolicy
	proceeds int
	seen     []transcript.Turn
}

func (e *fakeEngine) Model() string { return "fake-model" }

func (e *fakeEngine) Reasoning(_ context.Context, history *transcript.Transcript, policy llm.ToolPolicy) (llm.Session, error) {
	e.mu.Lock()
	e.policies = append(e.policies, policy)
	e.seen = history.Turns()
	e.mu.Unlock()

	if e.onStart != nil {
		e.onStart(history)
	}
	if e.startErr != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrEngineUnavailable, e.startErr)
	}
	s := &fakeSession{engine: e, history: history}
	s.step(policy)
	return s, nil
}

func (e *fakeEngine) recordedPolicies() []llm.ToolPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llm.ToolPolicy(nil), e.policies...)
}

type fakeSession struct {
	engine  *fakeEngine
	history *transcript.Transcript
	cursor  int
	last    fakeStep
}

func (s *fakeSession) step(policy llm.ToolPolicy) {
	steps := s.engine.steps
	st := fakeStep{}
	if len(steps) > 0 {
		idx := s.cursor
		if idx >= len(steps) {
			idx = len(steps) - 1
		}
		st = steps[idx]
	}
	s.cursor++

	if policy == llm.ToolsDisabled && len(st.calls) > 0 {
		msg := s.engine.forcedMsg
		if msg == "" {
			msg = "forced answer"
		}
		st = fakeStep{text: msg}
	}
	s.last = st
	s.history.Add(transcript.AssistantTurn(st.text, st.calls...))
}

func (s *fakeSession) CanFinish() bool { return len(s.last.calls) == 0 }

func (s *fakeSession) PendingToolCalls() []transcript.ToolCall {
	return append([]transcript.ToolCall(nil), s.last.calls...)
}

func (s *fakeSession) FinalText() (string, bool) {
	return s.last.text, s.last.text != ""
}

func (s *fakeSession) Proceed(_ context.Context, policy llm.ToolPolicy) error {
	e := s.engine
	e.mu.Lock()
	e.policies = append(e.policies, policy)
	e.proceeds++
	n := e.proceeds
	e.mu.Unlock()

	if e.failAt != 0 && n == e.failAt {
		return fmt.Errorf("%w: upstream 500", llm.ErrStepFailed)
	}
	for _, c := range s.last.calls {
		s.history.Add(transcript.ToolResultTurn(c.ID, `{"ok":true}`))
	}
	s.step(policy)
	return nil
}

// fakeNotifier records notes and optionally fails.
type fakeNotifier struct {
	mu    sync.Mutex
	notes []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, conversation, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, conversation+"|"+text)
	return n.err
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes...)
}

// fakeResolver resolves references that start with "ok".
type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, refs []string) []string {
	var out []string
	for _, r := range refs {
		if strings.HasPrefix(r, "ok") {
			out = append(out, "data:image/png;base64,"+r)
		}
	}
	return out
}

func call(id, name, args string) transcript.ToolCall {
	return transcript.ToolCall{ID: id, Name: name, Arguments: args}
}

func hasDirective(turns []transcript.Turn) bool {
	for _, t := range turns {
		if t.Role == transcript.RoleDirective {
			return true
		}
	}
	return false
}
