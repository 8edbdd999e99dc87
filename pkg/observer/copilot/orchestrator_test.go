package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/observer/pkg/observer/llm"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

func newTestOrchestrator(engine llm.Engine, notifier Notifier, maxToolUse int) *Orchestrator {
	logger := discardLogger()
	return NewOrchestrator(engine,
		NewNormalizer(fakeResolver{}, logger),
		NewToolReporter(notifier, logger),
		OrchestratorConfig{
			MaxToolUse:    maxToolUse,
			Directive:     "be helpful",
			AssistantName: "Observer",
			ImageDetail:   DetailLow,
		}, logger)
}

func inbound(id, content string) InboundMessage {
	return InboundMessage{Content: content, AuthorName: "ann", MessageID: id, AuthorID: "42"}
}

func TestReason_FinishesImmediately(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{steps: []fakeStep{{text: `line one\nline two`}}}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(engine, notifier, 5)
	state := NewChannelState(64)
	state.Add(transcript.UserTurn("7", transcript.Text("earlier")))

	reply := o.Reason(context.Background(), state, "discord:1", inbound("m1", "hi"))

	if want := "line one\nline two\n-# model: fake-model"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
	if n := len(notifier.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}

	turns := state.Turns()
	if len(turns) != 3 {
		t.Fatalf("state has %d turns, want 3", len(turns))
	}
	if turns[1].Role != transcript.RoleUser || !strings.HasSuffix(turns[1].PlainText(), "\nhi") {
		t.Errorf("committed turn = %+v", turns[1])
	}
	if turns[2].Role != transcript.RoleAssistant || turns[2].PlainText() != `line one\nline two` {
		t.Errorf("merged turn = %+v", turns[2])
	}

	// The engine saw the committed message followed by the directive.
	if len(engine.seen) != 3 || engine.seen[2].Role != transcript.RoleDirective ||
		engine.seen[2].Name != "Observer" || engine.seen[2].PlainText() != "be helpful" {
		t.Errorf("engine history = %+v", engine.seen)
	}
	if p := engine.recordedPolicies(); len(p) != 1 || p[0] != llm.ToolsAutomatic {
		t.Errorf("policies = %v", p)
	}
}

func TestReason_StartFailureKeepsOnlyCommit(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{startErr: errors.New("connection refused")}
	o := newTestOrchestrator(engine, nil, 5)
	state := NewChannelState(64)
	state.Add(transcript.UserTurn("7", transcript.Text("earlier")))

	reply := o.Reason(context.Background(), state, "discord:1", inbound("m1", "hi"))

	if !strings.HasPrefix(reply, "Err: failed reasoning - ") || !strings.Contains(reply, "connection refused") {
		t.Errorf("reply = %q", reply)
	}
	if state.Len() != 2 {
		t.Errorf("state has %d turns, want 2 (prior + commit)", state.Len())
	}
}

func TestReason_StepFailureKeepsOnlyCommit(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		steps:  []fakeStep{{calls: []transcript.ToolCall{call("c1", "web_search", `{}`)}}},
		failAt: 2,
	}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(engine, notifier, 5)
	state := NewChannelState(64)

	reply := o.Reason(context.Background(), state, "discord:1", inbound("m1", "search"))

	if !strings.HasPrefix(reply, "Err: failed reasoning - ") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, llm.ErrStepFailed.Error()) {
		t.Errorf("reply should carry the step error: %q", reply)
	}
	turns := state.Turns()
	if len(turns) != 1 || turns[0].Role != transcript.RoleUser {
		t.Errorf("state after failure = %+v", turns)
	}
	if n := len(notifier.all()); n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}
}

func TestReason_ForcesDisabledAtCap(t *testing.T) {
	t.Parallel()

	const maxToolUse = 3
	engine := &fakeEngine{
		steps: []fakeStep{{calls: []transcript.ToolCall{
			call("c", "web_search", `{"query":"go","$explain":"searching the web"}`),
		}}},
		forcedMsg: "best effort answer",
	}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(engine, notifier, maxToolUse)
	state := NewChannelState(64)

	reply := o.Reason(context.Background(), state, "discord:9", inbound("m1", "go?"))

	want := "best effort answer\n-# model: fake-model\n-# tools: web_search ×4"
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}

	policies := engine.recordedPolicies()
	// Reasoning plus maxToolUse+1 steps, only the last one disabled.
	if len(policies) != maxToolUse+2 {
		t.Fatalf("steps = %d, want %d", len(policies), maxToolUse+2)
	}
	for i, p := range policies {
		want := llm.ToolsAutomatic
		if i == len(policies)-1 {
			want = llm.ToolsDisabled
		}
		if p != want {
			t.Errorf("step %d policy = %v, want %v", i, p, want)
		}
	}

	notes := notifier.all()
	if len(notes) != 4 || notes[0] != "discord:9|-# searching the web..." {
		t.Errorf("notes = %v", notes)
	}

	// user, then 4x (assistant call, tool), then forced assistant answer
	turns := state.Turns()
	if len(turns) != 10 || hasDirective(turns) {
		t.Errorf("state = %d turns, directive=%v", len(turns), hasDirective(turns))
	}
	if last := turns[len(turns)-1]; last.PlainText() != "best effort answer" {
		t.Errorf("last turn = %+v", last)
	}
}

func TestReason_ZeroCap(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{steps: []fakeStep{{calls: []transcript.ToolCall{call("c", "get_time", `{}`)}}}}
	o := newTestOrchestrator(engine, nil, 0)

	reply := o.Reason(context.Background(), NewChannelState(64), "cli:local", inbound("m1", "time?"))

	if !strings.HasPrefix(reply, "forced answer") || !strings.HasSuffix(reply, "\n-# tools: get_time") {
		t.Errorf("reply = %q", reply)
	}
	if p := engine.recordedPolicies(); len(p) != 2 || p[1] != llm.ToolsDisabled {
		t.Errorf("policies = %v", p)
	}
}

func TestReason_TrailerCountsInFirstUseOrder(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{steps: []fakeStep{
		{calls: []transcript.ToolCall{call("1", "web_scraper", `{}`), call("2", "memory", `{}`)}},
		{calls: []transcript.ToolCall{call("3", "web_scraper", `{"$explain":"reading the page"}`)}},
		{text: "done"},
	}}
	notifier := &fakeNotifier{err: errors.New("rate limited")}
	o := newTestOrchestrator(engine, notifier, 5)

	reply := o.Reason(context.Background(), NewChannelState(64), "discord:1", inbound("m1", "x"))

	if want := "done\n-# model: fake-model\n-# tools: web_scraper ×2, memory"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
	// Delivery failures do not abort the session.
	want := []string{
		"discord:1|-# using web_scraper...",
		"discord:1|-# using memory...",
		"discord:1|-# reading the page...",
	}
	if got := notifier.all(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("notes = %v, want %v", got, want)
	}
}

func TestReason_EmptyAnswerUsesFallback(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{steps: []fakeStep{{}}}
	o := newTestOrchestrator(engine, nil, 5)

	reply := o.Reason(context.Background(), NewChannelState(64), "discord:1", inbound("m1", "x"))
	if want := FallbackText + "\n-# model: fake-model"; reply != want {
		t.Errorf("reply = %q", reply)
	}
}

func TestReason_ConcurrentCommitIsKept(t *testing.T) {
	t.Parallel()

	state := NewChannelState(64)
	engine := &fakeEngine{steps: []fakeStep{{text: "answer"}}}
	engine.onStart = func(*transcript.Transcript) {
		// Another message lands on the channel while the session runs.
		state.Add(transcript.UserTurn("8", transcript.Text("meanwhile")))
	}
	o := newTestOrchestrator(engine, nil, 5)

	o.Reason(context.Background(), state, "discord:1", inbound("m1", "question"))

	turns := state.Turns()
	if len(turns) != 3 {
		t.Fatalf("state = %d turns, want 3", len(turns))
	}
	if turns[1].PlainText() != "meanwhile" || turns[2].Role != transcript.RoleAssistant {
		t.Errorf("unexpected merge order: %+v", turns)
	}
}

func TestReason_NeverLeaksDirective(t *testing.T) {
	t.Parallel()

	state := NewChannelState(8)
	o := newTestOrchestrator(&fakeEngine{steps: []fakeStep{
		{calls: []transcript.ToolCall{call("c", "get_time", `{}`)}},
		{text: "ok"},
	}}, nil, 2)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i)
			if i%3 == 0 {
				o.Ingest(context.Background(), state, inbound(id, "chatter"))
				return
			}
			o.Reason(context.Background(), state, "discord:1", inbound(id, "ask"))
		}()
	}
	wg.Wait()

	turns := state.Turns()
	if hasDirective(turns) {
		t.Error("directive reached the canonical transcript")
	}
	if len(turns) > 8 {
		t.Errorf("state exceeds its cap: %d", len(turns))
	}
}

func TestIngest_CommitsOneTurn(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, nil, 5)
	state := NewChannelState(64)

	msg := inbound("m1", "look ||here||")
	msg.Attachments = []string{"ok-1", "bad"}
	o.Ingest(context.Background(), state, msg)

	turns := state.Turns()
	if len(turns) != 1 {
		t.Fatalf("state = %d turns", len(turns))
	}
	if turns[0].Name != "42" || len(turns[0].Images()) != 1 {
		t.Errorf("turn = %+v", turns[0])
	}
	if len(engine.recordedPolicies()) != 0 {
		t.Error("Ingest must not call the engine")
	}
}
