// Package transcript holds the conversation model shared by the channel
// state, the reasoning orchestrator and the completion engine: turns, their
// content parts, and the bounded append/evict log that stores them.
package transcript

// Role identifies which variant of turn a Turn is.
type Role string

const (
	// RoleUser is an inbound message from a channel member.
	RoleUser Role = "user"

	// RoleDirective is an ephemeral operating instruction for the engine.
	// Directive turns only ever live in a reasoning session's private copy.
	RoleDirective Role = "directive"

	// RoleAssistant is a reply (or a tool request) produced by the engine.
	RoleAssistant Role = "assistant"

	// RoleTool is the result of one tool invocation.
	RoleTool Role = "tool"
)

// Detail is the fidelity hint attached to an image part.
type Detail string

const (
	DetailUnspecified Detail = ""
	DetailLow         Detail = "low"
	DetailHigh        Detail = "high"
)

// PartKind distinguishes text parts from image parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one element of a turn's content: either text or an image.
type ContentPart struct {
	Kind PartKind

	// Text is set for PartText.
	Text string

	// URL is set for PartImage. Inline payloads use data: URLs.
	URL string

	// Detail is the optional image fidelity hint.
	Detail Detail
}

// Text builds a text part.
func Text(s string) ContentPart {
	return ContentPart{Kind: PartText, Text: s}
}

// Image builds an image part.
func Image(url string, detail Detail) ContentPart {
	return ContentPart{Kind: PartImage, URL: url, Detail: detail}
}

// ToolCall is a tool invocation requested by the engine.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments object
}

// Turn is one addressable unit of conversation.
type Turn struct {
	Role Role

	// Name attributes the turn: the author's stable id for user turns, the
	// assistant display name for directives.
	Name string

	Parts []ContentPart

	// ToolCalls is set on assistant turns that request tool invocations.
	ToolCalls []ToolCall

	// ToolCallID is set on tool turns and references the answered call.
	ToolCallID string
}

// UserTurn builds a user turn attributed to authorID.
func UserTurn(authorID string, parts ...ContentPart) Turn {
	return Turn{Role: RoleUser, Name: authorID, Parts: parts}
}

// DirectiveTurn builds a directive turn carrying text.
func DirectiveTurn(name, text string) Turn {
	return Turn{Role: RoleDirective, Name: name, Parts: []ContentPart{Text(text)}}
}

// AssistantTurn builds an assistant turn with optional text and tool calls.
func AssistantTurn(text string, calls ...ToolCall) Turn {
	t := Turn{Role: RoleAssistant, ToolCalls: calls}
	if text != "" {
		t.Parts = []ContentPart{Text(text)}
	}
	return t
}

// ToolResultTurn builds the tool turn answering callID.
func ToolResultTurn(callID, result string) Turn {
	return Turn{Role: RoleTool, ToolCallID: callID, Parts: []ContentPart{Text(result)}}
}

// PlainText concatenates the text parts of the turn.
func (t Turn) PlainText() string {
	var out string
	for _, p := range t.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// Images returns the image parts of the turn.
func (t Turn) Images() []ContentPart {
	var out []ContentPart
	for _, p := range t.Parts {
		if p.Kind == PartImage {
			out = append(out, p)
		}
	}
	return out
}

// clone returns a copy of the turn that shares no slices with t.
func (t Turn) clone() Turn {
	c := t
	if t.Parts != nil {
		c.Parts = make([]ContentPart, len(t.Parts))
		copy(c.Parts, t.Parts)
	}
	if t.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		copy(c.ToolCalls, t.ToolCalls)
	}
	return c
}
