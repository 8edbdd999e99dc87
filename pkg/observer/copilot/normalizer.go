// Package copilot – normalizer.go turns inbound chat messages into user turns.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/observer/pkg/observer/transcript"
)

const (
	// HighDetailToken in a message forces high-fidelity image analysis.
	HighDetailToken = "!hidetail"

	// SpoilerPlaceholder replaces every spoiler span.
	SpoilerPlaceholder = "||<spoiler_msg>||"
)

var spoilerPattern = regexp.MustCompile(`\|\|.*?\|\|`)

// ImageDetail is the attachment fidelity policy.
type ImageDetail int

const (
	// DetailNone skips attachments entirely.
	DetailNone ImageDetail = iota
	DetailLow
	DetailHigh
)

// ParseImageDetail parses "none", "low" or "high".
func ParseImageDetail(s string) (ImageDetail, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return DetailNone, nil
	case "low", "":
		return DetailLow, nil
	case "high":
		return DetailHigh, nil
	}
	return DetailNone, fmt.Errorf("unknown image detail %q (want none, low or high)", s)
}

func (d ImageDetail) String() string {
	switch d {
	case DetailLow:
		return "low"
	case DetailHigh:
		return "high"
	}
	return "none"
}

func (d ImageDetail) partDetail() transcript.Detail {
	switch d {
	case DetailLow:
		return transcript.DetailLow
	case DetailHigh:
		return transcript.DetailHigh
	}
	return transcript.DetailUnspecified
}

// InboundMessage is a chat message as seen by the reasoning core.
type InboundMessage struct {
	Content    string
	AuthorName string
	MessageID  string

	// ReplyTo is the id of the message this one replies to, if any.
	ReplyTo string

	// AuthorID is the author's stable platform identifier.
	AuthorID string

	// Attachments are download references (URLs).
	Attachments []string
}

// AttachmentResolver turns attachment references into inline image
// payloads. It is best-effort: unresolvable references are omitted.
type AttachmentResolver interface {
	Resolve(ctx context.Context, refs []string) []string
}

// Normalizer builds user turns from inbound messages.
type Normalizer struct {
	resolver AttachmentResolver
	logger   *slog.Logger
}

// NewNormalizer creates a normalizer. A nil resolver disables attachments.
func NewNormalizer(resolver AttachmentResolver, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{resolver: resolver, logger: logger.With("component", "normalizer")}
}

// Normalize returns exactly one user turn attributed to msg.AuthorID: a
// [META] envelope text part followed by one image part per resolved
// attachment. It never fails.
func (n *Normalizer) Normalize(ctx context.Context, msg InboundMessage, detail ImageDetail) transcript.Turn {
	body := spoilerPattern.ReplaceAllString(msg.Content, SpoilerPlaceholder)

	if strings.Contains(body, HighDetailToken) {
		body = strings.ReplaceAll(body, HighDetailToken, "")
		detail = DetailHigh
	}

	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = "none"
	}
	envelope := fmt.Sprintf("[META]msg_id:%s,user_name:%s,reply_msg:%s;\n%s",
		msg.MessageID, msg.AuthorName, replyTo, body)

	parts := []transcript.ContentPart{transcript.Text(envelope)}

	if detail != DetailNone && len(msg.Attachments) > 0 && n.resolver != nil {
		payloads := n.resolver.Resolve(ctx, msg.Attachments)
		if dropped := len(msg.Attachments) - len(payloads); dropped > 0 {
			n.logger.Debug("attachments dropped", "msg_id", msg.MessageID, "dropped", dropped)
		}
		for _, p := range payloads {
			parts = append(parts, transcript.Image(p, detail.partDetail()))
		}
	}

	return transcript.UserTurn(msg.AuthorID, parts...)
}
