// Package copilot – assistant.go dispatches channel messages: triggering
// messages get a reasoning session and a reply, everything else is recorded
// as conversation context.
package copilot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/observer/pkg/observer/channels"
)

// ClearCommand wipes the conversation history of the channel it is sent in.
const ClearCommand = "/clear"

// typingInterval refreshes the typing indicator, which platforms expire
// after a few seconds.
const typingInterval = 8 * time.Second

// Transport is the subset of the channel manager the assistant uses.
type Transport interface {
	Messages() <-chan *channels.IncomingMessage
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
	Typing(ctx context.Context, channelName, to string)
}

// AssistantConfig configures message routing.
type AssistantConfig struct {
	// Trigger is an optional prefix that activates the bot in groups.
	Trigger string

	// Typing shows a typing indicator while reasoning.
	Typing bool
}

// Assistant routes incoming messages to the orchestrator.
type Assistant struct {
	cfg          AssistantConfig
	transport    Transport
	orchestrator *Orchestrator
	states       *ChannelStates
	logger       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAssistant creates an assistant.
func NewAssistant(cfg AssistantConfig, transport Transport, orchestrator *Orchestrator, states *ChannelStates, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		cfg:          cfg,
		transport:    transport,
		orchestrator: orchestrator,
		states:       states,
		logger:       logger.With("component", "assistant"),
	}
}

// Start begins consuming messages. Each message is handled on its own
// goroutine.
func (a *Assistant) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.messageLoop()
	a.logger.Info("assistant started", "trigger", a.cfg.Trigger)
}

// Stop cancels in-flight work and waits for handlers to return.
func (a *Assistant) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("assistant stopped")
}

func (a *Assistant) messageLoop() {
	defer a.wg.Done()
	for {
		select {
		case msg, ok := <-a.transport.Messages():
			if !ok {
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handleMessage(a.ctx, msg)
			}()

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Assistant) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	logger := a.logger.With(
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	content, triggered := a.route(msg)
	state := a.states.Get(msg.Key())
	inbound := InboundMessage{
		Content:     content,
		AuthorName:  msg.FromName,
		MessageID:   msg.ID,
		ReplyTo:     msg.ReplyTo,
		AuthorID:    msg.From,
		Attachments: msg.AttachmentURLs(),
	}

	if !triggered {
		a.orchestrator.Ingest(ctx, state, inbound)
		logger.Debug("message recorded", "turns", state.Len())
		return
	}

	if strings.EqualFold(strings.TrimSpace(content), ClearCommand) {
		state.Clear()
		logger.Info("conversation cleared")
		a.reply(ctx, msg, "-# conversation cleared", logger)
		return
	}

	logger.Info("incoming message",
		"content_preview", truncate(content, 50),
		"attachments", len(inbound.Attachments),
		"is_group", msg.IsGroup,
	)

	stopTyping := a.keepTyping(ctx, msg)
	reply := a.orchestrator.Reason(ctx, state, msg.Key(), inbound)
	stopTyping()

	a.reply(ctx, msg, reply, logger)
}

// route reports whether msg asks for a reply and returns the content with
// a matched trigger prefix removed. Direct messages and mentions always
// trigger.
func (a *Assistant) route(msg *channels.IncomingMessage) (string, bool) {
	content := msg.Content
	if t := a.cfg.Trigger; t != "" {
		trimmed := strings.TrimSpace(content)
		if len(trimmed) >= len(t) && strings.EqualFold(trimmed[:len(t)], t) {
			return strings.TrimSpace(trimmed[len(t):]), true
		}
	}
	return content, !msg.IsGroup || msg.Mentioned
}

// keepTyping shows the typing indicator until the returned func is called.
func (a *Assistant) keepTyping(ctx context.Context, msg *channels.IncomingMessage) func() {
	if !a.cfg.Typing {
		return func() {}
	}

	a.transport.Typing(ctx, msg.Channel, msg.ChatID)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.transport.Typing(ctx, msg.Channel, msg.ChatID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (a *Assistant) reply(ctx context.Context, msg *channels.IncomingMessage, text string, logger *slog.Logger) {
	out := &channels.OutgoingMessage{Content: text, ReplyTo: msg.ID}
	if err := a.transport.Send(ctx, msg.Channel, msg.ChatID, out); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
