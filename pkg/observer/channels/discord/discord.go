// Package discord implements the Discord channel for Observer using discordgo.
//
// Features:
//   - Receive guild and DM messages with every attachment
//   - Detect @-mentions and replies addressed to the bot
//   - Replies split at Discord's 2000 character limit
//   - Embed-suppressed progress notes
//   - Typing indicators
//   - Guild and channel allowlists
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/observer/pkg/observer/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping sends "typing..." indicators while reasoning.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{SendTyping: true}
}

// Discord implements channels.Channel and channels.PresenceChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// botID is the bot's own user id, known after Connect.
	botID string

	// messages is the channel for incoming messages forwarded to the assistant.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.botID = session.State.User.ID
	d.connected.Store(true)

	d.logger.Info("discord: connected", "bot", session.State.User.Username, "id", d.botID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("discord: closing gateway: %w", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel, splitting it into
// chunks that fit Discord's limit. Only the first chunk carries the reply
// reference.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range splitMessage(message.Content, maxMessageLen) {
		msgSend := buildMessageSend(chunk, message, i == 0)
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil || !d.cfg.SendTyping {
		return nil
	}
	return d.session.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	incoming := d.convert(m.Message)
	if incoming == nil {
		return
	}

	d.lastMsg.Store(time.Now())

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// convert maps a Discord message to an IncomingMessage. It returns nil for
// messages the bot must ignore.
func (d *Discord) convert(m *discordgo.Message) *channels.IncomingMessage {
	if m.Author == nil || m.Author.ID == d.botID || m.Author.Bot {
		return nil
	}
	if m.GuildID != "" && !allowed(d.cfg.AllowedGuilds, m.GuildID) {
		return nil
	}
	if !allowed(d.cfg.AllowedChannels, m.ChannelID) {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  displayName(m),
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Timestamp: m.Timestamp,
	}

	if m.MessageReference != nil {
		incoming.ReplyTo = m.MessageReference.MessageID
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == d.botID {
		incoming.Mentioned = true
	}

	for _, u := range m.Mentions {
		if u != nil && u.ID == d.botID {
			incoming.Mentioned = true
		}
	}
	incoming.Content = stripMention(m.Content, d.botID)

	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		incoming.Attachments = append(incoming.Attachments, &channels.MediaInfo{
			MimeType: att.ContentType,
			Filename: att.Filename,
			FileSize: uint64(att.Size),
			URL:      att.URL,
			Width:    uint32(att.Width),
			Height:   uint32(att.Height),
		})
	}

	return incoming
}

// ---------- Helpers ----------

func buildMessageSend(content string, message *channels.OutgoingMessage, first bool) *discordgo.MessageSend {
	msgSend := &discordgo.MessageSend{Content: content}
	if message.SuppressEmbeds {
		msgSend.Flags = discordgo.MessageFlagsSuppressEmbeds
	}
	if first && message.ReplyTo != "" {
		msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
	}
	return msgSend
}

// displayName prefers the guild nickname, then the global display name,
// then the username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// stripMention removes the bot's mention tokens from content.
func stripMention(content, botID string) string {
	if botID == "" {
		return strings.TrimSpace(content)
	}
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

func allowed(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of a chunk. Runes are never split.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
)
