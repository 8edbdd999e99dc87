// Package channels defines the interfaces and types for Observer
// communication channels. Each platform adapter implements the Channel
// interface to receive and send messages in a unified way.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "discord").
	Channel string

	// From is the sender's stable identifier on the platform.
	From string

	// FromName is the sender display name.
	FromName string

	// ChatID is the group channel or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Mentioned is true when the message addresses the bot directly
	// (an @-mention or a reply to one of the bot's messages).
	Mentioned bool

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// Attachments lists every file attached to the message.
	Attachments []*MediaInfo
}

// AttachmentURLs returns the download URLs of all attachments.
func (m *IncomingMessage) AttachmentURLs() []string {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a != nil && a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}

// ConversationKey identifies one conversation across every channel.
func ConversationKey(channelName, chatID string) string {
	return channelName + ":" + chatID
}

// SplitConversationKey reverses ConversationKey.
func SplitConversationKey(key string) (channelName, chatID string, ok bool) {
	channelName, chatID, ok = strings.Cut(key, ":")
	if !ok || channelName == "" || chatID == "" {
		return "", "", false
	}
	return channelName, chatID, true
}

// Key returns the conversation key of the message.
func (m *IncomingMessage) Key() string {
	return ConversationKey(m.Channel, m.ChatID)
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// SuppressEmbeds disables link previews. Used for progress notes.
	SuppressEmbeds bool
}

// MediaInfo describes a file attached to an incoming message.
type MediaInfo struct {
	// MimeType is the MIME type reported by the platform.
	MimeType string

	// Filename is the original filename.
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// URL is a direct download URL.
	URL string

	// Width and Height are set for images and video.
	Width  uint32
	Height uint32
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrChannelNotFound     = fmt.Errorf("channel not found")
)
