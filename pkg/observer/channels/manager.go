// manager.go fans the incoming streams of every registered channel into a
// single stream and routes replies back to the right platform.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager orchestrates multiple communication channels, aggregating received
// messages into one stream and routing outgoing messages.
type Manager struct {
	// channels stores every registered channel, indexed by name.
	channels map[string]Channel

	// messages is the aggregated stream of all channels.
	messages chan *IncomingMessage

	logger *slog.Logger

	// listenWg tracks listener goroutines for a safe shutdown.
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a channel manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}

	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel and begins listening.
// Channels that fail to connect are logged and skipped. Returns an error
// only when channels were registered and none of them connected.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	// Snapshot under lock to avoid racing with Register.
	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", name, "error", err)
			continue
		}

		connected++
		m.logger.Info("channel connected", "channel", name)

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected")
	}
	return nil
}

// Stop disconnects every channel and closes the aggregated stream once all
// listeners have returned.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.listenWg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
		}
	}

	close(m.messages)
	m.logger.Info("channels stopped")
}

// Messages returns the aggregated stream of every channel.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send delivers msg through the named channel.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	m.mu.RLock()
	ch, exists := m.channels[channelName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrChannelNotFound, channelName)
	}
	if !ch.IsConnected() {
		return fmt.Errorf("%w: %q", ErrChannelDisconnected, channelName)
	}

	return ch.Send(ctx, to, msg)
}

// Notify sends an embed-suppressed note to the conversation identified by
// key (see ConversationKey).
func (m *Manager) Notify(ctx context.Context, key, text string) error {
	channelName, chatID, ok := SplitConversationKey(key)
	if !ok {
		return fmt.Errorf("%w: malformed conversation key %q", ErrChannelNotFound, key)
	}
	return m.Send(ctx, channelName, chatID, &OutgoingMessage{Content: text, SuppressEmbeds: true})
}

// Typing shows a typing indicator when the channel supports it.
func (m *Manager) Typing(ctx context.Context, channelName, to string) {
	m.mu.RLock()
	ch, exists := m.channels[channelName]
	m.mu.RUnlock()

	pc, ok := ch.(PresenceChannel)
	if !exists || !ok {
		return
	}
	if err := pc.SendTyping(ctx, to); err != nil {
		m.logger.Debug("typing indicator failed", "channel", channelName, "error", err)
	}
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// HealthAll returns the health of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// listenChannel forwards messages from one channel to the aggregated stream.
func (m *Manager) listenChannel(ch Channel) {
	in := ch.Receive()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}
