package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MessageHandler receives stream events. Implementations must be safe for
// concurrent use; the client calls them from its read goroutine.
type MessageHandler interface {
	HandleMessage(msg Message)
	OnConnected(host string)
	OnDisconnected(reason string)
	OnError(err error)
}

// DefaultHandler buffers incoming events in memory behind a mutex. Buffers
// are bounded; when full, the oldest half is dropped.
type DefaultHandler struct {
	logger *zap.Logger

	mu       sync.Mutex
	newPairs []NewPairEvent
	messages []Message
}

const (
	maxBufferedPairs    = 1000
	maxBufferedMessages = 500
)

// NewDefaultHandler builds a buffering handler. A nil logger disables
// logging.
func NewDefaultHandler(logger *zap.Logger) *DefaultHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultHandler{logger: logger}
}

// HandleMessage buffers the message, decoding new_pairs payloads into typed
// events.
func (h *DefaultHandler) HandleMessage(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Room == roomNewPairs {
		var event NewPairEvent
		if err := json.Unmarshal(msg.Content, &event); err == nil {
			h.newPairs = append(h.newPairs, event)
			if len(h.newPairs) > maxBufferedPairs {
				h.newPairs = h.newPairs[len(h.newPairs)-maxBufferedPairs/2:]
			}
			return
		}
	}

	h.messages = append(h.messages, msg)
	if len(h.messages) > maxBufferedMessages {
		h.messages = h.messages[len(h.messages)-maxBufferedMessages/2:]
	}
}

// NewPairs returns the buffered token listings.
func (h *DefaultHandler) NewPairs() []NewPairEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]NewPairEvent(nil), h.newPairs...)
}

// Messages returns the buffered untyped messages.
func (h *DefaultHandler) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Clear drops all buffered events.
func (h *DefaultHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newPairs = nil
	h.messages = nil
}

func (h *DefaultHandler) OnConnected(host string) {
	h.logger.Info("stream connected", zap.String("host", host))
}

func (h *DefaultHandler) OnDisconnected(reason string) {
	h.logger.Info("stream disconnected", zap.String("reason", reason))
}

func (h *DefaultHandler) OnError(err error) {
	h.logger.Warn("stream error", zap.Error(err))
}
