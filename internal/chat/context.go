// Package chat keeps the bounded conversation history that accompanies
// message requests.
package chat

import (
	"sync"

	"github.com/nhle/tasksync/internal/model"
)

// DefaultMaxMessages bounds the history sent with a message request.
const DefaultMaxMessages = 20

// Message is a single entry of the conversation history as sent to the
// backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext maintains an ordered history of conversation messages,
// automatically trimming the oldest entries when the limit is reached.
type ConversationContext struct {
	mu          sync.Mutex
	messages    []Message
	maxMessages int
}

// NewConversationContext creates a context holding at most maxMessages
// entries. A non-positive limit selects DefaultMaxMessages.
func NewConversationContext(maxMessages int) *ConversationContext {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationContext{
		messages:    make([]Message, 0, maxMessages),
		maxMessages: maxMessages,
	}
}

// AddMessage appends a message to the history. Once the limit is exceeded
// the oldest messages are dropped, except the first one which carries the
// opening context of the conversation.
func (c *ConversationContext) AddMessage(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, Message{Role: role, Content: content})

	if len(c.messages) > c.maxMessages {
		trimmed := make([]Message, 0, c.maxMessages)
		trimmed = append(trimmed, c.messages[0])
		excess := len(c.messages) - c.maxMessages
		trimmed = append(trimmed, c.messages[1+excess:]...)
		c.messages = trimmed
	}
}

// Load replaces the history with persisted feed messages, oldest first.
func (c *ConversationContext) Load(feed []model.ChatMessage) {
	c.Reset()
	for _, m := range feed {
		c.AddMessage(m.Role, m.Content)
	}
}

// GetMessages returns a copy of the current conversation messages.
func (c *ConversationContext) GetMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Message, len(c.messages))
	copy(result, c.messages)
	return result
}

// Reset clears all messages from the conversation context.
func (c *ConversationContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = c.messages[:0]
}

// Len returns the number of messages in the conversation context.
func (c *ConversationContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}
