// Package chat holds the ordered message buffer of one conversation and
// drives streamed answers into it.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("message not found")

const (
	userPrefix = "user-"
	botPrefix  = "bot-"
)

// Message is one chat bubble. IDs never change once created.
type Message struct {
	ID                  string    `json:"id"`
	Text                string    `json:"text"`
	IsUser              bool      `json:"is_user"`
	Timestamp           time.Time `json:"timestamp"`
	IsLoading           bool      `json:"is_loading,omitempty"`
	IsStreaming         bool      `json:"is_streaming,omitempty"`
	IsErrorMessage      bool      `json:"is_error_message,omitempty"`
	ErrorTranslationKey string    `json:"error_translation_key,omitempty"`
	QuestionID          string    `json:"question_id,omitempty"`
	QuestionText        string    `json:"question_text,omitempty"`
}

// Conversation is an insertion-ordered message buffer. Every change is
// published to listeners in the order it was made.
type Conversation struct {
	publish sync.Mutex

	mu        sync.Mutex
	order     []string
	byID      map[string]*Message
	listeners []func(Message)
	now       func() time.Time
}

func NewConversation() *Conversation {
	return &Conversation{
		byID: make(map[string]*Message),
		now:  time.Now,
	}
}

// OnUpdate registers fn for every added or updated message. Listeners run
// synchronously and must not modify the conversation.
func (c *Conversation) OnUpdate(fn func(Message)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Add appends a message and returns it with its new id.
func (c *Conversation) Add(text string, isUser bool, opts ...func(*Message)) Message {
	prefix := botPrefix
	if isUser {
		prefix = userPrefix
	}
	m := &Message{
		ID:        prefix + uuid.NewString(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: c.now(),
	}
	for _, opt := range opts {
		opt(m)
	}

	c.publish.Lock()
	defer c.publish.Unlock()
	c.mu.Lock()
	c.order = append(c.order, m.ID)
	c.byID[m.ID] = m
	snapshot, listeners := *m, c.listeners
	c.mu.Unlock()
	notify(listeners, snapshot)
	return snapshot
}

// Update mutates the message in place. The id cannot be changed.
func (c *Conversation) Update(id string, fn func(*Message)) (Message, error) {
	c.publish.Lock()
	defer c.publish.Unlock()
	c.mu.Lock()
	m, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return Message{}, ErrMessageNotFound
	}
	fn(m)
	m.ID = id
	snapshot, listeners := *m, c.listeners
	c.mu.Unlock()
	notify(listeners, snapshot)
	return snapshot, nil
}

func (c *Conversation) Get(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns a copy of the buffer in insertion order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func notify(listeners []func(Message), m Message) {
	for _, fn := range listeners {
		fn(m)
	}
}

func loading(m *Message) { m.IsLoading = true }
