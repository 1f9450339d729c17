// Package store provides persistence for conversations and their messages.
// A conversation is owned by the device that created it; all lookups are
// scoped by device ID so one client cannot read another's history.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"llmrouter/internal/core"
)

// ErrNotFound is returned when a conversation or message does not exist
// or belongs to a different device.
var ErrNotFound = errors.New("not found")

// Conversation is a chat thread with a fixed model and optional system prompt.
type Conversation struct {
	ID           string    `json:"id" bson:"_id"`
	Title        string    `json:"title" bson:"title"`
	Model        string    `json:"model" bson:"model"`
	SystemPrompt string    `json:"system_prompt" bson:"system_prompt"`
	DeviceID     string    `json:"-" bson:"device_id"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Message is a single turn in a conversation. Assistant messages carry the
// completion lifecycle: they start pending, then become complete or error.
type Message struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	Role           string    `json:"role" bson:"role"`
	Content        string    `json:"content" bson:"content"`
	Model          string    `json:"model,omitempty" bson:"model,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty" bson:"temperature,omitempty"`
	Reasoning      string    `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
	Status         string    `json:"status" bson:"status"`
	InputTokens    int       `json:"input_tokens" bson:"input_tokens"`
	OutputTokens   int       `json:"output_tokens" bson:"output_tokens"`
	Cost           float64   `json:"cost" bson:"cost"`
	ErrorType      string    `json:"error_type,omitempty" bson:"error_type,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty" bson:"error_detail,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Store defines the interface for conversation storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateConversation persists a new conversation.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns a conversation by ID, scoped to the device.
	// Returns ErrNotFound if it doesn't exist or belongs to another device.
	GetConversation(ctx context.Context, id, deviceID string) (*Conversation, error)

	// ListConversations returns the device's conversations,
	// newest update first.
	ListConversations(ctx context.Context, deviceID string) ([]*Conversation, error)

	// UpdateConversation persists title, system prompt, and updated_at changes.
	UpdateConversation(ctx context.Context, conv *Conversation) error

	// DeleteConversation removes a conversation and its messages.
	// Returns ErrNotFound if it doesn't exist or belongs to another device.
	DeleteConversation(ctx context.Context, id, deviceID string) error

	// ListMessages returns a conversation's messages, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// GetMessage returns a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// AppendMessage persists a new message and bumps the conversation's
	// updated_at.
	AppendMessage(ctx context.Context, msg *Message) error

	// UpdateMessage persists content, status, and accounting changes.
	UpdateMessage(ctx context.Context, msg *Message) error

	// StalePendingMessages returns assistant messages that have been pending
	// since before the cutoff, across all devices.
	StalePendingMessages(ctx context.Context, cutoff time.Time) ([]*Message, error)
}

// NewConversation builds a conversation with a fresh ID and timestamps.
func NewConversation(title, model, systemPrompt, deviceID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.NewString(),
		Title:        title,
		Model:        model,
		SystemPrompt: systemPrompt,
		DeviceID:     deviceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(conversationID, role, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         core.StatusComplete,
		CreatedAt:      time.Now().UTC(),
	}
}

// AppendSystemText merges additional system text into an existing system
// prompt. Leading and trailing whitespace on the new text is stripped;
// segments are joined with a single newline.
func AppendSystemText(existing, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return existing
	}
	if existing == "" {
		return text
	}
	return existing + "\n" + text
}

// Clone copies a conversation and its messages into a new conversation
// owned by the same device. Pending and error turns are copied as-is.
func Clone(ctx context.Context, s Store, id, deviceID string) (*Conversation, error) {
	src, err := s.GetConversation(ctx, id, deviceID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.ListMessages(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	clone := NewConversation(src.Title+" (copy)", src.Model, src.SystemPrompt, deviceID)
	if err := s.CreateConversation(ctx, clone); err != nil {
		return nil, err
	}

	for _, m := range msgs {
		copied := *m
		copied.ID = uuid.NewString()
		copied.ConversationID = clone.ID
		if err := s.AppendMessage(ctx, &copied); err != nil {
			return nil, err
		}
	}

	return clone, nil
}
