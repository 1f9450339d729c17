package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"llmrouter/internal/core"
)

// MemoryStore implements Store with in-process maps.
// Used in tests and as a zero-dependency fallback.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string]*Message
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *conv
	s.conversations[conv.ID] = &copied
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id, deviceID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || conv.DeviceID != deviceID {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, deviceID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Conversation, 0)
	for _, conv := range s.conversations {
		if conv.DeviceID == deviceID {
			copied := *conv
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = conv.Title
	existing.SystemPrompt = conv.SystemPrompt
	existing.UpdatedAt = conv.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.DeviceID != deviceID {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for msgID, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Message, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	s.messages[msg.ID] = &copied
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[msg.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Content = msg.Content
	existing.Status = msg.Status
	existing.InputTokens = msg.InputTokens
	existing.OutputTokens = msg.OutputTokens
	existing.Cost = msg.Cost
	existing.ErrorType = msg.ErrorType
	existing.ErrorDetail = msg.ErrorDetail
	return nil
}

func (s *MemoryStore) StalePendingMessages(_ context.Context, cutoff time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Message, 0)
	for _, msg := range s.messages {
		if msg.Role == core.RoleAssistant && msg.Status == core.StatusPending && msg.CreatedAt.Before(cutoff) {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}
