package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"llmrouter/internal/core"
)

// MongoDBStore implements Store for MongoDB.
type MongoDBStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB conversation store.
// It creates the collection indexes if they don't exist.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	conversations := database.Collection("conversations")
	messages := database.Collection("messages")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	convIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "device_id", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	}
	if _, err := conversations.Indexes().CreateMany(ctx, convIndexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for conversations", "error", err)
	}

	msgIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := messages.Indexes().CreateMany(ctx, msgIndexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for messages", "error", err)
	}

	return &MongoDBStore{
		conversations: conversations,
		messages:      messages,
	}, nil
}

func (s *MongoDBStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if _, err := s.conversations.InsertOne(ctx, conv); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *MongoDBStore) GetConversation(ctx context.Context, id, deviceID string) (*Conversation, error) {
	var conv Conversation
	err := s.conversations.FindOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "device_id", Value: deviceID},
	}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

func (s *MongoDBStore) ListConversations(ctx context.Context, deviceID string) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.D{{Key: "device_id", Value: deviceID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*Conversation, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return result, nil
}

func (s *MongoDBStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	result, err := s.conversations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: conv.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "title", Value: conv.Title},
			{Key: "system_prompt", Value: conv.SystemPrompt},
			{Key: "updated_at", Value: conv.UpdatedAt},
		}}})
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) DeleteConversation(ctx context.Context, id, deviceID string) error {
	result, err := s.conversations.DeleteOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "device_id", Value: deviceID},
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.D{{Key: "conversation_id", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}

func (s *MongoDBStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.messages.Find(ctx, bson.D{{Key: "conversation_id", Value: conversationID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*Message, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return result, nil
}

func (s *MongoDBStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.messages.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return &msg, nil
}

func (s *MongoDBStore) AppendMessage(ctx context.Context, msg *Message) error {
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := s.conversations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: msg.ConversationID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}}},
	); err != nil {
		slog.Warn("failed to bump conversation updated_at", "error", err, "conversation_id", msg.ConversationID)
	}
	return nil
}

func (s *MongoDBStore) UpdateMessage(ctx context.Context, msg *Message) error {
	result, err := s.messages.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: msg.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "content", Value: msg.Content},
			{Key: "status", Value: msg.Status},
			{Key: "input_tokens", Value: msg.InputTokens},
			{Key: "output_tokens", Value: msg.OutputTokens},
			{Key: "cost", Value: msg.Cost},
			{Key: "error_type", Value: msg.ErrorType},
			{Key: "error_detail", Value: msg.ErrorDetail},
		}}})
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) StalePendingMessages(ctx context.Context, cutoff time.Time) ([]*Message, error) {
	cursor, err := s.messages.Find(ctx, bson.D{
		{Key: "role", Value: core.RoleAssistant},
		{Key: "status", Value: core.StatusPending},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: cutoff.UTC()}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending messages: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*Message, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode stale pending messages: %w", err)
	}
	return result, nil
}
