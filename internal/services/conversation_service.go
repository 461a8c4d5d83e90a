package services

import (
	"context"
	"fmt"
	"time"

	"companion/internal/database"
	"companion/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ConversationService persists conversations and assigns message ids.
type ConversationService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
}

// NewConversationService creates a new conversation service
func NewConversationService(mongodb *database.MongoDB) *ConversationService {
	return &ConversationService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionConversations),
	}
}

// Get returns a conversation by hex id
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}

	var conv models.Conversation
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// List returns conversation summaries, most recently active first.
func (s *ConversationService) List(ctx context.Context, personaID string) ([]models.ConversationListItem, error) {
	filter := bson.M{}
	if personaID != "" {
		filter["personaId"] = personaID
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []models.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	items := make([]models.ConversationListItem, len(conversations))
	for i := range conversations {
		items[i] = conversations[i].ToListItem()
	}
	return items, nil
}

// Create persists a new conversation, assigning ids to all its messages.
func (s *ConversationService) Create(ctx context.Context, personaID string, messages []models.Message) (*models.Conversation, error) {
	now := time.Now()
	conv := &models.Conversation{
		ID:        primitive.NewObjectID(),
		PersonaID: personaID,
		Messages:  make([]models.Message, len(messages)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	copy(conv.Messages, messages)

	if len(conv.Messages) > 0 {
		first, err := s.mongodb.NextSequenceBlock(ctx, "messages:"+conv.ID.Hex(), int64(len(conv.Messages)))
		if err != nil {
			return nil, err
		}
		for i := range conv.Messages {
			conv.Messages[i].ID = first + int64(i)
			if conv.Messages[i].Timestamp.IsZero() {
				conv.Messages[i].Timestamp = now
			}
		}
	}

	if _, err := s.collection.InsertOne(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// AppendMessages assigns contiguous ids to the given messages and appends
// them to the conversation. Returns the messages with ids set.
func (s *ConversationService) AppendMessages(ctx context.Context, conversationID string, messages []models.Message) ([]models.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}

	first, err := s.mongodb.NextSequenceBlock(ctx, "messages:"+conversationID, int64(len(messages)))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	assigned := make([]models.Message, len(messages))
	copy(assigned, messages)
	for i := range assigned {
		assigned[i].ID = first + int64(i)
		if assigned[i].Timestamp.IsZero() {
			assigned[i].Timestamp = now
		}
	}

	docs := make([]interface{}, len(assigned))
	for i, m := range assigned {
		docs[i] = m
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$push": bson.M{"messages": bson.M{"$each": docs}},
		"$set":  bson.M{"updatedAt": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("conversation not found")
	}

	return assigned, nil
}

// Delete removes a conversation.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}
