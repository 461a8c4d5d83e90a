package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"companion/internal/database"
	"companion/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NotificationService stores notifications created by the send_notification
// tool and by autonomous wake-up turns.
type NotificationService struct {
	collection *mongo.Collection
}

// NewNotificationService creates a new notification service
func NewNotificationService(mongodb *database.MongoDB) *NotificationService {
	return &NotificationService{
		collection: mongodb.Collection(database.CollectionNotifications),
	}
}

// Create stores a new notification.
func (s *NotificationService) Create(ctx context.Context, personaID, message, urgency string) (*models.Notification, error) {
	if message == "" {
		return nil, fmt.Errorf("notification message is required")
	}

	notification := &models.Notification{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		Message:   message,
		Urgency:   models.NormalizeUrgency(urgency),
		Read:      false,
		CreatedAt: time.Now(),
	}

	if _, err := s.collection.InsertOne(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	log.Printf("🔔 [NOTIFY] Created %s notification: %s", notification.Urgency, truncateForLog(message, 80))
	return notification, nil
}

// List returns notifications, newest first, optionally only unread.
func (s *NotificationService) List(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	filter := bson.M{}
	if unreadOnly {
		filter["read"] = false
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"read": true},
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("notification not found")
	}
	return nil
}
