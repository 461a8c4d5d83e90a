package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys written by the presence collaborator.
const (
	loopStateKey = "companion:loop_state"
	loopStateTTL = 10 * time.Minute
)

// LoopStateService reads the external presence/state collaborator backing
// the get_loop_state tool. Backed by Redis; degrades to an "unavailable"
// answer when Redis is not configured.
type LoopStateService struct {
	client *redis.Client
}

// NewLoopStateService connects to Redis. An empty URL returns a degraded
// service rather than an error.
func NewLoopStateService(redisURL string) (*LoopStateService, error) {
	if redisURL == "" {
		log.Println("⚠️  REDIS_URL not set, loop state tool will report unavailable")
		return &LoopStateService{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")
	return &LoopStateService{client: client}, nil
}

// State returns the current loop/presence state as a human-readable string
// for the model.
func (s *LoopStateService) State(ctx context.Context) (string, error) {
	if s.client == nil {
		return "Loop state is unavailable (presence service not configured).", nil
	}

	raw, err := s.client.Get(ctx, loopStateKey).Result()
	if err == redis.Nil {
		return "No loop state has been published yet.", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read loop state: %w", err)
	}
	return raw, nil
}

// Publish writes the loop state with a TTL. Used by the autonomy scheduler
// to surface what the wake-up loop last did.
func (s *LoopStateService) Publish(ctx context.Context, state map[string]interface{}) error {
	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal loop state: %w", err)
	}
	return s.client.Set(ctx, loopStateKey, string(data), loopStateTTL).Err()
}

// Ping checks the Redis connection, nil client counts as healthy-but-absent.
func (s *LoopStateService) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *LoopStateService) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
