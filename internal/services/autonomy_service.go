package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"companion/internal/models"

	"github.com/go-co-op/gocron/v2"
)

const (
	autonomyScanInterval = time.Minute
	autonomyTurnTimeout  = 3 * time.Minute

	defaultWakeUpPrompt = "You woke up on your own. Review what you remember and, " +
		"if anything seems worth telling your human about, send a notification. " +
		"Otherwise just reflect briefly."
)

// AutonomyService wakes autonomous personas on their configured interval and
// runs an unattended chat turn for each. Whatever the persona wants the user
// to see arrives through the send_notification tool; the turn itself is
// auto-saved as a normal conversation.
type AutonomyService struct {
	personas      *PersonaService
	chat          *ChatService
	notifications *NotificationService
	loopState     *LoopStateService

	scheduler gocron.Scheduler
}

// NewAutonomyService creates the wake-up scheduler.
func NewAutonomyService(personas *PersonaService, chat *ChatService, notifications *NotificationService, loopState *LoopStateService) (*AutonomyService, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create autonomy scheduler: %w", err)
	}

	return &AutonomyService{
		personas:      personas,
		chat:          chat,
		notifications: notifications,
		loopState:     loopState,
		scheduler:     scheduler,
	}, nil
}

// Start registers the scan job and starts the scheduler.
func (s *AutonomyService) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(autonomyScanInterval),
		gocron.NewTask(s.scan),
		gocron.WithName("autonomy_scan"),
	)
	if err != nil {
		return fmt.Errorf("failed to register autonomy scan job: %w", err)
	}

	s.scheduler.Start()
	log.Println("✅ Autonomy service started")
	return nil
}

// Stop shuts the scheduler down.
func (s *AutonomyService) Stop() error {
	log.Println("⏹️ Stopping autonomy service...")
	return s.scheduler.Shutdown()
}

func (s *AutonomyService) scan() {
	ctx, cancel := context.WithTimeout(context.Background(), autonomyTurnTimeout)
	defer cancel()

	now := time.Now()
	due, err := s.personas.DueForWakeUp(ctx, now)
	if err != nil {
		log.Printf("❌ [AUTONOMY] Scan failed: %v", err)
		return
	}

	for _, persona := range due {
		s.wakeUp(ctx, &persona, now)
	}

	if s.loopState != nil && len(due) > 0 {
		_ = s.loopState.Publish(ctx, map[string]interface{}{
			"lastScanAt":  now.Format(time.RFC3339),
			"wokenCount":  len(due),
			"scanDueSize": len(due),
		})
	}
}

func (s *AutonomyService) wakeUp(ctx context.Context, persona *models.Persona, now time.Time) {
	personaID := persona.ID.Hex()
	log.Printf("⏰ [AUTONOMY] Waking persona %s (%s)", persona.Name, personaID)

	// Mark first so a crashing turn cannot cause a wake-up storm.
	if err := s.personas.MarkAutonomyChecked(ctx, personaID, now); err != nil {
		log.Printf("❌ [AUTONOMY] Failed to mark check for %s: %v", personaID, err)
		return
	}

	prompt := persona.Autonomy.WakeUpPrompt
	if prompt == "" {
		prompt = defaultWakeUpPrompt
	}

	req := &models.ChatRequest{
		Model:          persona.ModelID,
		PersonaID:      personaID,
		ConversationID: NewConversationSentinel,
		Messages: []models.Message{
			{Role: "user", Content: prompt, Timestamp: now},
		},
	}

	resp, err := s.chat.Chat(ctx, req)
	if err != nil {
		if IsProviderError(err) {
			log.Printf("❌ [AUTONOMY] Provider rejected wake-up turn for %s: %v", personaID, err)
		} else {
			log.Printf("❌ [AUTONOMY] Wake-up turn failed for %s: %v", personaID, err)
		}
		return
	}

	log.Printf("✅ [AUTONOMY] Persona %s woke up (%d tool call(s), %d tokens)",
		persona.Name, len(resp.ToolCalls), resp.Usage.TotalTokens)
}
