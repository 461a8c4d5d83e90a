package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"companion/internal/config"
	"companion/internal/database"
	"companion/internal/handlers"
	"companion/internal/logging"
	"companion/internal/middleware"
	"companion/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  No .env file found, using environment variables")
	}

	logging.Init()
	cfg := config.Load()
	services.InitMetrics()

	// MongoDB
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mongoDB.Initialize(initCtx); err != nil {
		initCancel()
		log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
	}
	initCancel()

	// Redis-backed loop state (optional collaborator)
	loopState, err := services.NewLoopStateService(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️  Loop state service unavailable: %v", err)
		loopState, _ = services.NewLoopStateService("")
	}

	// Core services
	personaService := services.NewPersonaService(mongoDB)
	conversationService := services.NewConversationService(mongoDB)
	knowledgeService := services.NewKnowledgeService(mongoDB)
	notificationService := services.NewNotificationService(mongoDB)

	registry := services.NewToolRegistry(nil)
	tracker := services.NewCacheBreakpointTracker(services.NewMemoryBreakpointStore(), nil)
	dispatcher := services.NewToolDispatcher(personaService, notificationService, knowledgeService, loopState)
	completionLimiter := services.NewCompletionRateLimiter(10, 2)

	chatService := services.NewChatService(
		personaService,
		conversationService,
		knowledgeService,
		dispatcher,
		registry,
		tracker,
		completionLimiter,
		cfg.ProviderBaseURL,
		cfg.ProviderAPIKey,
		cfg.MaxHistoryMessages,
		cfg.MaxToolIterations,
	)

	// providers.json: initial load plus hot-reload
	if providerConfig, err := config.LoadProviders(cfg.ProvidersFile); err != nil {
		log.Printf("⚠️  Failed to load %s, using defaults: %v", cfg.ProvidersFile, err)
	} else {
		chatService.ApplyProviderConfig(providerConfig)
	}
	go watchProvidersFile(cfg.ProvidersFile, chatService)

	// Autonomy scheduler
	var autonomyService *services.AutonomyService
	if cfg.AutonomyEnabled {
		autonomyService, err = services.NewAutonomyService(personaService, chatService, notificationService, loopState)
		if err != nil {
			log.Fatalf("❌ Failed to create autonomy service: %v", err)
		}
		if err := autonomyService.Start(); err != nil {
			log.Fatalf("❌ Failed to start autonomy service: %v", err)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Companion v1.0",
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  5 * time.Minute,
		BodyLimit:    20 * 1024 * 1024, // room for large pasted knowledge files
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("companion")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	log.Printf("🛡️  [RATE-LIMIT] Global=%d/min, Chat=%d/min, Upload=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.ChatMax, rateLimitConfig.UploadMax)

	// Handlers
	healthHandler := handlers.NewHealthHandler(mongoDB, loopState)
	chatHandler := handlers.NewChatHandler(chatService)
	personaHandler := handlers.NewPersonaHandler(personaService)
	conversationHandler := handlers.NewConversationHandler(conversationService)
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Routes
	app.Get("/health", healthHandler.Health)

	api := app.Group("/api")
	api.Post("/chat", middleware.ChatRateLimiter(rateLimitConfig), chatHandler.Chat)

	api.Get("/personas", personaHandler.List)
	api.Post("/personas", personaHandler.Create)
	api.Get("/personas/:id", personaHandler.Get)
	api.Put("/personas/:id", personaHandler.Update)
	api.Delete("/personas/:id", personaHandler.Delete)
	api.Get("/personas/:id/memory", personaHandler.GetMemory)

	api.Get("/conversations", conversationHandler.List)
	api.Get("/conversations/:id", conversationHandler.Get)
	api.Delete("/conversations/:id", conversationHandler.Delete)

	api.Get("/knowledge", knowledgeHandler.List)
	api.Post("/knowledge", middleware.UploadRateLimiter(rateLimitConfig), knowledgeHandler.Upload)
	api.Get("/knowledge/search", knowledgeHandler.Search)
	api.Get("/knowledge/:id", knowledgeHandler.Get)
	api.Delete("/knowledge/:id", knowledgeHandler.Delete)

	api.Get("/notifications", notificationHandler.List)
	api.Post("/notifications/:id/read", notificationHandler.MarkRead)

	log.Printf("🚀 Companion server starting on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if autonomyService != nil {
			if err := autonomyService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping autonomy service: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if loopState != nil {
			if err := loopState.Close(); err != nil {
				log.Printf("⚠️ Error closing loop state service: %v", err)
			}
		}
		if err := mongoDB.Close(closeCtx); err != nil {
			log.Printf("⚠️ Error closing MongoDB: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// watchProvidersFile watches providers.json and hot-reloads the provider
// configuration on change.
func watchProvidersFile(filePath string, chatService *services.ChatService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory; editors often replace the file instead of writing
	// it in place.
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					providerConfig, err := config.LoadProviders(filePath)
					if err != nil {
						log.Printf("❌ Failed to reload %s: %v", filePath, err)
						return
					}
					chatService.ApplyProviderConfig(providerConfig)
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
