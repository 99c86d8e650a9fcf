package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"supportchat/backend/internal/api/handler"
	"supportchat/backend/internal/audit"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/limiter"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/support"
	"supportchat/backend/internal/telegram"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupStore(cfg *config.Config) storage.Storage {
	if cfg.Database.DSN == config.MemoryDSN {
		log.Println("INFO: [Main] Using the in-memory store, data is lost on restart.")
		return storage.NewMemory()
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("INFO: [Main] Database connection established, migrations complete.")
	return storage.NewStorageService(db)
}

func setupRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}
	log.Printf("INFO: [Main] Redis connected at %s", cfg.Redis.Addr)
	return rdb
}

func startTelegram(ctx context.Context, cfg *config.Config, hub *chathub.ManagerService, store storage.Storage, svc *support.Service) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.AgentChatID == 0 {
		log.Println("INFO: [Main] Telegram alerts disabled.")
		return
	}
	bot, err := telegram.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatalf("Failed to start Telegram bot: %v", err)
	}
	loc, err := localization.Builtin()
	if err != nil {
		log.Fatalf("Failed to load locales: %v", err)
	}
	notifier := telegram.NewNotifier(bot, hub, store, loc, cfg.Telegram.AgentChatID, cfg.Telegram.Lang)
	go func() {
		if err := notifier.Run(ctx); err != nil {
			log.Printf("ERROR: [Telegram] Notifier stopped: %v", err)
		}
	}()
	go telegram.NewCommands(bot, svc, loc, cfg.Telegram.AgentChatID, cfg.Telegram.Lang).Listen(ctx, bot)
}

func startAudit(ctx context.Context, cfg *config.Config, hub *chathub.ManagerService) sarama.SyncProducer {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	producer, err := audit.NewProducer(cfg.Kafka.Brokers, audit.NewSaramaConfig(cfg.Kafka.Username, cfg.Kafka.Password))
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	sink := audit.NewSink(producer, hub, cfg.Kafka.Topic)
	go func() {
		if err := sink.Run(ctx); err != nil {
			log.Printf("ERROR: [Audit] Sink stopped: %v", err)
		}
	}()
	log.Printf("INFO: [Main] Exporting chat events to Kafka topic %s", cfg.Kafka.Topic)
	return producer
}

func main() {
	log.Println("Starting support chat backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := setupStore(cfg)
	hub := chathub.NewManagerService(cfg.Stream.QueueSize)

	var opts []support.Option
	if rdb := setupRedis(ctx, cfg); rdb != nil {
		defer rdb.Close()
		hub.StartRelay(ctx, chathub.NewRedisRelay(rdb, cfg.Redis.RelayChannel))
		policy := limiter.NewMessagePolicy(rdb, limiter.ParseAlgorithm(cfg.RateLimit.Strategy), cfg.RateLimit.Messages, cfg.RateLimit.Window)
		opts = append(opts, support.WithLimiter(policy))
	}
	svc := support.NewService(store, hub, opts...)

	startTelegram(ctx, cfg, hub, store, svc)
	producer := startAudit(ctx, cfg, hub)

	r := gin.Default()
	h := handler.NewHandler(svc, hub, handler.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.TokenTTL), handler.StreamSettings{
		Heartbeat:   cfg.Stream.Heartbeat,
		IdleTimeout: cfg.Stream.IdleTimeout,
	})
	h.RegisterRoutes(r)

	// No WriteTimeout: streams stay open for as long as the client listens.
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("INFO: [Main] Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: [Main] Shutting down...")

	// Closing the hub ends every open stream so Shutdown does not wait on them.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: [Main] Graceful shutdown failed: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("ERROR: [Main] Closing Kafka producer: %v", err)
		}
	}
}
