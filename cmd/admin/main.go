package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"supportchat/backend/internal/api/handler"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/support"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]
  rooms [OPEN|RESOLVED|CLOSED]            list rooms, most urgent first
  close <room_id>                         close a room
  priority <room_id> <LOW|NORMAL|HIGH|URGENT>
  token <user_id> <customer|agent> [name] issue an access token`

// operator is the identity room edits are attributed to.
var operator = support.Actor{ID: "admin-cli", Name: "Operator", Role: models.RoleAgent}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	command := os.Args[1]
	switch command {
	case "token":
		if len(os.Args) < 4 {
			fmt.Println("Usage: admin token <user_id> <customer|agent> [name]")
			os.Exit(1)
		}
		role, ok := models.ParseRole(os.Args[3])
		if !ok {
			fmt.Println("Invalid role. Use customer or agent.")
			os.Exit(1)
		}
		name := os.Args[2]
		if len(os.Args) > 4 {
			name = os.Args[4]
		}
		token, err := handler.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.TokenTTL).IssueToken(os.Args[2], role, name, "")
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)
	case "rooms":
		var status models.RoomStatus
		if len(os.Args) > 2 {
			var ok bool
			if status, ok = models.ParseRoomStatus(os.Args[2]); !ok {
				fmt.Println("Invalid status. Use OPEN, RESOLVED or CLOSED.")
				os.Exit(1)
			}
		}
		rooms, err := openStore(cfg).ListRooms(ctx, storage.RoomFilter{Status: status})
		if err != nil {
			log.Fatalf("Error listing rooms: %v", err)
		}
		printRooms(os.Stdout, sortByUrgency(rooms))
	case "close":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin close <room_id>")
			os.Exit(1)
		}
		svc := newService(ctx, cfg)
		if _, err := svc.UpdateRoomStatus(ctx, operator, os.Args[2], models.RoomClosed); err != nil {
			log.Fatalf("Error closing room: %v", err)
		}
		fmt.Printf("Room %s has been closed.\n", os.Args[2])
	case "priority":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin priority <room_id> <LOW|NORMAL|HIGH|URGENT>")
			os.Exit(1)
		}
		priority, ok := models.ParsePriority(os.Args[3])
		if !ok {
			fmt.Println("Invalid priority. Use LOW, NORMAL, HIGH or URGENT.")
			os.Exit(1)
		}
		svc := newService(ctx, cfg)
		if _, err := svc.UpdateRoomPriority(ctx, operator, os.Args[2], priority); err != nil {
			log.Fatalf("Error changing priority: %v", err)
		}
		fmt.Printf("Room %s is now %s.\n", os.Args[2], priority)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) *storage.Service {
	if cfg.Database.DSN == config.MemoryDSN || cfg.Database.DSN == "" {
		log.Fatal("DB_DSN must point at the server's Postgres database")
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	return storage.NewStorageService(db)
}

// newService builds a service whose broadcasts reach running servers through
// the Redis relay. Without Redis the edit is stored but connected clients only
// see it on their next refetch.
func newService(ctx context.Context, cfg *config.Config) *support.Service {
	hub := chathub.NewManagerService(1)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		hub.StartRelay(ctx, chathub.NewRedisRelay(rdb, cfg.Redis.RelayChannel))
	} else {
		log.Println("WARN: [Admin] REDIS_ADDR not set, connected clients will not be notified.")
	}
	return support.NewService(openStore(cfg), hub)
}

func describe(room models.ChatRoom) string {
	agent := "-"
	if room.AgentID != nil {
		agent = *room.AgentID
	}
	subject := room.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	return strings.Join([]string{
		room.RoomID,
		string(room.Priority),
		string(room.Status),
		room.CustomerID,
		agent,
		fmt.Sprintf("%d unread", room.AgentUnread),
		room.LastActivity.Format("2006-01-02 15:04"),
		subject,
	}, "\t")
}
