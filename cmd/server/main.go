package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emotionsapp/messaging/internal/config"
	"github.com/emotionsapp/messaging/internal/httpserver"
	"github.com/emotionsapp/messaging/internal/messaging"
	"github.com/emotionsapp/messaging/internal/notify"
	"github.com/emotionsapp/messaging/internal/realtime"
	"github.com/emotionsapp/messaging/internal/security"
	"github.com/emotionsapp/messaging/internal/store/postgres"
	"github.com/emotionsapp/messaging/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database and repositories for the configured driver.
	var (
		db     *sql.DB
		stores httpserver.Stores
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		stores = httpserver.Stores{
			Users:         postgres.NewUserRepo(db),
			Conversations: postgres.NewConversationRepo(db),
			Participants:  postgres.NewParticipantRepo(db),
			Messages:      postgres.NewMessageRepo(db),
			Notifications: postgres.NewNotificationRepo(db),
		}
	default:
		db, err = sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		stores = httpserver.Stores{
			Users:         sqlite.NewUserRepo(db),
			Conversations: sqlite.NewConversationRepo(db),
			Participants:  sqlite.NewParticipantRepo(db),
			Messages:      sqlite.NewMessageRepo(db),
			Notifications: sqlite.NewNotificationRepo(db),
		}
	}
	defer db.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	// Realtime change-notification broker
	broker := realtime.NewBroker()

	// Notification dispatch: queued via Redis when configured, otherwise
	// written in-process.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var notifier notify.Dispatcher
	if cfg.RedisURL != "" {
		queued, err := notify.NewQueueDispatcher(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to init notification queue: %v", err)
		}
		notifier = queued

		worker, err := notify.NewWorker(cfg.RedisURL, stores.Notifications)
		if err != nil {
			log.Fatalf("failed to init notification worker: %v", err)
		}
		go func() {
			if err := worker.Run(workerCtx); err != nil {
				log.Printf("notification worker: %v", err)
			}
		}()
	} else {
		notifier = notify.NewDirectDispatcher(stores.Notifications)
	}
	defer notifier.Close()

	// One messaging service instance backs HTTP and realtime delivery.
	msgSvc := messaging.NewService(
		stores.Conversations,
		stores.Participants,
		stores.Messages,
		stores.Users,
		broker,
		notifier,
	)

	router := httpserver.NewRouter(cfg, stores, msgSvc, broker, tokenSvc, passwordHasher)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting %s on %s\n", cfg.AppName, cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
