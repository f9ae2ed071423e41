// Command triggercheck verifies that the conversation-touch trigger is
// installed and advancing last_message_at on message insert. It creates two
// throwaway users, a conversation, and one message, checks the timestamps,
// and removes everything it created. Run it against a deployment after
// migrations; it is deliberately not part of the runtime service.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/store/postgres"
	"github.com/emotionsapp/messaging/internal/store/sqlite"
)

func main() {
	driver := flag.String("driver", "sqlite", "database driver: sqlite or postgres")
	dsn := flag.String("dsn", "messaging.db", "database DSN")
	flag.Parse()

	var (
		db  *sql.DB
		err error
	)
	switch *driver {
	case "sqlite":
		db, err = sqlite.Open(*dsn)
	case "postgres":
		db, err = postgres.Open(*dsn)
	default:
		log.Fatalf("unsupported driver %q", *driver)
	}
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := run(db, *driver); err != nil {
		fmt.Fprintf(os.Stderr, "trigger check FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("trigger check OK: last_message_at advances on insert")
}

func run(db *sql.DB, driver string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		users domain.UserRepository
		convs domain.ConversationRepository
		msgs  domain.MessageRepository
	)
	if driver == "postgres" {
		users = postgres.NewUserRepo(db)
		convs = postgres.NewConversationRepo(db)
		msgs = postgres.NewMessageRepo(db)
	} else {
		users = sqlite.NewUserRepo(db)
		convs = sqlite.NewConversationRepo(db)
		msgs = sqlite.NewMessageRepo(db)
	}

	suffix := uuid.NewString()[:8]
	a := &domain.User{
		Username:       "triggercheck-a-" + suffix,
		DisplayName:    "Trigger Check A",
		Role:           domain.RolePatient,
		HashedPassword: "-",
		IsActive:       false,
	}
	b := &domain.User{
		Username:       "triggercheck-b-" + suffix,
		DisplayName:    "Trigger Check B",
		Role:           domain.RoleMoodMentor,
		HashedPassword: "-",
		IsActive:       false,
	}
	for _, u := range []*domain.User{a, b} {
		if err := users.Create(ctx, u); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}
	defer cleanup(db, driver, a.ID, b.ID)

	conv, err := convs.GetOrCreate(ctx, a.ID, b.ID)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if conv.LastMessageAt != nil {
		return fmt.Errorf("fresh conversation already has last_message_at set")
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       a.ID,
		Content:        "trigger check",
	}
	if err := msgs.Create(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	after, err := convs.GetByID(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("re-read conversation: %w", err)
	}
	if after.LastMessageAt == nil {
		return fmt.Errorf("last_message_at not set after insert; trigger missing")
	}
	if after.UpdatedAt.Before(conv.UpdatedAt) {
		return fmt.Errorf("updated_at moved backwards")
	}
	return nil
}

// cleanup removes the throwaway rows in dependency order. Best-effort: a
// partial cleanup leaves only inactive users behind.
func cleanup(db *sql.DB, driver string, userIDs ...string) {
	p1, p2 := "?", "?"
	if driver == "postgres" {
		p1, p2 = "$1", "$2"
	}
	stmts := []struct {
		sql   string
		twoID bool
	}{
		{`DELETE FROM messages WHERE sender_id = ` + p1, false},
		{`DELETE FROM conversation_participants WHERE user_id = ` + p1, false},
		{`DELETE FROM conversations WHERE user1_id = ` + p1 + ` OR user2_id = ` + p2, true},
		{`DELETE FROM users WHERE id = ` + p1, false},
	}
	for _, s := range stmts {
		for _, id := range userIDs {
			args := []any{id}
			if s.twoID {
				args = []any{id, id}
			}
			if _, err := db.Exec(s.sql, args...); err != nil {
				log.Printf("cleanup: %v", err)
			}
		}
	}
}
