package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the messaging schema on
// PostgreSQL. Conversation activity timestamps are advanced by the trigger,
// never by application code.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id              VARCHAR(36)  PRIMARY KEY,
			username        VARCHAR(50)  UNIQUE NOT NULL,
			display_name    VARCHAR(100) NOT NULL,
			avatar_url      TEXT,
			role            VARCHAR(20)  NOT NULL DEFAULT 'patient',
			hashed_password VARCHAR(255) NOT NULL,
			is_active       BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Conversations: user1_id < user2_id (canonical pair order)
		`CREATE TABLE IF NOT EXISTS conversations (
			id              VARCHAR(36) PRIMARY KEY,
			user1_id        VARCHAR(36) NOT NULL REFERENCES users(id),
			user2_id        VARCHAR(36) NOT NULL REFERENCES users(id),
			appointment_id  VARCHAR(36),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_message_at TIMESTAMPTZ,
			UNIQUE (user1_id, user2_id),
			CHECK (user1_id < user2_id)
		)`,

		// Conversation participants
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id VARCHAR(36) NOT NULL REFERENCES conversations(id),
			user_id         VARCHAR(36) NOT NULL REFERENCES users(id),
			joined_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_read_at    TIMESTAMPTZ,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id              VARCHAR(36) PRIMARY KEY,
			conversation_id VARCHAR(36) NOT NULL REFERENCES conversations(id),
			sender_id       VARCHAR(36) NOT NULL REFERENCES users(id),
			content         TEXT        NOT NULL DEFAULT '',
			attachment_url  TEXT,
			attachment_type TEXT,
			is_read         BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at      TIMESTAMPTZ
		)`,

		// Notifications
		`CREATE TABLE IF NOT EXISTS notifications (
			id         VARCHAR(36) PRIMARY KEY,
			user_id    VARCHAR(36) NOT NULL REFERENCES users(id),
			title      TEXT        NOT NULL,
			body       TEXT        NOT NULL,
			kind       VARCHAR(20) NOT NULL,
			link       TEXT        NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			read_at    TIMESTAMPTZ
		)`,

		// Message inserts advance conversation activity timestamps.
		`CREATE OR REPLACE FUNCTION touch_conversation() RETURNS trigger AS $$
		BEGIN
			UPDATE conversations
			SET updated_at = NEW.created_at, last_message_at = NEW.created_at
			WHERE id = NEW.conversation_id;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_conversations_touch ON messages`,
		`CREATE TRIGGER trg_conversations_touch
			AFTER INSERT ON messages
			FOR EACH ROW EXECUTE FUNCTION touch_conversation()`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_appointment ON conversations(appointment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
