package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL for the messaging schema.
//
// The conversation activity columns (updated_at, last_message_at) are
// advanced by the AFTER INSERT trigger below, never by application code.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL,
			avatar_url TEXT DEFAULT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'patient',
			hashed_password VARCHAR(255) NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		// Conversations: user1_id < user2_id (canonical pair order)
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(36) PRIMARY KEY,
			user1_id VARCHAR(36) NOT NULL,
			user2_id VARCHAR(36) NOT NULL,
			appointment_id VARCHAR(36) DEFAULT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_message_at DATETIME DEFAULT NULL,
			UNIQUE (user1_id, user2_id),
			CHECK (user1_id < user2_id),
			FOREIGN KEY (user1_id) REFERENCES users(id),
			FOREIGN KEY (user2_id) REFERENCES users(id)
		);`,
		// Conversation participants
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id VARCHAR(36) NOT NULL,
			user_id VARCHAR(36) NOT NULL,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_read_at DATETIME DEFAULT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);`,
		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(36) PRIMARY KEY,
			conversation_id VARCHAR(36) NOT NULL,
			sender_id VARCHAR(36) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			attachment_url TEXT DEFAULT NULL,
			attachment_type TEXT DEFAULT NULL,
			is_read BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME DEFAULT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id)
		);`,
		// Notifications
		`CREATE TABLE IF NOT EXISTS notifications (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			kind VARCHAR(20) NOT NULL,
			link TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			read_at DATETIME DEFAULT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);`,
		// Message inserts advance conversation activity timestamps.
		`CREATE TRIGGER IF NOT EXISTS trg_conversations_touch
			AFTER INSERT ON messages
		BEGIN
			UPDATE conversations
			SET updated_at = NEW.created_at, last_message_at = NEW.created_at
			WHERE id = NEW.conversation_id;
		END;`,
		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_appointment ON conversations(appointment_id);`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
