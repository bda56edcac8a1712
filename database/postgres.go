package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT UNIQUE NOT NULL,
		email      TEXT UNIQUE NOT NULL,
		password   TEXT NOT NULL,
		avatar     TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT UNIQUE NOT NULL,
		sender_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		text        TEXT NOT NULL DEFAULT '',
		image       TEXT NOT NULL DEFAULT '',
		audio       TEXT NOT NULL DEFAULT '',
		video       TEXT NOT NULL DEFAULT '',
		is_read     BOOLEAN NOT NULL DEFAULT FALSE,
		read_at     BIGINT,
		created_at  BIGINT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_pair_unread
	ON messages (sender_id, receiver_id)
	WHERE is_read = FALSE`,

	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at, seq)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id)`,
}

// OpenPostgres connects to PostgreSQL and creates the schema if needed.
func OpenPostgres(connStr string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	for i, migration := range postgresMigrations {
		if _, err := db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}

	return newSQLStore(db, true, isPostgresUniqueViolation), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
