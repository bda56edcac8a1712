package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatapp/models"
)

// SQLStore implements Store on top of database/sql. The same queries serve
// SQLite and PostgreSQL; only placeholder style and constraint errors differ.
type SQLStore struct {
	db                *sql.DB
	rebind            func(string) string
	isUniqueViolation func(error) bool
}

func newSQLStore(db *sql.DB, numbered bool, isUnique func(error) bool) *SQLStore {
	rebind := func(q string) string { return q }
	if numbered {
		rebind = numberPlaceholders
	}
	return &SQLStore{db: db, rebind: rebind, isUniqueViolation: isUnique}
}

// numberPlaceholders rewrites ? placeholders to $1, $2, ...
func numberPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping verifies the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// User queries

const userColumns = `id, username, email, password, avatar, created_at`

// CreateUser inserts a new user into the database
func (s *SQLStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: nowMillisTime(),
	}

	_, err := s.exec(ctx,
		`INSERT INTO users (id, username, email, password, avatar, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.Password, user.Avatar, toMillis(user.CreatedAt),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user %q: %w", username, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user %q: %w", username, err)
	}

	return user, nil
}

// GetUserByID retrieves a user by their ID
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByUsername retrieves a user by their username
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "username", username)
}

// GetUserByEmail retrieves a user by their email
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLStore) getUser(ctx context.Context, column, value string) (*models.User, error) {
	row := s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return user, nil
}

// ListUsersExcept returns every user other than id, ordered by username.
func (s *SQLStore) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY username ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

// Session queries

// CreateSession creates a new session for a user
func (s *SQLStore) CreateSession(ctx context.Context, session models.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowMillisTime()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.UserID, toMillis(session.CreatedAt), toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves an unexpired session by its ID
func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		session              models.Session
		createdAt, expiresAt int64
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ? AND expires_at > ?`,
		id, toMillis(time.Now()),
	).Scan(&session.ID, &session.UserID, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

// DeleteSession removes a session
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Message queries

const messageColumns = `id, sender_id, receiver_id, text, image, audio, video, is_read, created_at`

// InsertMessage creates a new message
func (s *SQLStore) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return nil, errors.New("insert message: sender and receiver are required")
	}
	msg.ID = uuid.NewString()
	msg.IsRead = false
	msg.CreatedAt = nowMillisTime()

	_, err := s.exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.Audio, msg.Video,
		false, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &msg, nil
}

// FindConversation retrieves messages between two users, oldest first
func (s *SQLStore) FindConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := s.query(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, seq ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// CountUnread counts unread messages from sender to receiver
func (s *SQLStore) CountUnread(ctx context.Context, senderID, receiverID string) (int, error) {
	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE sender_id = ? AND receiver_id = ? AND is_read = ?`,
		senderID, receiverID, false,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks all messages from a sender to receiver as read
func (s *SQLStore) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE messages SET is_read = ?, read_at = ? WHERE sender_id = ? AND receiver_id = ? AND is_read = ?`,
		true, toMillis(time.Now()), senderID, receiverID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for mark read: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.Avatar, &createdAt); err != nil {
		return nil, err
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		createdAt int64
	)
	if err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID,
		&msg.Text, &msg.Image, &msg.Audio, &msg.Video,
		&msg.IsRead, &createdAt,
	); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromMillis(createdAt)
	return &msg, nil
}
