package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"chatapp/models"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
	sessionsCollection = "sessions"

	mongoConnectTimeout = 10 * time.Second
)

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	Avatar    string    `bson:"avatar"`
	CreatedAt time.Time `bson:"created_at"`
}

type messageDoc struct {
	ID         string     `bson:"_id"`
	SenderID   string     `bson:"sender_id"`
	ReceiverID string     `bson:"receiver_id"`
	Text       string     `bson:"text,omitempty"`
	Image      string     `bson:"image,omitempty"`
	Audio      string     `bson:"audio,omitempty"`
	Video      string     `bson:"video,omitempty"`
	IsRead     bool       `bson:"is_read"`
	ReadAt     *time.Time `bson:"read_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	Seq        int64      `bson:"seq"`
}

type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	sessions *mongo.Collection
	logger   *zap.Logger
	seq      atomic.Int64
}

// OpenMongo connects, pings, and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		sessions: db.Collection(sessionsCollection),
		logger:   logger,
	}
	store.seq.Store(time.Now().UnixNano())

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("mongo store ready", zap.String("database", database))
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close MongoDB connection: %w", err)
	}
	return nil
}

// CreateUser inserts a new user document.
func (s *MongoStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	doc := userDoc{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: nowMillisTime(),
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("insert user %q: %w", username, ErrDuplicate)
		}
		s.logger.Error("failed to insert user", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("insert user %q: %w", username, err)
	}
	return doc.toModel(), nil
}

// GetUserByID retrieves a user by id.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

// GetUserByUsername retrieves a user by username.
func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// GetUserByEmail retrieves a user by email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toModel(), nil
}

// ListUsersExcept returns every other user sorted by username.
func (s *MongoStore) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$ne": id}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, *doc.toModel())
	}
	return users, nil
}

// CreateSession stores a session; the TTL index removes it after expiry.
func (s *MongoStore) CreateSession(ctx context.Context, session models.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowMillisTime()
	}
	_, err := s.sessions.InsertOne(ctx, sessionDoc{
		ID:        session.ID,
		UserID:    session.UserID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns an unexpired session.
func (s *MongoStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var doc sessionDoc
	filter := bson.M{"_id": id, "expires_at": bson.M{"$gt": time.Now()}}
	if err := s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &models.Session{
		ID:        doc.ID,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt.UTC(),
		ExpiresAt: doc.ExpiresAt.UTC(),
	}, nil
}

// DeleteSession removes a session.
func (s *MongoStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InsertMessage stores a message with a server-assigned id and timestamp.
func (s *MongoStore) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return nil, errors.New("insert message: sender and receiver are required")
	}
	doc := messageDoc{
		ID:         uuid.NewString(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		Audio:      msg.Audio,
		Video:      msg.Video,
		CreatedAt:  nowMillisTime(),
		Seq:        s.seq.Add(1),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		s.logger.Error("failed to insert message",
			zap.String("sender_id", msg.SenderID),
			zap.String("receiver_id", msg.ReceiverID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return doc.toModel(), nil
}

// FindConversation returns the messages between a and b, oldest first.
func (s *MongoStore) FindConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"sender_id": a, "receiver_id": b},
		{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, *doc.toModel())
	}
	s.logger.Debug("conversation retrieved", zap.Int("count", len(messages)))
	return messages, nil
}

// CountUnread counts unread messages from sender to receiver.
func (s *MongoStore) CountUnread(ctx context.Context, senderID, receiverID string) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"sender_id":   senderID,
		"receiver_id": receiverID,
		"is_read":     false,
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return int(n), nil
}

// MarkRead flips unread messages from sender to receiver to read.
func (s *MongoStore) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"sender_id": senderID, "receiver_id": receiverID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (d userDoc) toModel() *models.User {
	return &models.User{
		ID:        d.ID,
		Username:  d.Username,
		Email:     d.Email,
		Password:  d.Password,
		Avatar:    d.Avatar,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (d messageDoc) toModel() *models.Message {
	return &models.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Image:      d.Image,
		Audio:      d.Audio,
		Video:      d.Video,
		IsRead:     d.IsRead,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}
