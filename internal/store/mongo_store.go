package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"llm_relay_bot/internal/domain"
)

// authorizedSettingsID is the _id of the settings document holding the
// authorization list.
const authorizedSettingsID = "authorized_users"

type documentCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type connection interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type conversationDocument struct {
	ServerID  string        `bson:"server_id"`
	UserID    string        `bson:"user_id"`
	Turns     []domain.Turn `bson:"turns"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type authorizedDocumentBSON struct {
	ID    string   `bson:"_id"`
	Users []string `bson:"users"`
}

// MongoStore persists entities in MongoDB, one document per user, per server
// prompt and per (server, user) conversation.
type MongoStore struct {
	conn          connection
	users         documentCollection
	prompts       documentCollection
	conversations documentCollection
	settings      documentCollection
}

// NewMongoStore builds a store over the collections owned by manager.
func NewMongoStore(manager *Manager) (*MongoStore, error) {
	if manager == nil || manager.db == nil {
		return nil, errors.New("store manager is not initialized")
	}

	return newMongoStore(manager, manager.Users(), manager.ServerPrompts(), manager.Conversations(), manager.Settings()), nil
}

func newMongoStore(conn connection, users, prompts, conversations, settings documentCollection) *MongoStore {
	return &MongoStore{
		conn:          conn,
		users:         users,
		prompts:       prompts,
		conversations: conversations,
		settings:      settings,
	}
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (domain.User, bool, error) {
	var user domain.User
	found, err := findOne(ctx, s.users, bson.M{"user_id": userID}, &user)
	if err != nil || !found {
		return domain.User{}, false, wrapErr("find user", err)
	}
	if user.Info == nil {
		user.Info = map[string]any{}
	}

	return user, true, nil
}

func (s *MongoStore) PutUser(ctx context.Context, user domain.User) error {
	if user.UserID == "" {
		return errors.New("user_id is required")
	}
	if user.Info == nil {
		user.Info = map[string]any{}
	}

	return wrapErr("replace user", upsert(ctx, s.users, bson.M{"user_id": user.UserID}, user))
}

func (s *MongoStore) GetServerPrompt(ctx context.Context, serverID string) (domain.ServerPrompt, bool, error) {
	var prompt domain.ServerPrompt
	found, err := findOne(ctx, s.prompts, bson.M{"server_id": serverID}, &prompt)
	if err != nil || !found {
		return domain.ServerPrompt{}, false, wrapErr("find server prompt", err)
	}

	return prompt, true, nil
}

func (s *MongoStore) PutServerPrompt(ctx context.Context, prompt domain.ServerPrompt) error {
	if prompt.ServerID == "" {
		return errors.New("server_id is required")
	}

	return wrapErr("replace server prompt", upsert(ctx, s.prompts, bson.M{"server_id": prompt.ServerID}, prompt))
}

func (s *MongoStore) AuthorizedUsers(ctx context.Context) ([]string, error) {
	var doc authorizedDocumentBSON
	found, err := findOne(ctx, s.settings, bson.M{"_id": authorizedSettingsID}, &doc)
	if err != nil {
		return nil, wrapErr("find authorized users", err)
	}
	if !found || doc.Users == nil {
		return []string{}, nil
	}

	return doc.Users, nil
}

func (s *MongoStore) PutAuthorizedUsers(ctx context.Context, userIDs []string) error {
	doc := authorizedDocumentBSON{ID: authorizedSettingsID, Users: cloneStrings(userIDs)}
	return wrapErr("replace authorized users", upsert(ctx, s.settings, bson.M{"_id": authorizedSettingsID}, doc))
}

func (s *MongoStore) GetHistory(ctx context.Context, serverID, userID string) ([]domain.Turn, error) {
	var doc conversationDocument
	found, err := findOne(ctx, s.conversations, conversationFilter(serverID, userID), &doc)
	if err != nil {
		return nil, wrapErr("find conversation", err)
	}
	if !found {
		return []domain.Turn{}, nil
	}

	return cloneTurns(doc.Turns), nil
}

func (s *MongoStore) PutHistory(ctx context.Context, serverID, userID string, turns []domain.Turn) error {
	doc := conversationDocument{
		ServerID:  serverID,
		UserID:    userID,
		Turns:     cloneTurns(turns),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	return wrapErr("replace conversation", upsert(ctx, s.conversations, conversationFilter(serverID, userID), doc))
}

func (s *MongoStore) DeleteHistory(ctx context.Context, serverID, userID string) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}

	result, err := s.conversations.DeleteOne(ctx, conversationFilter(serverID, userID))
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}

	return result != nil && result.DeletedCount > 0, nil
}

func (s *MongoStore) DeleteServerHistory(ctx context.Context, serverID string) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}

	result, err := s.conversations.DeleteMany(ctx, bson.M{"server_id": serverID})
	if err != nil {
		return false, fmt.Errorf("delete server conversations: %w", err)
	}

	return result != nil && result.DeletedCount > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return errors.New("mongo store is not initialized")
	}
	return s.conn.Ping(ctx)
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}

func conversationFilter(serverID, userID string) bson.M {
	return bson.M{"server_id": serverID, "user_id": userID}
}

func findOne(ctx context.Context, coll documentCollection, filter bson.M, out interface{}) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}

	result := coll.FindOne(ctx, filter)
	if result == nil {
		return false, errors.New("find returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}

	if err := result.Decode(out); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}

	return true, nil
}

func upsert(ctx context.Context, coll documentCollection, filter bson.M, doc interface{}) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
