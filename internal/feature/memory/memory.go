// Package memory keeps a bounded per-user conversation history inside each
// server.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/keylock"
	"llm_relay_bot/internal/logging"
)

// DefaultLimit is the number of turns kept per user when no limit is given.
const DefaultLimit = 50

type historyStore interface {
	GetHistory(ctx context.Context, serverID, userID string) ([]domain.Turn, error)
	PutHistory(ctx context.Context, serverID, userID string, turns []domain.Turn) error
	DeleteHistory(ctx context.Context, serverID, userID string) (bool, error)
	DeleteServerHistory(ctx context.Context, serverID string) (bool, error)
}

// Memory appends and trims conversation turns. Every operation touching a
// server runs under that server's lock.
type Memory struct {
	store  historyStore
	limit  int
	locks  *keylock.Locker
	logger *logrus.Entry
}

// New constructs a Memory capped at limit turns per user. A non-positive limit
// selects DefaultLimit.
func New(store historyStore, limit int, logger *logrus.Entry) *Memory {
	if logger == nil {
		logger = logging.Logger()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Memory{
		store:  store,
		limit:  limit,
		locks:  keylock.New(),
		logger: logger,
	}
}

// Limit returns the per-user storage cap.
func (m *Memory) Limit() int {
	return m.limit
}

// Recent returns at most the last limit turns for the user, oldest first.
func (m *Memory) Recent(ctx context.Context, serverID, userID string, limit int) ([]domain.Turn, error) {
	if err := m.validate(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.Turn{}, nil
	}
	serverID, userID = domain.NormalizeID(serverID), domain.NormalizeID(userID)

	unlock := m.locks.Lock(serverID)
	defer unlock()

	turns, err := m.store.GetHistory(ctx, serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return tail(turns, limit), nil
}

// Append records one exchange and trims the user's history to the cap.
func (m *Memory) Append(ctx context.Context, serverID, userID, userText, botText string) error {
	if err := m.validate(ctx); err != nil {
		return err
	}
	serverID, userID = domain.NormalizeID(serverID), domain.NormalizeID(userID)

	unlock := m.locks.Lock(serverID)
	defer unlock()

	turns, err := m.store.GetHistory(ctx, serverID, userID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	turns = tail(append(turns, domain.Turn{User: userText, Bot: botText}), m.limit)
	if err := m.store.PutHistory(ctx, serverID, userID, turns); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	return nil
}

// ForgetUser drops the user's history in serverID. It reports false when there
// was nothing stored.
func (m *Memory) ForgetUser(ctx context.Context, serverID, userID string) (bool, error) {
	if err := m.validate(ctx); err != nil {
		return false, err
	}
	serverID, userID = domain.NormalizeID(serverID), domain.NormalizeID(userID)

	unlock := m.locks.Lock(serverID)
	defer unlock()

	deleted, err := m.store.DeleteHistory(ctx, serverID, userID)
	if err != nil {
		return false, fmt.Errorf("delete history: %w", err)
	}

	if deleted {
		m.logger.WithFields(logging.Fields{
			"event":     "memory_forget_user",
			"server_id": serverID,
			"user_id":   userID,
		}).Info("cleared user memory")
	}

	return deleted, nil
}

// ForgetServer drops every user's history in serverID. Calling it again is a
// no-op that reports false.
func (m *Memory) ForgetServer(ctx context.Context, serverID string) (bool, error) {
	if err := m.validate(ctx); err != nil {
		return false, err
	}
	serverID = domain.NormalizeID(serverID)

	unlock := m.locks.Lock(serverID)
	defer unlock()

	deleted, err := m.store.DeleteServerHistory(ctx, serverID)
	if err != nil {
		return false, fmt.Errorf("delete server history: %w", err)
	}

	if deleted {
		m.logger.WithFields(logging.Fields{
			"event":     "memory_forget_server",
			"server_id": serverID,
		}).Info("cleared server memory")
	}

	return deleted, nil
}

func (m *Memory) validate(ctx context.Context) error {
	if m == nil || m.store == nil {
		return errors.New("memory is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func tail(turns []domain.Turn, n int) []domain.Turn {
	if len(turns) <= n {
		return turns
	}
	out := make([]domain.Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
