// Package auth maintains the global list of users allowed to change
// server-level prompt and memory state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/logging"
)

type authStore interface {
	AuthorizedUsers(ctx context.Context) ([]string, error)
	PutAuthorizedUsers(ctx context.Context, userIDs []string) error
}

// Registry answers membership questions against the persisted authorization
// list and serializes every mutation of it.
type Registry struct {
	store  authStore
	logger *logrus.Entry
	mu     sync.Mutex
}

// NewRegistry constructs a Registry over the provided store.
func NewRegistry(store authStore, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registry{
		store:  store,
		logger: logger,
	}
}

// IsAuthorized reports whether userID is on the list.
func (r *Registry) IsAuthorized(ctx context.Context, userID string) (bool, error) {
	if err := r.validate(ctx); err != nil {
		return false, err
	}

	users, err := r.store.AuthorizedUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("load authorized users: %w", err)
	}

	return indexOf(users, domain.NormalizeID(userID)) >= 0, nil
}

// Add appends userID to the list. added is false when it was already present.
func (r *Registry) Add(ctx context.Context, userID string) (bool, error) {
	if err := r.validate(ctx); err != nil {
		return false, err
	}
	userID = domain.NormalizeID(userID)
	if userID == "" {
		return false, errors.New("user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.store.AuthorizedUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("load authorized users: %w", err)
	}
	if indexOf(users, userID) >= 0 {
		return false, nil
	}

	if err := r.store.PutAuthorizedUsers(ctx, append(users, userID)); err != nil {
		return false, fmt.Errorf("save authorized users: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "authorized_user_added",
		"user_id": userID,
	}).Info("granted prompt rights")

	return true, nil
}

// Remove drops userID from the list. removed is false when it was absent.
func (r *Registry) Remove(ctx context.Context, userID string) (bool, error) {
	if err := r.validate(ctx); err != nil {
		return false, err
	}
	userID = domain.NormalizeID(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.store.AuthorizedUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("load authorized users: %w", err)
	}
	idx := indexOf(users, userID)
	if idx < 0 {
		return false, nil
	}

	remaining := append(users[:idx:idx], users[idx+1:]...)
	if err := r.store.PutAuthorizedUsers(ctx, remaining); err != nil {
		return false, fmt.Errorf("save authorized users: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "authorized_user_removed",
		"user_id": userID,
	}).Info("revoked prompt rights")

	return true, nil
}

func (r *Registry) validate(ctx context.Context) error {
	if r == nil || r.store == nil {
		return errors.New("auth registry is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func indexOf(users []string, userID string) int {
	for i, id := range users {
		if id == userID {
			return i
		}
	}
	return -1
}
