// Package user provides helpers for user registration and profile updates.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/keylock"
	"llm_relay_bot/internal/logging"
)

type userStore interface {
	GetUser(ctx context.Context, userID string) (domain.User, bool, error)
	PutUser(ctx context.Context, user domain.User) error
}

// Registrar creates user records on first contact and applies instruction and
// info updates. Read-modify-write cycles are serialized per user.
type Registrar struct {
	users  userStore
	locks  *keylock.Locker
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the provided user store.
func NewRegistrar(users userStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		locks:  keylock.New(),
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser returns the stored record for userID, creating it with name and
// the current time when missing. created reports whether a record was written.
func (r *Registrar) EnsureUser(ctx context.Context, userID, name string) (domain.User, bool, error) {
	if err := r.validate(ctx, userID); err != nil {
		return domain.User{}, false, err
	}
	userID = domain.NormalizeID(userID)

	unlock := r.locks.Lock(userID)
	defer unlock()

	return r.ensureLocked(ctx, userID, name)
}

// SetInstruction stores the administrator instruction for userID, creating the
// record first if needed.
func (r *Registrar) SetInstruction(ctx context.Context, userID, name, instruction string) error {
	if err := r.validate(ctx, userID); err != nil {
		return err
	}
	userID = domain.NormalizeID(userID)

	unlock := r.locks.Lock(userID)
	defer unlock()

	record, _, err := r.ensureLocked(ctx, userID, name)
	if err != nil {
		return err
	}

	record.Instruction = instruction
	if err := r.users.PutUser(ctx, record); err != nil {
		return fmt.Errorf("save user instruction: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_instruction_updated",
		"user_id": userID,
	}).Info("updated user instruction")

	return nil
}

// MergeInfo overwrites the top-level keys of the user's info with those in
// info. Nested values are replaced, not merged. An empty info is a no-op.
func (r *Registrar) MergeInfo(ctx context.Context, userID string, info map[string]any) error {
	if err := r.validate(ctx, userID); err != nil {
		return err
	}
	if len(info) == 0 {
		return nil
	}
	userID = domain.NormalizeID(userID)

	unlock := r.locks.Lock(userID)
	defer unlock()

	record, _, err := r.ensureLocked(ctx, userID, "")
	if err != nil {
		return err
	}

	if record.Info == nil {
		record.Info = make(map[string]any, len(info))
	}
	keys := make([]string, 0, len(info))
	for k, v := range info {
		record.Info[k] = v
		keys = append(keys, k)
	}

	if err := r.users.PutUser(ctx, record); err != nil {
		return fmt.Errorf("save user info: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_info_merged",
		"user_id": userID,
		"keys":    keys,
	}).Debug("merged user info")

	return nil
}

func (r *Registrar) ensureLocked(ctx context.Context, userID, name string) (domain.User, bool, error) {
	record, found, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("load user: %w", err)
	}
	if found {
		if record.Info == nil {
			record.Info = map[string]any{}
		}
		return record, false, nil
	}

	record = domain.User{
		UserID:   userID,
		Name:     name,
		JoinedAt: r.now().UTC().Truncate(time.Second),
		Info:     map[string]any{},
	}
	if err := r.users.PutUser(ctx, record); err != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_registered",
		"user_id": userID,
	}).Info("registered new user")

	return record, true, nil
}

func (r *Registrar) validate(ctx context.Context, userID string) error {
	if r == nil || r.users == nil {
		return errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if domain.NormalizeID(userID) == "" {
		return errors.New("user id is required")
	}
	return nil
}
