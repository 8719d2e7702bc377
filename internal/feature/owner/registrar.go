// Package owner provides startup helpers for ensuring the configured bot owner
// has a user record and sits on the authorization list.
package owner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/logging"
)

// ownerDisplayName is stored for owners that have not talked to the bot yet.
const ownerDisplayName = "owner"

type userEnsurer interface {
	EnsureUser(ctx context.Context, userID, name string) (domain.User, bool, error)
}

type authorizer interface {
	Add(ctx context.Context, userID string) (bool, error)
}

// Registrar bootstraps the configured bot owner record.
type Registrar struct {
	users  userEnsurer
	auth   authorizer
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar over the user registrar and the
// authorization registry.
func NewRegistrar(users userEnsurer, auth authorizer, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		auth:   auth,
		logger: logger,
	}
}

// EnsureOwner creates the owner's user record if missing and adds the owner to
// the authorization list.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID string) error {
	if r == nil || r.users == nil || r.auth == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	ownerID = domain.NormalizeID(ownerID)
	if ownerID == "" {
		return errors.New("owner id is required")
	}

	_, created, err := r.users.EnsureUser(ctx, ownerID, ownerDisplayName)
	if err != nil {
		return fmt.Errorf("ensure owner user: %w", err)
	}

	added, err := r.auth.Add(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("authorize owner: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":            "owner_bootstrap",
		"owner_id":         ownerID,
		"created_user":     created,
		"authorized_added": added,
	}).Info("ensured bot owner")

	return nil
}
