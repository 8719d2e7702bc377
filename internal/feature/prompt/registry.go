// Package prompt keeps the per-server system prompt.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/logging"
)

type promptStore interface {
	GetServerPrompt(ctx context.Context, serverID string) (domain.ServerPrompt, bool, error)
	PutServerPrompt(ctx context.Context, prompt domain.ServerPrompt) error
}

// Registry reads and overwrites server prompts.
type Registry struct {
	store  promptStore
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistry constructs a Registry over the provided store.
func NewRegistry(store promptStore, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registry{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the prompt text for serverID, or "" when none is set.
func (r *Registry) Get(ctx context.Context, serverID string) (string, error) {
	if err := r.validate(ctx); err != nil {
		return "", err
	}

	prompt, found, err := r.store.GetServerPrompt(ctx, domain.NormalizeID(serverID))
	if err != nil {
		return "", fmt.Errorf("load server prompt: %w", err)
	}
	if !found {
		return "", nil
	}

	return prompt.SystemPrompt, nil
}

// Set overwrites the prompt for serverID, stamping it with the current UTC time
// and the updater's display name.
func (r *Registry) Set(ctx context.Context, serverID, text, updatedBy string) error {
	if err := r.validate(ctx); err != nil {
		return err
	}
	serverID = domain.NormalizeID(serverID)
	if serverID == "" {
		return errors.New("server id is required")
	}

	record := domain.ServerPrompt{
		ServerID:     serverID,
		SystemPrompt: text,
		UpdatedBy:    updatedBy,
		UpdatedAt:    r.now().UTC().Truncate(time.Second),
	}
	if err := r.store.PutServerPrompt(ctx, record); err != nil {
		return fmt.Errorf("save server prompt: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":      "server_prompt_updated",
		"server_id":  serverID,
		"updated_by": updatedBy,
	}).Info("updated server prompt")

	return nil
}

func (r *Registry) validate(ctx context.Context) error {
	if r == nil || r.store == nil {
		return errors.New("prompt registry is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
