// Package store persists users, server prompts, the authorization list and
// conversation history behind a backend-neutral interface.
package store

import (
	"context"

	"llm_relay_bot/internal/domain"
)

// UserStore persists user records keyed by user id.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (domain.User, bool, error)
	PutUser(ctx context.Context, user domain.User) error
}

// PromptStore persists one system prompt record per server.
type PromptStore interface {
	GetServerPrompt(ctx context.Context, serverID string) (domain.ServerPrompt, bool, error)
	PutServerPrompt(ctx context.Context, prompt domain.ServerPrompt) error
}

// AuthStore persists the global list of authorized user ids.
type AuthStore interface {
	AuthorizedUsers(ctx context.Context) ([]string, error)
	PutAuthorizedUsers(ctx context.Context, userIDs []string) error
}

// HistoryStore persists conversation turns per (server, user).
type HistoryStore interface {
	GetHistory(ctx context.Context, serverID, userID string) ([]domain.Turn, error)
	PutHistory(ctx context.Context, serverID, userID string, turns []domain.Turn) error
	// DeleteHistory reports whether the user had stored history.
	DeleteHistory(ctx context.Context, serverID, userID string) (bool, error)
	// DeleteServerHistory reports whether anything was stored for the server.
	DeleteServerHistory(ctx context.Context, serverID string) (bool, error)
}

// Store is the full persistence surface used by the bot.
type Store interface {
	UserStore
	PromptStore
	AuthStore
	HistoryStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func cloneTurns(turns []domain.Turn) []domain.Turn {
	if len(turns) == 0 {
		return []domain.Turn{}
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
