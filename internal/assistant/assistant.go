// Package assistant implements the bot's commands independently of the chat
// platform that delivers them.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/llm"
	"llm_relay_bot/internal/logging"
)

// DefaultContextTurns is the number of past turns sent with each request when
// the caller has no configured value.
const DefaultContextTurns = 5

// ErrPermissionDenied is logged when an actor lacks the role a command needs.
var ErrPermissionDenied = errors.New("permission denied")

// Actor is the user issuing a command.
type Actor struct {
	ID          string
	DisplayName string
	// IsAdmin is set by the platform binding when the actor administers the
	// current server.
	IsAdmin bool
}

// Target is the user a command acts upon.
type Target struct {
	ID          string
	DisplayName string
}

// Invocation identifies where and by whom a command was issued.
type Invocation struct {
	Platform string
	ServerID string
	Actor    Actor
}

// Response is what the platform binding should send back. Private responses
// go only to the actor where the platform supports it.
type Response struct {
	Text    string
	Private bool
}

type userRegistry interface {
	EnsureUser(ctx context.Context, userID, name string) (domain.User, bool, error)
	SetInstruction(ctx context.Context, userID, name, instruction string) error
	MergeInfo(ctx context.Context, userID string, info map[string]any) error
}

type promptRegistry interface {
	Get(ctx context.Context, serverID string) (string, error)
	Set(ctx context.Context, serverID, text, updatedBy string) error
}

type conversationMemory interface {
	Recent(ctx context.Context, serverID, userID string, limit int) ([]domain.Turn, error)
	Append(ctx context.Context, serverID, userID, userText, botText string) error
	ForgetUser(ctx context.Context, serverID, userID string) (bool, error)
	ForgetServer(ctx context.Context, serverID string) (bool, error)
}

type authRegistry interface {
	IsAuthorized(ctx context.Context, userID string) (bool, error)
	Add(ctx context.Context, userID string) (bool, error)
	Remove(ctx context.Context, userID string) (bool, error)
}

type completer interface {
	Complete(ctx context.Context, messages []llm.Message) (llm.Completion, error)
}

// Dependencies groups the collaborators of a Service.
type Dependencies struct {
	Users     userRegistry
	Prompts   promptRegistry
	Memory    conversationMemory
	Auth      authRegistry
	Completer completer
}

// Options tunes a Service.
type Options struct {
	// OwnerID is treated as an administrator everywhere.
	OwnerID string
	// ContextTurns is the recency window; 0 or less sends no history.
	ContextTurns int
	// RatePerMinute caps chat requests per user; 0 disables the limit.
	RatePerMinute int
}

// Service executes commands.
type Service struct {
	users     userRegistry
	prompts   promptRegistry
	memory    conversationMemory
	auth      authRegistry
	completer completer

	ownerID      string
	contextTurns int
	limiter      *userLimiter
	newRequestID func() string
	logger       *logrus.Entry
}

// New validates deps and constructs a Service.
func New(deps Dependencies, opts Options, logger *logrus.Entry) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user registry is required")
	case deps.Prompts == nil:
		return nil, errors.New("prompt registry is required")
	case deps.Memory == nil:
		return nil, errors.New("memory is required")
	case deps.Auth == nil:
		return nil, errors.New("auth registry is required")
	case deps.Completer == nil:
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	turns := opts.ContextTurns
	if turns < 0 {
		turns = 0
	}

	return &Service{
		users:        deps.Users,
		prompts:      deps.Prompts,
		memory:       deps.Memory,
		auth:         deps.Auth,
		completer:    deps.Completer,
		ownerID:      domain.NormalizeID(opts.OwnerID),
		contextTurns: turns,
		limiter:      newUserLimiter(opts.RatePerMinute),
		newRequestID: newRequestID,
		logger:       logger,
	}, nil
}

// Role resolves the highest role the actor holds in the invocation's server.
func (s *Service) Role(ctx context.Context, inv Invocation) (string, error) {
	actorID := domain.NormalizeID(inv.Actor.ID)
	switch {
	case s.ownerID != "" && actorID == s.ownerID:
		return domain.RoleOwner, nil
	case inv.Actor.IsAdmin:
		return domain.RoleAdmin, nil
	}

	ok, err := s.auth.IsAuthorized(ctx, actorID)
	if err != nil {
		return "", err
	}
	if ok {
		return domain.RoleAuthorized, nil
	}

	return domain.RoleUser, nil
}

// require returns ErrPermissionDenied when the actor ranks below minimum.
func (s *Service) require(ctx context.Context, inv Invocation, minimum, command string) error {
	role, err := s.Role(ctx, inv)
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}
	if domain.AtLeast(role, minimum) {
		return nil
	}

	s.entry(inv, "permission_denied").WithFields(logging.Fields{
		"command":  command,
		"role":     role,
		"required": minimum,
	}).Info("command denied")

	return ErrPermissionDenied
}

func (s *Service) entry(inv Invocation, event string) *logrus.Entry {
	return logging.Scoped(s.logger, logging.Scope{
		Platform: inv.Platform,
		ServerID: inv.ServerID,
		UserID:   inv.Actor.ID,
		Event:    event,
	})
}

// failure renders an unexpected error for the user and logs it.
func (s *Service) failure(inv Invocation, command string, err error) Response {
	s.entry(inv, "command_failed").WithField("command", command).WithError(err).Error("command failed")
	return Response{Text: fmt.Sprintf(msgFailure, err)}
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
