package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/llm"
	"llm_relay_bot/internal/logging"
)

func newRequestID() string {
	return uuid.NewString()
}

// Chat answers prompt for the actor using the server prompt, the actor's
// instruction and info, and their recent history. The visible reply is stored
// as a new turn and any <info> block is merged into the actor's record.
func (s *Service) Chat(ctx context.Context, inv Invocation, prompt string) Response {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Response{Text: msgEmptyPrompt, Private: true}
	}

	requestID := s.newRequestID()
	logger := s.entry(inv, "chat_request").WithField("request_id", requestID)

	if !s.limiter.allow(domain.NormalizeID(inv.Actor.ID)) {
		logger.WithField("event", "chat_rate_limited").Info("chat request rate limited")
		return Response{Text: msgRateLimited, Private: true}
	}

	started := time.Now()
	reply, infoKeys, err := s.chat(ctx, inv, prompt)
	if err != nil {
		var upstream *llm.UpstreamError
		if errors.As(err, &upstream) {
			logger.WithFields(logging.Fields{
				"event":       "chat_upstream_error",
				"status_code": upstream.StatusCode,
				"body":        upstream.Body,
			}).Warn("completion api rejected request")
			return Response{Text: fmt.Sprintf(msgUpstreamFailure, upstream.StatusCode, upstream.Body)}
		}

		logger.WithField("event", "chat_failed").WithError(err).Error("chat request failed")
		return Response{Text: fmt.Sprintf(msgFailure, err)}
	}

	logger.WithFields(logging.Fields{
		"event":       "chat_completed",
		"duration_ms": time.Since(started).Milliseconds(),
		"info_keys":   infoKeys,
	}).Info("chat request completed")

	if reply == "" {
		reply = msgEmptyReply
	}
	return Response{Text: reply}
}

func (s *Service) chat(ctx context.Context, inv Invocation, prompt string) (string, int, error) {
	serverID := domain.NormalizeID(inv.ServerID)
	userID := domain.NormalizeID(inv.Actor.ID)

	record, _, err := s.users.EnsureUser(ctx, userID, inv.Actor.DisplayName)
	if err != nil {
		return "", 0, err
	}

	infoJSON, err := llm.EncodeInfo(record.Info)
	if err != nil {
		return "", 0, fmt.Errorf("encode user info: %w", err)
	}

	systemPrompt, err := s.prompts.Get(ctx, serverID)
	if err != nil {
		return "", 0, err
	}

	history, err := s.memory.Recent(ctx, serverID, userID, s.contextTurns)
	if err != nil {
		return "", 0, err
	}

	messages := llm.Compose(llm.FormatTranscript(history), prompt, systemPrompt, record.Instruction, infoJSON)
	completion, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return "", 0, err
	}

	visible, info := llm.ExtractInfo(completion.Text)

	if err := s.memory.Append(ctx, serverID, userID, prompt, visible); err != nil {
		return "", 0, err
	}
	if err := s.users.MergeInfo(ctx, userID, info); err != nil {
		return "", 0, err
	}

	return visible, len(info), nil
}
