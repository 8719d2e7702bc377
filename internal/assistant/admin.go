package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llm_relay_bot/internal/domain"
)

// SetInstruction stores a per-user instruction. Administrators only.
func (s *Service) SetInstruction(ctx context.Context, inv Invocation, target Target, instruction string) Response {
	const command = "set_instruction"

	if err := s.require(ctx, inv, domain.RoleAdmin, command); err != nil {
		return s.denied(inv, command, err, msgNoAdmin)
	}

	name := displayName(target.DisplayName, target.ID)
	if err := s.users.SetInstruction(ctx, target.ID, name, strings.TrimSpace(instruction)); err != nil {
		return s.failure(inv, command, err)
	}

	return Response{Text: fmt.Sprintf(msgInstructionUpdated, name)}
}

// SetServerPrompt replaces the server's system prompt. Administrators and
// authorized users.
func (s *Service) SetServerPrompt(ctx context.Context, inv Invocation, text string) Response {
	const command = "set_server_prompt"

	if err := s.require(ctx, inv, domain.RoleAuthorized, command); err != nil {
		return s.denied(inv, command, err, msgNoPromptRights)
	}

	updatedBy := displayName(inv.Actor.DisplayName, inv.Actor.ID)
	if err := s.prompts.Set(ctx, inv.ServerID, strings.TrimSpace(text), updatedBy); err != nil {
		return s.failure(inv, command, err)
	}

	return Response{Text: msgPromptUpdated}
}

// AddAuthorized grants target the right to change prompts and memory.
// Administrators only.
func (s *Service) AddAuthorized(ctx context.Context, inv Invocation, target Target) Response {
	const command = "add_authorized_user"

	if err := s.require(ctx, inv, domain.RoleAdmin, command); err != nil {
		return s.denied(inv, command, err, msgOnlyAdminsGrant)
	}

	added, err := s.auth.Add(ctx, target.ID)
	if err != nil {
		return s.failure(inv, command, err)
	}
	if !added {
		return Response{Text: msgAlreadyGranted}
	}

	return Response{Text: fmt.Sprintf(msgGranted, displayName(target.DisplayName, target.ID))}
}

// RemoveAuthorized revokes target's rights. Administrators only.
func (s *Service) RemoveAuthorized(ctx context.Context, inv Invocation, target Target) Response {
	const command = "remove_authorized_user"

	if err := s.require(ctx, inv, domain.RoleAdmin, command); err != nil {
		return s.denied(inv, command, err, msgOnlyAdminsRevoke)
	}

	removed, err := s.auth.Remove(ctx, target.ID)
	if err != nil {
		return s.failure(inv, command, err)
	}
	if !removed {
		return Response{Text: msgNotInList}
	}

	return Response{Text: fmt.Sprintf(msgRevoked, displayName(target.DisplayName, target.ID))}
}

// Forget wipes target's history in the server, or the whole server's history
// when target is nil. Administrators and authorized users.
func (s *Service) Forget(ctx context.Context, inv Invocation, target *Target) Response {
	const command = "forget"

	if err := s.require(ctx, inv, domain.RoleAuthorized, command); err != nil {
		return s.denied(inv, command, err, msgNoForgetRights)
	}

	if target != nil {
		forgotten, err := s.memory.ForgetUser(ctx, inv.ServerID, target.ID)
		if err != nil {
			return s.failure(inv, command, err)
		}
		if !forgotten {
			return Response{Text: msgUserMemoryEmpty}
		}
		return Response{Text: fmt.Sprintf(msgUserForgotten, displayName(target.DisplayName, target.ID))}
	}

	forgotten, err := s.memory.ForgetServer(ctx, inv.ServerID)
	if err != nil {
		return s.failure(inv, command, err)
	}
	if !forgotten {
		return Response{Text: msgServerMemoryEmpty}
	}
	return Response{Text: msgServerForgotten}
}

// denied renders a permission failure privately, or an unexpected error from
// the role lookup as a regular failure.
func (s *Service) denied(inv Invocation, command string, err error, text string) Response {
	if errors.Is(err, ErrPermissionDenied) {
		return Response{Text: text, Private: true}
	}
	return s.failure(inv, command, err)
}
