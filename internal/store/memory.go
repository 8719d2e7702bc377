package store

import (
	"context"
	"errors"
	"sync"

	"llm_relay_bot/internal/domain"
)

// MemoryStore keeps everything in process memory. It is used by tests and
// throwaway runs; values are copied on the way in and out.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]domain.User
	prompts    map[string]domain.ServerPrompt
	authorized []string
	history    map[string]map[string][]domain.Turn
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		prompts:    make(map[string]domain.ServerPrompt),
		authorized: []string{},
		history:    make(map[string]map[string][]domain.Turn),
	}
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, false, nil
	}
	return user.Clone(), true, nil
}

func (s *MemoryStore) PutUser(_ context.Context, user domain.User) error {
	if user.UserID == "" {
		return errors.New("user_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.UserID] = user.Clone()
	return nil
}

func (s *MemoryStore) GetServerPrompt(_ context.Context, serverID string) (domain.ServerPrompt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt, ok := s.prompts[serverID]
	return prompt, ok, nil
}

func (s *MemoryStore) PutServerPrompt(_ context.Context, prompt domain.ServerPrompt) error {
	if prompt.ServerID == "" {
		return errors.New("server_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts[prompt.ServerID] = prompt
	return nil
}

func (s *MemoryStore) AuthorizedUsers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneStrings(s.authorized), nil
}

func (s *MemoryStore) PutAuthorizedUsers(_ context.Context, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authorized = cloneStrings(userIDs)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, serverID, userID string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneTurns(s.history[serverID][userID]), nil
}

func (s *MemoryStore) PutHistory(_ context.Context, serverID, userID string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.history[serverID]
	if !ok {
		server = make(map[string][]domain.Turn)
		s.history[serverID] = server
	}
	server[userID] = cloneTurns(turns)
	return nil
}

func (s *MemoryStore) DeleteHistory(_ context.Context, serverID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.history[serverID]
	if !ok {
		return false, nil
	}
	if _, ok := server[userID]; !ok {
		return false, nil
	}
	delete(server, userID)
	return true, nil
}

func (s *MemoryStore) DeleteServerHistory(_ context.Context, serverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.history[serverID]; !ok {
		return false, nil
	}
	delete(s.history, serverID)
	return true, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
