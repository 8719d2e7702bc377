package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/jsonfile"
	"llm_relay_bot/internal/keylock"
	"llm_relay_bot/internal/logging"
)

// File names inside the data directory.
const (
	UsersFile           = "users.json"
	ServerPromptsFile   = "server_prompts.json"
	AuthorizedUsersFile = "authorized_users.json"
	MemoryDir           = "server_memory"
)

type authorizedDocument struct {
	Users []string `json:"users"`
}

// FileStore keeps every entity in human-readable JSON files under one
// directory. Each file is rewritten whole on every change; read-modify-write
// cycles on the same file are serialized in-process.
type FileStore struct {
	dir    string
	locks  *keylock.Locker
	logger *logrus.Entry
}

// NewFileStore prepares dir (creating it and the memory subdirectory) and
// returns a store rooted there.
func NewFileStore(dir string, logger *logrus.Entry) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("data directory is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	if err := os.MkdirAll(filepath.Join(dir, MemoryDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &FileStore{
		dir:    dir,
		locks:  keylock.New(),
		logger: logger,
	}, nil
}

// ServerMemoryPath returns the per-server history file for serverID.
func (s *FileStore) ServerMemoryPath(serverID string) string {
	return filepath.Join(s.dir, MemoryDir, "server_"+sanitizeFileKey(serverID)+".json")
}

// GetUser implements UserStore.
func (s *FileStore) GetUser(_ context.Context, userID string) (domain.User, bool, error) {
	path := s.path(UsersFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	users, err := s.loadUsers(path)
	if err != nil {
		return domain.User{}, false, err
	}

	user, ok := users[userID]
	if !ok {
		return domain.User{}, false, nil
	}
	user.UserID = userID
	if user.Info == nil {
		user.Info = map[string]any{}
	}

	return user, true, nil
}

// PutUser implements UserStore.
func (s *FileStore) PutUser(_ context.Context, user domain.User) error {
	if user.UserID == "" {
		return errors.New("user_id is required")
	}

	path := s.path(UsersFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	users, err := s.loadUsers(path)
	if err != nil {
		return err
	}

	if user.Info == nil {
		user.Info = map[string]any{}
	}
	users[user.UserID] = user

	return jsonfile.Save(path, users)
}

// GetServerPrompt implements PromptStore.
func (s *FileStore) GetServerPrompt(_ context.Context, serverID string) (domain.ServerPrompt, bool, error) {
	path := s.path(ServerPromptsFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	prompts, err := s.loadPrompts(path)
	if err != nil {
		return domain.ServerPrompt{}, false, err
	}

	prompt, ok := prompts[serverID]
	if !ok {
		return domain.ServerPrompt{}, false, nil
	}
	prompt.ServerID = serverID

	return prompt, true, nil
}

// PutServerPrompt implements PromptStore.
func (s *FileStore) PutServerPrompt(_ context.Context, prompt domain.ServerPrompt) error {
	if prompt.ServerID == "" {
		return errors.New("server_id is required")
	}

	path := s.path(ServerPromptsFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	prompts, err := s.loadPrompts(path)
	if err != nil {
		return err
	}
	prompts[prompt.ServerID] = prompt

	return jsonfile.Save(path, prompts)
}

// AuthorizedUsers implements AuthStore.
func (s *FileStore) AuthorizedUsers(_ context.Context) ([]string, error) {
	path := s.path(AuthorizedUsersFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	var doc authorizedDocument
	if _, err := jsonfile.LoadInto(path, &doc); err != nil {
		if !s.tolerate(path, err) {
			return nil, err
		}
		return []string{}, nil
	}
	if doc.Users == nil {
		return []string{}, nil
	}

	return doc.Users, nil
}

// PutAuthorizedUsers implements AuthStore.
func (s *FileStore) PutAuthorizedUsers(_ context.Context, userIDs []string) error {
	path := s.path(AuthorizedUsersFile)
	unlock := s.locks.Lock(path)
	defer unlock()

	return jsonfile.Save(path, authorizedDocument{Users: cloneStrings(userIDs)})
}

// GetHistory implements HistoryStore.
func (s *FileStore) GetHistory(_ context.Context, serverID, userID string) ([]domain.Turn, error) {
	path := s.ServerMemoryPath(serverID)
	unlock := s.locks.Lock(path)
	defer unlock()

	history, err := s.loadHistory(path)
	if err != nil {
		return nil, err
	}

	return cloneTurns(history[userID]), nil
}

// PutHistory implements HistoryStore.
func (s *FileStore) PutHistory(_ context.Context, serverID, userID string, turns []domain.Turn) error {
	path := s.ServerMemoryPath(serverID)
	unlock := s.locks.Lock(path)
	defer unlock()

	history, err := s.loadHistory(path)
	if err != nil {
		return err
	}
	history[userID] = cloneTurns(turns)

	return jsonfile.Save(path, history)
}

// DeleteHistory implements HistoryStore. The server file is only rewritten
// when the user had an entry.
func (s *FileStore) DeleteHistory(_ context.Context, serverID, userID string) (bool, error) {
	path := s.ServerMemoryPath(serverID)
	unlock := s.locks.Lock(path)
	defer unlock()

	history, err := s.loadHistory(path)
	if err != nil {
		return false, err
	}
	if _, ok := history[userID]; !ok {
		return false, nil
	}
	delete(history, userID)

	if err := jsonfile.Save(path, history); err != nil {
		return false, err
	}

	return true, nil
}

// DeleteServerHistory implements HistoryStore by removing the server file.
func (s *FileStore) DeleteServerHistory(_ context.Context, serverID string) (bool, error) {
	path := s.ServerMemoryPath(serverID)
	unlock := s.locks.Lock(path)
	defer unlock()

	return jsonfile.Remove(path)
}

// Ping verifies the data directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory %s is not a directory", s.dir)
	}

	return nil
}

// Close is a no-op; files are not held open between calls.
func (s *FileStore) Close(context.Context) error {
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) loadUsers(path string) (map[string]domain.User, error) {
	users := map[string]domain.User{}
	if _, err := jsonfile.LoadInto(path, &users); err != nil {
		if !s.tolerate(path, err) {
			return nil, err
		}
		return map[string]domain.User{}, nil
	}
	if users == nil {
		users = map[string]domain.User{}
	}
	return users, nil
}

func (s *FileStore) loadPrompts(path string) (map[string]domain.ServerPrompt, error) {
	prompts := map[string]domain.ServerPrompt{}
	if _, err := jsonfile.LoadInto(path, &prompts); err != nil {
		if !s.tolerate(path, err) {
			return nil, err
		}
		return map[string]domain.ServerPrompt{}, nil
	}
	if prompts == nil {
		prompts = map[string]domain.ServerPrompt{}
	}
	return prompts, nil
}

func (s *FileStore) loadHistory(path string) (map[string][]domain.Turn, error) {
	history := map[string][]domain.Turn{}
	if _, err := jsonfile.LoadInto(path, &history); err != nil {
		if !s.tolerate(path, err) {
			return nil, err
		}
		return map[string][]domain.Turn{}, nil
	}
	if history == nil {
		history = map[string][]domain.Turn{}
	}
	return history, nil
}

// tolerate reports whether err is a corrupt-file error that should be treated
// as an empty document, logging it when so.
func (s *FileStore) tolerate(path string, err error) bool {
	if !errors.Is(err, jsonfile.ErrCorrupt) {
		return false
	}

	s.logger.WithFields(logging.Fields{
		"event": "store_corrupt_file",
		"path":  path,
	}).WithError(err).Warn("treating corrupt data file as empty")

	return true
}

func sanitizeFileKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
