package auth

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"llm_relay_bot/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	backing := store.NewMemoryStore()
	return NewRegistry(backing, logrus.NewEntry(logger)), backing, hook
}

func TestRegistryAddRemoveHistory(t *testing.T) {
	registry, backing, _ := newTestRegistry(t)
	ctx := context.Background()

	steps := []struct {
		op   string
		id   string
		want bool
	}{
		{op: "remove", id: "7", want: false},
		{op: "add", id: "7", want: true},
		{op: "add", id: " 7 ", want: false},
		{op: "add", id: "8", want: true},
		{op: "remove", id: "7", want: true},
		{op: "remove", id: "7", want: false},
		{op: "add", id: "7", want: true},
	}

	for i, step := range steps {
		var (
			got bool
			err error
		)
		switch step.op {
		case "add":
			got, err = registry.Add(ctx, step.id)
		case "remove":
			got, err = registry.Remove(ctx, step.id)
		}
		if err != nil {
			t.Fatalf("step %d %s(%q) returned error: %v", i, step.op, step.id, err)
		}
		if got != step.want {
			t.Fatalf("step %d %s(%q) = %v, want %v", i, step.op, step.id, got, step.want)
		}
	}

	users, _ := backing.AuthorizedUsers(ctx)
	if !reflect.DeepEqual(users, []string{"8", "7"}) {
		t.Fatalf("expected insertion ordered list, got %v", users)
	}

	for id, want := range map[string]bool{"7": true, "8": true, "9": false} {
		got, err := registry.IsAuthorized(ctx, id)
		if err != nil {
			t.Fatalf("IsAuthorized(%q) returned error: %v", id, err)
		}
		if got != want {
			t.Fatalf("IsAuthorized(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestRegistryLogsMutations(t *testing.T) {
	registry, _, hook := newTestRegistry(t)

	if _, err := registry.Add(context.Background(), "5"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "authorized_user_added" || entry.Data["user_id"] != "5" {
		t.Fatalf("expected authorized_user_added log, got %+v", entry)
	}
}

func TestRegistryConcurrentAdds(t *testing.T) {
	registry, backing, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := registry.Add(ctx, id); err != nil {
				t.Errorf("Add returned error: %v", err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	users, _ := backing.AuthorizedUsers(ctx)
	if len(users) != 20 {
		t.Fatalf("expected 20 authorized users, got %d: %v", len(users), users)
	}
}

func TestRegistryRequiresID(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	if _, err := registry.Add(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank id")
	}
}

func TestRegistryPropagatesStoreErrors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	registry := NewRegistry(failingStore{}, logrus.NewEntry(logger))

	_, err := registry.IsAuthorized(context.Background(), "1")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestRegistryNotInitialized(t *testing.T) {
	var registry *Registry
	if _, err := registry.IsAuthorized(context.Background(), "1"); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

var errStoreDown = errors.New("store down")

type failingStore struct{}

func (failingStore) AuthorizedUsers(context.Context) ([]string, error) {
	return nil, errStoreDown
}

func (failingStore) PutAuthorizedUsers(context.Context, []string) error {
	return errStoreDown
}
