package chat

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/amaos/amachat/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T, typingIdle time.Duration) (*Service, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	svc, err := NewService(st, typingIdle)
	if err != nil {
		t.Fatalf("Failed to build chat service: %v", err)
	}
	return svc, st
}

func seedUser(t *testing.T, st *store.Store, id, name, color string) {
	t.Helper()
	err := st.Apply(store.Create(UserPath(id), UserRecord{
		Email:       id + "@example.com",
		DisplayName: name,
		ChatColor:   color,
	}))
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", id, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
