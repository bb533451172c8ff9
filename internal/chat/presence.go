package chat

import (
	"sort"

	"github.com/amaos/amachat/internal/store"
)

// Presence tracks each user's online flag and last-seen timestamp on their
// profile document. It is a best-effort liveness indicator: if a process
// dies without MarkOffline the flag stays stale until the next session.
// There is deliberately no heartbeat or store-side expiry.
type Presence struct {
	st *store.Store
}

func NewPresence(st *store.Store) *Presence {
	return &Presence{st: st}
}

// MarkOnline flags the user online and stamps last-seen. Called on session
// start.
func (p *Presence) MarkOnline(userID string) error {
	err := p.st.Set(userPath(userID), map[string]interface{}{
		"online":    true,
		"last_seen": p.st.Now(),
	})
	if err != nil {
		return storeFailure("mark online", err)
	}
	return nil
}

// MarkOffline flags the user offline and stamps last-seen. Called on session
// end; best-effort on abnormal termination.
func (p *Presence) MarkOffline(userID string) error {
	err := p.st.Set(userPath(userID), map[string]interface{}{
		"online":    false,
		"last_seen": p.st.Now(),
	})
	if err != nil {
		return storeFailure("mark offline", err)
	}
	return nil
}

// ListOnline returns a snapshot of online users, excluding excludeID, sorted
// by display name.
func (p *Presence) ListOnline(excludeID string) ([]Profile, error) {
	docs, err := p.st.List("users")
	if err != nil {
		return nil, storeFailure("list online users", err)
	}
	return onlineProfiles(docs, excludeID), nil
}

// WatchOnline delivers the online-user list (excluding excludeID) now and on
// every presence change. The cancel must be called on session teardown.
func (p *Presence) WatchOnline(excludeID string, fn func([]Profile)) (cancel func()) {
	return p.st.Watch("users", func(docs []store.Document) {
		fn(onlineProfiles(docs, excludeID))
	})
}

func onlineProfiles(docs []store.Document, excludeID string) []Profile {
	users := make([]Profile, 0, len(docs))
	for _, doc := range docs {
		profile, err := profileFromDoc(doc)
		if err != nil {
			continue
		}
		if !profile.Online || profile.ID == excludeID {
			continue
		}
		users = append(users, profile)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name() != users[j].Name() {
			return users[i].Name() < users[j].Name()
		}
		return users[i].ID < users[j].ID
	})
	return users
}
