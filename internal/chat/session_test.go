package chat

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// sessionRecorder collects hook deliveries for assertions.
type sessionRecorder struct {
	mu       sync.Mutex
	groups   map[string][]MessageGroup // by conversation id, latest delivery
	typing   map[string]bool
	online   []Profile
	states   []string // "convID:state" transitions in order
	stateErr error
}

func newSessionRecorder() *sessionRecorder {
	return &sessionRecorder{
		groups: make(map[string][]MessageGroup),
		typing: make(map[string]bool),
	}
}

func (r *sessionRecorder) hooks() SessionHooks {
	return SessionHooks{
		OnMessages: func(convID string, groups []MessageGroup) {
			r.mu.Lock()
			r.groups[convID] = groups
			r.mu.Unlock()
		},
		OnPeerTyping: func(convID string, typing bool) {
			r.mu.Lock()
			r.typing[convID] = typing
			r.mu.Unlock()
		},
		OnOnlineUsers: func(users []Profile) {
			r.mu.Lock()
			r.online = users
			r.mu.Unlock()
		},
		OnConversationState: func(convID string, state ConversationState, err error) {
			r.mu.Lock()
			r.states = append(r.states, convID+":"+state.String())
			if err != nil {
				r.stateErr = err
			}
			r.mu.Unlock()
		},
	}
}

func (r *sessionRecorder) latestGroups(convID string) []MessageGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[convID]
}

func (r *sessionRecorder) onlineIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.online))
	for i, p := range r.online {
		ids[i] = p.ID
	}
	return ids
}

func TestActivateMarksOnline(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")

	rec := newSessionRecorder()
	sess := svc.NewSession("u1", rec.hooks())
	if err := sess.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	defer sess.Close()

	waitFor(t, func() bool {
		users, _ := svc.Presence.ListOnline("")
		return len(users) == 1 && users[0].ID == "u1" && users[0].Online
	})
}

func TestCloseMarksOffline(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")

	sess := svc.NewSession("u1", SessionHooks{})
	sess.Activate()
	sess.Close()
	sess.Close() // idempotent

	users, err := svc.Presence.ListOnline("")
	if err != nil {
		t.Fatalf("ListOnline failed: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("online users after Close = %v", users)
	}

	// A user document keeps its last-seen stamp
	doc, _, _ := st.Get(UserPath("u1"))
	var rec UserRecord
	doc.Decode(&rec)
	if rec.LastSeen.IsZero() {
		t.Error("LastSeen not stamped on Close")
	}
}

func TestOnlineFeedExcludesSelf(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")
	seedUser(t, st, "u2", "Noor", "")

	rec1 := newSessionRecorder()
	sess1 := svc.NewSession("u1", rec1.hooks())
	sess1.Activate()
	defer sess1.Close()

	sess2 := svc.NewSession("u2", SessionHooks{})
	sess2.Activate()
	defer sess2.Close()

	waitFor(t, func() bool {
		ids := rec1.onlineIDs()
		return len(ids) == 1 && ids[0] == "u2"
	})
}

func TestPrivateConversationFlow(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")
	seedUser(t, st, "u2", "Noor", "")

	rec1 := newSessionRecorder()
	sess1 := svc.NewSession("u1", rec1.hooks())
	sess1.Activate()
	defer sess1.Close()

	rec2 := newSessionRecorder()
	sess2 := svc.NewSession("u2", rec2.hooks())
	sess2.Activate()
	defer sess2.Close()

	if err := sess1.SelectPeer("u2"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}
	if err := sess2.SelectPeer("u1"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	convID, peerID, state := sess1.Current()
	if convID != "u1_u2" || peerID != "u2" || state != StateReady {
		t.Fatalf("Current = (%q, %q, %v)", convID, peerID, state)
	}

	if _, err := sess1.Send("hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := sess2.Send("hey"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := sess1.Send("how are you"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Both sides converge on the same three alternating groups
	for _, rec := range []*sessionRecorder{rec1, rec2} {
		waitFor(t, func() bool {
			groups := rec.latestGroups("u1_u2")
			return len(groups) == 3
		})
		groups := rec.latestGroups("u1_u2")
		wantSenders := []string{"u1", "u2", "u1"}
		wantTexts := []string{"hi", "hey", "how are you"}
		for i, g := range groups {
			if g.SenderID != wantSenders[i] || g.Messages[0] != wantTexts[i] {
				t.Errorf("groups[%d] = %s %v, want %s %q",
					i, g.SenderID, g.Messages, wantSenders[i], wantTexts[i])
			}
		}
	}
}

func TestTypingPropagatesToPeer(t *testing.T) {
	svc, st := newTestService(t, 50*time.Millisecond)
	seedUser(t, st, "u1", "Lina", "")
	seedUser(t, st, "u2", "Noor", "")

	rec2 := newSessionRecorder()
	sess1 := svc.NewSession("u1", SessionHooks{})
	sess2 := svc.NewSession("u2", rec2.hooks())
	sess1.Activate()
	sess2.Activate()
	defer sess1.Close()
	defer sess2.Close()

	sess1.SelectPeer("u2")
	sess2.SelectPeer("u1")

	if err := sess1.Typing(true); err != nil {
		t.Fatalf("Typing failed: %v", err)
	}

	waitFor(t, func() bool {
		rec2.mu.Lock()
		defer rec2.mu.Unlock()
		return rec2.typing["u1_u2"]
	})

	// Idle expiry propagates the reset
	waitFor(t, func() bool {
		rec2.mu.Lock()
		defer rec2.mu.Unlock()
		return !rec2.typing["u1_u2"]
	})
}

func TestSendRequiresReadyConversation(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")

	sess := svc.NewSession("u1", SessionHooks{})

	// Not activated yet
	if _, err := sess.Send("hi"); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Send before Activate error = %v, want ErrSessionInactive", err)
	}

	sess.Activate()
	defer sess.Close()

	// Activated but nothing selected
	if _, err := sess.Send("hi"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send with no selection error = %v, want ErrNotReady", err)
	}
	if err := sess.Typing(true); !errors.Is(err, ErrNotReady) {
		t.Errorf("Typing with no selection error = %v, want ErrNotReady", err)
	}

	sess.SelectGlobal()
	if _, err := sess.Send("hi"); err != nil {
		t.Errorf("Send in global room failed: %v", err)
	}
	// Global room has no typing records
	if err := sess.Typing(true); !errors.Is(err, ErrNotReady) {
		t.Errorf("Typing in global room error = %v, want ErrNotReady", err)
	}

	sess.Deselect()
	if _, err := sess.Send("hi"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send after Deselect error = %v, want ErrNotReady", err)
	}
}

func TestSendEmptyTextSurfacesValidation(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")

	sess := svc.NewSession("u1", SessionHooks{})
	sess.Activate()
	defer sess.Close()
	sess.SelectGlobal()

	if _, err := sess.Send("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("error = %v, want ErrEmptyMessage", err)
	}
}

func TestSelectionIsMutuallyExclusive(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")
	seedUser(t, st, "u2", "Noor", "")

	rec := newSessionRecorder()
	sess := svc.NewSession("u1", rec.hooks())
	sess.Activate()
	defer sess.Close()

	sess.SelectPeer("u2")
	sess.SelectGlobal()

	convID, _, state := sess.Current()
	if convID != GlobalConversationID || state != StateReady {
		t.Fatalf("Current = (%q, %v) after switching to global", convID, state)
	}

	// A message landing in the abandoned private room must not reach the
	// session's hooks anymore
	rec.mu.Lock()
	rec.groups["u1_u2"] = nil
	rec.mu.Unlock()

	other := svc.NewSession("u2", SessionHooks{})
	other.Activate()
	defer other.Close()
	other.SelectPeer("u1")
	if _, err := other.Send("lost on u1's side"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if groups := rec.latestGroups("u1_u2"); len(groups) != 0 {
		t.Error("deselected private conversation still delivering to hooks")
	}

	// The global selection still works
	if _, err := sess.Send("back in global"); err != nil {
		t.Errorf("Send in global failed: %v", err)
	}
	waitFor(t, func() bool {
		return len(rec.latestGroups(GlobalConversationID)) == 1
	})
}

func TestSelectPeerStateTransitions(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")
	seedUser(t, st, "u2", "Noor", "")

	rec := newSessionRecorder()
	sess := svc.NewSession("u1", rec.hooks())
	sess.Activate()
	defer sess.Close()

	if err := sess.SelectPeer("u2"); err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}

	rec.mu.Lock()
	states := append([]string(nil), rec.states...)
	rec.mu.Unlock()

	want := []string{"u1_u2:initializing", "u1_u2:ready"}
	if len(states) != 2 || states[0] != want[0] || states[1] != want[1] {
		t.Errorf("state transitions = %v, want %v", states, want)
	}
}

func TestSelectSelfFails(t *testing.T) {
	svc, st := newTestService(t, 0)
	seedUser(t, st, "u1", "Lina", "")

	sess := svc.NewSession("u1", SessionHooks{})
	sess.Activate()
	defer sess.Close()

	err := sess.SelectPeer("u1")
	if !errors.Is(err, ErrSelfChat) {
		t.Fatalf("error = %v, want ErrSelfChat", err)
	}
	if IsRetryable(err) {
		t.Error("ErrSelfChat must not be classified retryable")
	}

	convID, _, state := sess.Current()
	if convID != "" || state != StateNone {
		t.Errorf("Current = (%q, %v), want empty after failed selection", convID, state)
	}
}
