package chat

import (
	"sync"
	"testing"
	"time"
)

func readTypingDoc(t *testing.T, svc *Service, convID, userID string) bool {
	t.Helper()
	doc, ok, err := svc.Conversations.st.Get(typingPath(convID, userID))
	if err != nil || !ok {
		t.Fatalf("typing doc %s/%s missing: ok=%v err=%v", convID, userID, ok, err)
	}
	var body typingDoc
	doc.Decode(&body)
	return body.IsTyping
}

func TestKeystrokeRaisesFlag(t *testing.T) {
	svc, _ := newTestService(t, 50*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("flag not raised after keystroke with content")
	}
}

func TestIdleTimeoutLowersFlagOnce(t *testing.T) {
	svc, _ := newTestService(t, 40*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	waitFor(t, func() bool { return !readTypingDoc(t, svc, "u1_u2", "u1") })

	// A keystroke after expiry raises it again: the timer fired once and is gone
	c.Keystroke(true)
	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("flag not raised after post-expiry keystroke")
	}
}

func TestKeystrokeExtendsIdleTimer(t *testing.T) {
	svc, _ := newTestService(t, 60*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	time.Sleep(35 * time.Millisecond)
	c.Keystroke(true) // rearm before expiry
	time.Sleep(35 * time.Millisecond)

	// 70ms after the first keystroke but only 35ms after the second
	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("timer was not extended by the second keystroke")
	}

	waitFor(t, func() bool { return !readTypingDoc(t, svc, "u1_u2", "u1") })
}

func TestEmptyInputLowersFlagWithoutTimer(t *testing.T) {
	svc, _ := newTestService(t, 40*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	c.Keystroke(false) // input cleared
	if readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("flag still raised after input cleared")
	}
}

func TestClearCancelsPendingTimer(t *testing.T) {
	svc, _ := newTestService(t, 40*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	c.Clear()
	if readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("flag still raised after Clear")
	}

	// Composer still works after Clear
	c.Keystroke(true)
	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("composer dead after Clear")
	}
}

func TestStopRetiresComposer(t *testing.T) {
	svc, _ := newTestService(t, 40*time.Millisecond)
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	c.Keystroke(true)
	c.Stop()
	c.Stop() // idempotent

	if readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("flag still raised after Stop")
	}

	// No dangling write after the old idle interval would have elapsed
	c.Keystroke(true)
	time.Sleep(60 * time.Millisecond)
	if readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("stopped composer still writes")
	}
}

func TestSupersededExpiryKeepsFreshKeystroke(t *testing.T) {
	svc, _ := newTestService(t, time.Hour) // timers never fire on their own here
	svc.Conversations.Ensure("u1", "u2")

	c := svc.Typing.NewComposer("u1_u2", "u1")
	defer c.Stop()

	c.Keystroke(true)
	c.mu.Lock()
	stale := c.arm
	c.mu.Unlock()

	// A keystroke landing as the previous timer fires: the re-arm supersedes
	// the in-flight expiry, which must return without writing
	c.Keystroke(true)
	c.expire(stale)

	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("superseded expiry lowered the flag over a fresh keystroke")
	}

	// The current arm still expires normally
	c.mu.Lock()
	current := c.arm
	c.mu.Unlock()
	c.expire(current)
	if readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("current arm expiry did not lower the flag")
	}

	// A second firing of the already-expired arm is inert after a re-arm
	c.Keystroke(true)
	c.expire(current)
	if !readTypingDoc(t, svc, "u1_u2", "u1") {
		t.Fatal("retired arm wrote a second false")
	}
}

func TestWatchPeerDeliversChangesOnly(t *testing.T) {
	svc, _ := newTestService(t, 0)
	svc.Conversations.Ensure("u1", "u2")

	var mu sync.Mutex
	var seen []bool
	cancel := svc.Typing.WatchPeer("u1_u2", "u2", func(typing bool) {
		mu.Lock()
		seen = append(seen, typing)
		mu.Unlock()
	})
	defer cancel()

	// Initial state: false
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == false
	})

	svc.Typing.Set("u1_u2", "u2", true)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[1] == true
	})

	// The watcher's own user flag is irrelevant to the peer feed
	svc.Typing.Set("u1_u2", "u1", true)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if len(seen) != 2 {
		t.Errorf("deliveries = %v, own-flag write must not produce a peer change", seen)
	}
	mu.Unlock()
}
