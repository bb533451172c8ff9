package chat

import (
	"log"
	"sync"
	"time"

	"github.com/amaos/amachat/internal/store"
)

// DefaultTypingIdle is how long after the last keystroke the typing flag
// falls back to false.
const DefaultTypingIdle = 1500 * time.Millisecond

// Typing manages the ephemeral per-user, per-conversation typing flags. The
// flag is overwritten in place and never historized; updates carry no
// ordering guarantee relative to message sends, so a stale "typing" may
// briefly outlive a sent message.
type Typing struct {
	st   *store.Store
	idle time.Duration
}

func NewTyping(st *store.Store, idle time.Duration) *Typing {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &Typing{st: st, idle: idle}
}

// Set unconditionally overwrites the user's typing flag in the conversation.
// The typing document must exist, i.e. the conversation must be initialized.
func (t *Typing) Set(convID, userID string, isTyping bool) error {
	err := t.st.Set(typingPath(convID, userID), map[string]interface{}{
		"is_typing": isTyping,
	})
	if err != nil {
		return storeFailure("set typing", err)
	}
	return nil
}

// WatchPeer delivers the peer's typing flag, now and on change. Deliveries
// are deduplicated: fn only runs when the value differs from the last one
// delivered.
func (t *Typing) WatchPeer(convID, peerID string, fn func(bool)) (cancel func()) {
	var mu sync.Mutex
	last := false
	first := true

	return t.st.Watch(typingParent(convID), func(docs []store.Document) {
		typing := false
		for _, doc := range docs {
			if doc.Segment() != peerID {
				continue
			}
			var body typingDoc
			if err := doc.Decode(&body); err == nil {
				typing = body.IsTyping
			}
		}

		mu.Lock()
		changed := first || typing != last
		first = false
		last = typing
		mu.Unlock()

		if changed {
			fn(typing)
		}
	})
}

// Composer is the send-side debouncer for one user in one conversation: a
// keystroke with non-empty input raises the flag and (re)arms the idle timer;
// expiry lowers it exactly once; Clear lowers it immediately on send; Stop
// lowers it and retires the composer on teardown. The timer is cancelled, not
// left to expire, so no write ever lands on a torn-down conversation.
type Composer struct {
	t      *Typing
	convID string
	userID string

	mu      sync.Mutex
	timer   *time.Timer
	arm     uint64
	stopped bool
}

func (t *Typing) NewComposer(convID, userID string) *Composer {
	return &Composer{t: t, convID: convID, userID: userID}
}

// Keystroke records input activity. nonEmpty reflects whether the input
// field currently has content.
func (c *Composer) Keystroke(nonEmpty bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked()
	if nonEmpty {
		gen := c.arm
		c.timer = time.AfterFunc(c.t.idle, func() { c.expire(gen) })
	}
	c.mu.Unlock()

	c.write(nonEmpty)
}

// expire lowers the flag only when the firing timer is still the current arm.
// A keystroke racing the expiry bumps the generation as it re-arms, so the
// superseded firing returns without writing a stale false over the fresh true.
func (c *Composer) expire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.arm {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.write(false)
}

// Clear lowers the flag immediately and cancels any pending timer. Called on
// message send.
func (c *Composer) Clear() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.write(false)
}

// Stop is Clear plus retirement: no later Keystroke writes anything. Called
// on view teardown. Idempotent.
func (c *Composer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.write(false)
}

// cancelTimerLocked invalidates the pending arm. Bumping the generation also
// retires an expiry that already fired but has not taken the lock yet, which
// Stop alone cannot catch.
func (c *Composer) cancelTimerLocked() {
	c.arm++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Typing flags are display state only; a failed write is logged, never
// propagated.
func (c *Composer) write(isTyping bool) {
	if err := c.t.Set(c.convID, c.userID, isTyping); err != nil {
		log.Printf("chat: typing update %s/%s: %v", c.convID, c.userID, err)
	}
}
