package chat

import (
	"log"
	"sync"
	"time"

	"github.com/amaos/amachat/internal/store"
)

// Service bundles the chat components over one store and seeds the global
// room.
type Service struct {
	Presence      *Presence
	Conversations *Conversations
	Messages      *Messages
	Typing        *Typing
}

func NewService(st *store.Store, typingIdle time.Duration) (*Service, error) {
	convs := NewConversations(st)

	// The global room always exists; nobody runs Ensure for it and it has no
	// typing records.
	err := st.Apply(store.Ensure(
		conversationPath(GlobalConversationID),
		conversationDoc{Participants: []string{}, LastMessage: ""},
	))
	if err != nil {
		return nil, storeFailure("seed global conversation", err)
	}

	return &Service{
		Presence:      NewPresence(st),
		Conversations: convs,
		Messages:      NewMessages(st, convs),
		Typing:        NewTyping(st, typingIdle),
	}, nil
}

// ConversationState is the explicit lifecycle of the selected conversation.
// Send and typing operations are only legal in StateReady.
type ConversationState int

const (
	StateNone ConversationState = iota
	StateInitializing
	StateReady
)

func (s ConversationState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "none"
	}
}

// SessionHooks receive the session's live output. They are invoked from
// watcher goroutines and must be safe to call concurrently with session
// methods. Nil hooks are skipped.
type SessionHooks struct {
	OnMessages          func(conversationID string, groups []MessageGroup)
	OnPeerTyping        func(conversationID string, typing bool)
	OnOnlineUsers       func(users []Profile)
	OnConversationState func(conversationID string, state ConversationState, err error)
}

// Session orchestrates one authenticated user's chat: presence, the mutually
// exclusive global/private selection, the conversation state machine, and
// subscription lifecycles. All watchers a selection acquires are released
// when the selection changes or the session closes, on every path.
type Session struct {
	svc   *Service
	user  string
	hooks SessionHooks

	mu           sync.Mutex
	active       bool
	closed       bool
	convID       string
	peerID       string
	state        ConversationState
	cancels      []func()
	composer     *Composer
	onlineCancel func()
}

func (svc *Service) NewSession(userID string, hooks SessionHooks) *Session {
	return &Session{svc: svc, user: userID, hooks: hooks}
}

func (s *Session) UserID() string {
	return s.user
}

// Activate marks the user online and starts the online-user feed. Presence
// write failures are logged, not fatal: the chat session works without the
// flag.
func (s *Session) Activate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionInactive
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	if s.hooks.OnOnlineUsers != nil {
		s.onlineCancel = s.svc.Presence.WatchOnline(s.user, s.hooks.OnOnlineUsers)
	}
	s.mu.Unlock()

	if err := s.svc.Presence.MarkOnline(s.user); err != nil {
		log.Printf("chat: mark online %s: %v", s.user, err)
	}
	return nil
}

// SelectGlobal switches the session to the public room, deactivating any
// private selection. The global room is always ready.
func (s *Session) SelectGlobal() error {
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return ErrSessionInactive
	}
	s.clearSelectionLocked()
	s.convID = GlobalConversationID
	s.state = StateReady
	s.watchMessagesLocked(GlobalConversationID)
	s.mu.Unlock()

	s.emitState(GlobalConversationID, StateReady, nil)
	return nil
}

// SelectPeer switches the session to the private conversation with otherID,
// deactivating the global room. The conversation is initialized through
// Ensure before sends or typing are allowed; on failure the session falls
// back to no selection and the error is surfaced as retryable — calling
// SelectPeer again retries.
func (s *Session) SelectPeer(otherID string) error {
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return ErrSessionInactive
	}
	s.clearSelectionLocked()

	convID := ConversationID(s.user, otherID)
	s.convID = convID
	s.peerID = otherID
	s.state = StateInitializing
	s.mu.Unlock()

	s.emitState(convID, StateInitializing, nil)

	_, err := s.svc.Conversations.Ensure(s.user, otherID)
	if err != nil {
		s.mu.Lock()
		if s.convID == convID && s.state == StateInitializing {
			s.convID = ""
			s.peerID = ""
			s.state = StateNone
		}
		s.mu.Unlock()
		s.emitState(convID, StateNone, err)
		return err
	}

	s.mu.Lock()
	if s.convID != convID || s.closed {
		// Switched away or closed while the transaction ran
		s.mu.Unlock()
		return nil
	}
	s.state = StateReady
	s.composer = s.svc.Typing.NewComposer(convID, s.user)
	s.watchMessagesLocked(convID)
	if s.hooks.OnPeerTyping != nil {
		cancel := s.svc.Typing.WatchPeer(convID, otherID, func(typing bool) {
			s.hooks.OnPeerTyping(convID, typing)
		})
		s.cancels = append(s.cancels, cancel)
	}
	s.mu.Unlock()

	s.emitState(convID, StateReady, nil)
	return nil
}

// Deselect leaves the current conversation, releasing its subscriptions.
func (s *Session) Deselect() {
	s.mu.Lock()
	s.clearSelectionLocked()
	s.mu.Unlock()
}

// Send appends a message to the selected conversation. Outside StateReady it
// fails with ErrNotReady; the caller keeps the input text so a retry after a
// store failure resends rather than retypes.
func (s *Session) Send(text string) (Message, error) {
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return Message{}, ErrSessionInactive
	}
	if s.convID == "" || s.state != StateReady {
		s.mu.Unlock()
		return Message{}, ErrNotReady
	}
	convID := s.convID
	composer := s.composer
	s.mu.Unlock()

	// Typing drops before the message lands, matching the composer's view
	if composer != nil {
		composer.Clear()
	}

	return s.svc.Messages.Send(convID, s.user, text)
}

// Typing reports input activity in the selected private conversation.
// nonEmpty mirrors whether the input currently has content.
func (s *Session) Typing(nonEmpty bool) error {
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return ErrSessionInactive
	}
	if s.state != StateReady || s.composer == nil {
		s.mu.Unlock()
		return ErrNotReady
	}
	composer := s.composer
	s.mu.Unlock()

	composer.Keystroke(nonEmpty)
	return nil
}

// Current returns the selected conversation, its peer ("" for the global
// room) and the lifecycle state.
func (s *Session) Current() (convID, peerID string, state ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID, s.peerID, s.state
}

// Close tears down every subscription and marks the user offline. Safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clearSelectionLocked()
	if s.onlineCancel != nil {
		s.onlineCancel()
		s.onlineCancel = nil
	}
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if wasActive {
		if err := s.svc.Presence.MarkOffline(s.user); err != nil {
			log.Printf("chat: mark offline %s: %v", s.user, err)
		}
	}
}

func (s *Session) watchMessagesLocked(convID string) {
	if s.hooks.OnMessages == nil {
		return
	}
	cancel := s.svc.Messages.Watch(convID, func(msgs []Message) {
		s.hooks.OnMessages(convID, Group(msgs))
	})
	s.cancels = append(s.cancels, cancel)
}

func (s *Session) clearSelectionLocked() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	if s.composer != nil {
		s.composer.Stop()
		s.composer = nil
	}
	s.convID = ""
	s.peerID = ""
	s.state = StateNone
}

func (s *Session) emitState(convID string, state ConversationState, err error) {
	if s.hooks.OnConversationState != nil {
		s.hooks.OnConversationState(convID, state, err)
	}
}
