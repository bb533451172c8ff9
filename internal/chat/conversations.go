package chat

import (
	"log"
	"sort"

	"github.com/amaos/amachat/internal/store"
)

// Conversations owns the conversation metadata documents and their typing
// sub-records, including the at-most-once initialization invariant.
type Conversations struct {
	st *store.Store
}

func NewConversations(st *store.Store) *Conversations {
	return &Conversations{st: st}
}

// Ensure lazily creates the private conversation between two users. The
// metadata document and both typing records are written in one all-or-nothing
// transaction, so no caller ever observes a conversation without its typing
// records or vice versa. Ensure is idempotent: concurrent callers racing on
// the same pair both succeed and exactly one conversation exists afterwards.
func (c *Conversations) Ensure(userA, userB string) (Conversation, error) {
	if userA == userB {
		return Conversation{}, ErrSelfChat
	}

	id := ConversationID(userA, userB)
	path := conversationPath(id)

	doc, ok, err := c.st.Get(path)
	if err != nil {
		return Conversation{}, storeFailure("read conversation", err)
	}

	if !ok {
		participants := []string{userA, userB}
		sort.Strings(participants)

		err := c.st.Apply(
			store.Ensure(path, conversationDoc{Participants: participants, LastMessage: ""}),
			store.Ensure(typingPath(id, userA), typingDoc{IsTyping: false}),
			store.Ensure(typingPath(id, userB), typingDoc{IsTyping: false}),
		)
		if err != nil {
			return Conversation{}, storeFailure("initialize conversation", err)
		}

		doc, _, err = c.st.Get(path)
		if err != nil {
			return Conversation{}, storeFailure("read conversation", err)
		}
	}

	conv, err := conversationFromDoc(doc)
	if err != nil {
		return Conversation{}, storeFailure("decode conversation", err)
	}
	return conv, nil
}

// Get reads a conversation's metadata.
func (c *Conversations) Get(convID string) (Conversation, bool, error) {
	doc, ok, err := c.st.Get(conversationPath(convID))
	if err != nil {
		return Conversation{}, false, storeFailure("read conversation", err)
	}
	if !ok {
		return Conversation{}, false, nil
	}
	conv, err := conversationFromDoc(doc)
	if err != nil {
		return Conversation{}, false, storeFailure("decode conversation", err)
	}
	return conv, true, nil
}

// Touch records the latest message text on the metadata document. It is
// fire-and-forget: a failure here is logged and never blocks message
// delivery, since the message itself has already committed.
func (c *Conversations) Touch(convID, lastMessage string) {
	err := c.st.Set(conversationPath(convID), map[string]interface{}{
		"last_message": lastMessage,
	})
	if err != nil {
		log.Printf("chat: touch conversation %s: %v", convID, err)
	}
}

// ListFor returns the private conversations the user participates in, most
// recently updated first.
func (c *Conversations) ListFor(userID string) ([]Conversation, error) {
	docs, err := c.st.List("conversations")
	if err != nil {
		return nil, storeFailure("list conversations", err)
	}

	var convs []Conversation
	for _, doc := range docs {
		conv, err := conversationFromDoc(doc)
		if err != nil {
			continue
		}
		if conv.ID == GlobalConversationID || !conv.HasParticipant(userID) {
			continue
		}
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastUpdated.After(convs[j].LastUpdated)
	})
	return convs, nil
}
