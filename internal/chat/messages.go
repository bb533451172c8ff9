package chat

import (
	"strings"

	"github.com/amaos/amachat/internal/store"
)

// Messages is the append-only ordered message log per conversation, with a
// live-subscription read model.
type Messages struct {
	st    *store.Store
	convs *Conversations
}

func NewMessages(st *store.Store, convs *Conversations) *Messages {
	return &Messages{st: st, convs: convs}
}

// Send appends a message to the conversation. The text must be non-empty
// after trimming, and a private conversation only accepts its participants.
// Sender display fields are read from the profile document and denormalized
// onto the message at send time. The conversation metadata touch afterwards
// is best-effort and never fails the send.
func (m *Messages) Send(convID, senderID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	if convID != GlobalConversationID {
		conv, ok, err := m.convs.Get(convID)
		if err != nil {
			return Message{}, err
		}
		if !ok || !conv.HasParticipant(senderID) {
			return Message{}, ErrNotParticipant
		}
	}

	doc, ok, err := m.st.Get(userPath(senderID))
	if err != nil {
		return Message{}, storeFailure("read sender profile", err)
	}
	if !ok {
		return Message{}, ErrUnknownUser
	}
	sender, err := profileFromDoc(doc)
	if err != nil {
		return Message{}, storeFailure("decode sender profile", err)
	}

	stored, err := m.st.Add(messagesParent(convID), messageDoc{
		SenderID:      senderID,
		SenderName:    sender.Name(),
		SenderColor:   sender.ChatColor,
		SenderPicture: sender.ProfilePicture,
		Text:          text,
	})
	if err != nil {
		return Message{}, storeFailure("append message", err)
	}

	if convID != GlobalConversationID {
		m.convs.Touch(convID, text)
	}

	msg, err := messageFromDoc(stored)
	if err != nil {
		return Message{}, storeFailure("decode message", err)
	}
	return msg, nil
}

// Watch delivers the full ordered message list of the conversation, now and
// after every append. Messages are ordered by store-assigned send time,
// ascending, ties broken by insertion order. The cancel must be called on
// view teardown.
func (m *Messages) Watch(convID string, fn func([]Message)) (cancel func()) {
	return m.st.Watch(messagesParent(convID), func(docs []store.Document) {
		fn(decodeMessages(docs))
	})
}

// History returns one page of the conversation's messages in chronological
// order, offset pages back from the newest.
func (m *Messages) History(convID string, limit, offset int) ([]Message, error) {
	docs, err := m.st.ListRange(messagesParent(convID), limit, offset)
	if err != nil {
		return nil, storeFailure("read history", err)
	}

	msgs := decodeMessages(docs)
	// ListRange is newest-first; flip to oldest-first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RepaintSenderColor rewrites the denormalized sender color on every message
// the user authored in the conversation, as a single atomic batch: readers
// never observe a half-repainted room. This is the one sanctioned exception
// to message immutability, scoped to this single field.
func (m *Messages) RepaintSenderColor(convID, userID, color string) error {
	docs, err := m.st.List(messagesParent(convID))
	if err != nil {
		return storeFailure("list messages", err)
	}

	var ops []store.Op
	for _, doc := range docs {
		var body messageDoc
		if err := doc.Decode(&body); err != nil {
			continue
		}
		if body.SenderID != userID {
			continue
		}
		ops = append(ops, store.Merge(doc.Path, map[string]interface{}{
			"sender_color": color,
		}))
	}
	if len(ops) == 0 {
		return nil
	}

	if err := m.st.Apply(ops...); err != nil {
		return storeFailure("repaint sender color", err)
	}
	return nil
}

func decodeMessages(docs []store.Document) []Message {
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := messageFromDoc(doc)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
