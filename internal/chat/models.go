package chat

import (
	"time"

	"github.com/amaos/amachat/internal/store"
)

// DefaultChatColor is the display color for users who never picked one.
const DefaultChatColor = "#007bff"

// UserRecord is the full stored body of a user document, including fields
// that never leave the server.
type UserRecord struct {
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	PasswordHash   string    `json:"password_hash"`
	ChatColor      string    `json:"chat_color"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Online         bool      `json:"online"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
}

// Profile is the externally visible view of a user.
type Profile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email,omitempty"`
	DisplayName    string    `json:"display_name"`
	ChatColor      string    `json:"chat_color"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Online         bool      `json:"online"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
}

// Name returns the display name with the same fallbacks the send path uses.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return "Anonymous"
}

func profileFromDoc(doc store.Document) (Profile, error) {
	var rec UserRecord
	if err := doc.Decode(&rec); err != nil {
		return Profile{}, err
	}
	color := rec.ChatColor
	if color == "" {
		color = DefaultChatColor
	}
	return Profile{
		ID:             doc.Segment(),
		Email:          rec.Email,
		DisplayName:    rec.DisplayName,
		ChatColor:      color,
		ProfilePicture: rec.ProfilePicture,
		Online:         rec.Online,
		LastSeen:       rec.LastSeen,
	}, nil
}

// ProfileFromDoc decodes a user document into its visible profile.
func ProfileFromDoc(doc store.Document) (Profile, error) {
	return profileFromDoc(doc)
}

type conversationDoc struct {
	Participants []string `json:"participants"`
	LastMessage  string   `json:"last_message"`
}

// Conversation is the metadata record of a room: the global room or one
// private pair.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  string    `json:"last_message"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Peer returns the other participant of a private conversation, or "" for
// the global room.
func (c Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func conversationFromDoc(doc store.Document) (Conversation, error) {
	var body conversationDoc
	if err := doc.Decode(&body); err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:           doc.Segment(),
		Participants: body.Participants,
		LastMessage:  body.LastMessage,
		LastUpdated:  doc.UpdatedAt,
	}, nil
}

type messageDoc struct {
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name"`
	SenderColor   string `json:"sender_color"`
	SenderPicture string `json:"sender_picture,omitempty"`
	Text          string `json:"text"`
}

// Message is one immutable chat message. Sender display fields are snapshots
// taken at send time; a later profile change does not alter them except
// through the explicit color repaint.
type Message struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	SenderColor   string    `json:"sender_color"`
	SenderPicture string    `json:"sender_picture,omitempty"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sent_at"`
}

func messageFromDoc(doc store.Document) (Message, error) {
	var body messageDoc
	if err := doc.Decode(&body); err != nil {
		return Message{}, err
	}
	return Message{
		ID:            doc.Segment(),
		SenderID:      body.SenderID,
		SenderName:    body.SenderName,
		SenderColor:   body.SenderColor,
		SenderPicture: body.SenderPicture,
		Text:          body.Text,
		SentAt:        doc.CreatedAt,
	}, nil
}

type typingDoc struct {
	IsTyping bool `json:"is_typing"`
}

// MessageGroup is a run of consecutive messages from one sender, derived for
// display only and never persisted.
type MessageGroup struct {
	ID            string   `json:"id"`
	SenderID      string   `json:"sender_id"`
	SenderName    string   `json:"sender_name"`
	SenderColor   string   `json:"sender_color"`
	SenderPicture string   `json:"sender_picture,omitempty"`
	Messages      []string `json:"messages"`
}
