// Package ws bridges chat sessions onto WebSocket connections: one
// connection per user, carrying selection, send and typing events inbound
// and live message/presence/typing feeds outbound.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/amaos/amachat/internal/chat"
	"github.com/amaos/amachat/internal/push"
)

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	chatSvc    *chat.Service
	notifier   *push.Notifier
	mu         sync.RWMutex
}

type Client struct {
	userID  string
	conn    *websocket.Conn
	hub     *Hub
	send    chan *Event
	session *chat.Session
}

// Event is the wire frame in both directions. Client to server:
// "select_global", "select_user", "deselect", "message", "typing".
// Server to client: "messages", "peer_typing", "online_users",
// "conversation_state", "error".
type Event struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversation_id,omitempty"`
	OtherUserID    string              `json:"other_user_id,omitempty"`
	Text           string              `json:"text,omitempty"`
	Op             string              `json:"op,omitempty"`
	Active         bool                `json:"active,omitempty"`
	Typing         bool                `json:"typing,omitempty"`
	State          string              `json:"state,omitempty"`
	Error          string              `json:"error,omitempty"`
	Retryable      bool                `json:"retryable,omitempty"`
	Groups         []chat.MessageGroup `json:"groups,omitempty"`
	Users          []chat.Profile      `json:"users,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

func NewHub(chatSvc *chat.Service, notifier *push.Notifier) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		chatSvc:    chatSvc,
		notifier:   notifier,
	}
}

// IsUserOnline checks if a user has a connected client
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			old := h.clients[client.userID]
			h.clients[client.userID] = client
			total := len(h.clients)
			h.mu.Unlock()
			if old != nil {
				// A newer connection replaces the old one. The old session's
				// teardown, including its offline mark, must finish before the
				// new session marks the user online, or the stale offline
				// write could land second and stick for the whole session.
				old.conn.Close()
				old.session.Close()
			}
			if err := client.session.Activate(); err != nil {
				log.Printf("Session activation for %s: %v", client.userID, err)
			}
			log.Printf("User %s connected (total: %d)", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.session.Close()
			log.Printf("User %s disconnected (total: %d)", client.userID, total)
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}

	client := &Client{
		userID: userID.(string),
		conn:   conn,
		hub:    h,
		send:   make(chan *Event, 256),
	}
	client.session = h.chatSvc.NewSession(client.userID, chat.SessionHooks{
		OnMessages: func(convID string, groups []chat.MessageGroup) {
			client.trySend(&Event{Type: "messages", ConversationID: convID, Groups: groups})
		},
		OnPeerTyping: func(convID string, typing bool) {
			client.trySend(&Event{Type: "peer_typing", ConversationID: convID, Typing: typing})
		},
		OnOnlineUsers: func(users []chat.Profile) {
			client.trySend(&Event{Type: "online_users", Users: users})
		},
		OnConversationState: func(convID string, state chat.ConversationState, err error) {
			ev := &Event{Type: "conversation_state", ConversationID: convID, State: state.String()}
			if err != nil {
				ev.Error = err.Error()
				ev.Retryable = chat.IsRetryable(err)
			}
			client.trySend(ev)
		},
	})

	// The hub activates the session once any previous session for this user
	// has been torn down
	h.register <- client

	go client.readPump()
	go client.writePump()
}

func (c *Client) trySend(ev *Event) {
	select {
	case c.send <- ev:
	default:
		log.Printf("Event channel full for user %s, dropping %s", c.userID, ev.Type)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "select_global":
			if err := c.session.SelectGlobal(); err != nil {
				c.sendError("select_global", err)
			}
		case "select_user":
			c.handleSelectUser(ev)
		case "deselect":
			c.session.Deselect()
		case "message":
			c.handleMessage(ev)
		case "typing":
			// Typing before the conversation is ready is dropped, matching
			// an input field that is not yet accepting composition
			c.session.Typing(ev.Active)
		}
	}
}

func (c *Client) handleSelectUser(ev Event) {
	if ev.OtherUserID == "" {
		c.sendError("select_user", chat.ErrUnknownUser)
		return
	}
	if err := c.session.SelectPeer(ev.OtherUserID); err != nil {
		// The state hook already reported the failed initialization; the
		// error event tells the client the request itself is retryable
		c.sendError("select_user", err)
	}
}

func (c *Client) handleMessage(ev Event) {
	msg, err := c.session.Send(ev.Text)
	if err != nil {
		// The client keeps the input text on error so a retry resends
		c.sendError("message", err)
		return
	}

	// Private recipient without a connected client gets a push notification
	_, peerID, _ := c.session.Current()
	if peerID != "" && !c.hub.IsUserOnline(peerID) {
		c.hub.notifier.SendNewMessageNotification(peerID, msg.SenderName, msg.Text)
	}
}

func (c *Client) sendError(op string, err error) {
	convID, _, _ := c.session.Current()
	c.trySend(&Event{
		Type:           "error",
		ConversationID: convID,
		Op:             op,
		Error:          err.Error(),
		Retryable:      chat.IsRetryable(err),
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(ev)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
