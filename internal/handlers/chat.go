package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/amaos/amachat/internal/chat"
	"github.com/amaos/amachat/internal/push"
	"github.com/amaos/amachat/internal/store"
)

// ChatHandler serves the REST surface around the chat core: profiles, online
// users, conversation previews and message history. Live traffic goes over
// the WebSocket transport, not here.
type ChatHandler struct {
	st       *store.Store
	chatSvc  *chat.Service
	notifier *push.Notifier
	pageSize int
	pageMax  int
}

func NewChatHandler(st *store.Store, chatSvc *chat.Service, notifier *push.Notifier, pageSize, pageMax int) *ChatHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageMax <= 0 {
		pageMax = 200
	}
	return &ChatHandler{
		st:       st,
		chatSvc:  chatSvc,
		notifier: notifier,
		pageSize: pageSize,
		pageMax:  pageMax,
	}
}

func currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID.(string), true
}

// GetMyProfile returns the authenticated user's profile
func (h *ChatHandler) GetMyProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	doc, found, err := h.st.Get(chat.UserPath(userID))
	if err != nil || !found {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch profile"})
		return
	}

	profile, err := chat.ProfileFromDoc(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch profile"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

type UpdateProfileRequest struct {
	DisplayName    *string `json:"display_name,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

// UpdateProfile changes display name and/or profile picture URL
func (h *ChatHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	fields := make(map[string]interface{})
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if len(name) < 2 || len(name) > 64 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "display name must be between 2 and 64 characters"})
			return
		}
		fields["display_name"] = name
	}
	if req.ProfilePicture != nil {
		fields["profile_picture"] = strings.TrimSpace(*req.ProfilePicture)
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.st.Set(chat.UserPath(userID), fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type UpdateColorRequest struct {
	ChatColor string `json:"chat_color" binding:"required"`
}

// UpdateChatColor changes the user's display color and repaints their past
// messages in the global room so the room shows one color per author
func (h *ChatHandler) UpdateChatColor(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateColorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	color := strings.TrimSpace(req.ChatColor)
	if !validHexColor(color) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid color"})
		return
	}

	if err := h.st.Set(chat.UserPath(userID), map[string]interface{}{"chat_color": color}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	if err := h.chatSvc.Messages.RepaintSenderColor(chat.GlobalConversationID, userID, color); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to repaint messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func validHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// GetOnlineUsers lists currently online users, excluding the caller
func (h *ChatHandler) GetOnlineUsers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	users, err := h.chatSvc.Presence.ListOnline(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetConversations lists the caller's private conversations, most recently
// active first
func (h *ChatHandler) GetConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	convs, err := h.chatSvc.Conversations.ListFor(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// GetMessages returns one page of a conversation's history
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	convID := c.Query("conversation_id")
	if convID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id query parameter required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.pageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = h.pageSize
	}
	if limit > h.pageMax {
		limit = h.pageMax
	}
	if offset < 0 {
		offset = 0
	}

	if convID != chat.GlobalConversationID {
		conv, found, err := h.chatSvc.Conversations.Get(convID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch conversation"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if !conv.HasParticipant(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
			return
		}
	}

	messages, err := h.chatSvc.Messages.History(convID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type PushSubscribeRequest struct {
	Endpoint  string `json:"endpoint" binding:"required"`
	KeyP256dh string `json:"p256dh" binding:"required"`
	KeyAuth   string `json:"auth" binding:"required"`
}

// SubscribePush stores a Web Push subscription for the caller
func (h *ChatHandler) SubscribePush(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	_, err := h.st.Add(push.SubscriptionsParent(userID), push.Subscription{
		Endpoint:  req.Endpoint,
		KeyP256dh: req.KeyP256dh,
		KeyAuth:   req.KeyAuth,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// UnsubscribePush removes the caller's subscription for the given endpoint
func (h *ChatHandler) UnsubscribePush(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req PushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	docs, err := h.st.List(push.SubscriptionsParent(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch subscriptions"})
		return
	}

	var ops []store.Op
	for _, doc := range docs {
		var sub push.Subscription
		if err := doc.Decode(&sub); err == nil && sub.Endpoint == req.Endpoint {
			ops = append(ops, store.Delete(doc.Path))
		}
	}
	if len(ops) > 0 {
		if err := h.st.Apply(ops...); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetPushKey exposes the VAPID public key, empty when push is disabled
func (h *ChatHandler) GetPushKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"vapid_public_key": h.notifier.VAPIDPublicKey()})
}
