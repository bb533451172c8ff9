// Package chat implements the real-time chat core: presence, private and
// global conversations, message delivery, typing indicators and per-user
// session orchestration, all on top of the document store.
package chat

// GlobalConversationID addresses the single public room. User ids are
// UUID-shaped opaque strings, so a derived pair id can never collide with it.
const GlobalConversationID = "global"

// ConversationID derives the id of the private conversation between two
// users. It is symmetric: ConversationID(a, b) == ConversationID(b, a), which
// is what guarantees at most one conversation per pair without a uniqueness
// constraint in the store.
func ConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "_" + userB
}

func userPath(userID string) string {
	return "users/" + userID
}

// UserPath is the store path of a user's profile document.
func UserPath(userID string) string {
	return userPath(userID)
}

func conversationPath(convID string) string {
	return "conversations/" + convID
}

func messagesParent(convID string) string {
	return "conversations/" + convID + "/messages"
}

func typingParent(convID string) string {
	return "conversations/" + convID + "/typing"
}

func typingPath(convID, userID string) string {
	return typingParent(convID) + "/" + userID
}
