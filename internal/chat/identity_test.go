package chat

import "testing"

func TestConversationIDIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"zed", "abe"},
		{"b3c4", "a1b2"},
	}
	for _, pair := range pairs {
		ab := ConversationID(pair[0], pair[1])
		ba := ConversationID(pair[1], pair[0])
		if ab != ba {
			t.Errorf("ConversationID(%q,%q) = %q but reversed = %q", pair[0], pair[1], ab, ba)
		}
	}
}

func TestConversationIDSortsParticipants(t *testing.T) {
	if got := ConversationID("u1", "u2"); got != "u1_u2" {
		t.Errorf("ConversationID(u1,u2) = %q, want u1_u2", got)
	}
	if got := ConversationID("u2", "u1"); got != "u1_u2" {
		t.Errorf("ConversationID(u2,u1) = %q, want u1_u2", got)
	}
}

func TestGlobalIDIsFixed(t *testing.T) {
	if GlobalConversationID != "global" {
		t.Errorf("GlobalConversationID = %q, want global", GlobalConversationID)
	}
}
