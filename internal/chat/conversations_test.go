package chat

import (
	"errors"
	"sync"
	"testing"
)

func TestEnsureCreatesConversationAndTypingRecords(t *testing.T) {
	svc, st := newTestService(t, 0)

	conv, err := svc.Conversations.Ensure("u2", "u1")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if conv.ID != "u1_u2" {
		t.Errorf("conv.ID = %q, want u1_u2", conv.ID)
	}
	if len(conv.Participants) != 2 || conv.Participants[0] != "u1" || conv.Participants[1] != "u2" {
		t.Errorf("Participants = %v, want [u1 u2]", conv.Participants)
	}
	if conv.LastMessage != "" {
		t.Errorf("LastMessage = %q, want empty", conv.LastMessage)
	}

	// Both typing records must exist, initialized to false
	for _, uid := range []string{"u1", "u2"} {
		doc, ok, err := st.Get("conversations/u1_u2/typing/" + uid)
		if err != nil || !ok {
			t.Fatalf("typing record for %s missing (ok=%v err=%v)", uid, ok, err)
		}
		var body struct {
			IsTyping bool `json:"is_typing"`
		}
		doc.Decode(&body)
		if body.IsTyping {
			t.Errorf("typing record for %s initialized true", uid)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	svc, st := newTestService(t, 0)

	if _, err := svc.Conversations.Ensure("u1", "u2"); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	svc.Conversations.Touch("u1_u2", "hello")
	if _, err := svc.Conversations.Ensure("u1", "u2"); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	conv, ok, err := svc.Conversations.Get("u1_u2")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if conv.LastMessage != "hello" {
		t.Errorf("LastMessage = %q; re-Ensure must not reset metadata", conv.LastMessage)
	}

	docs, _ := st.List("conversations/u1_u2/typing")
	if len(docs) != 2 {
		t.Errorf("typing records = %d, want 2", len(docs))
	}
}

func TestEnsureConcurrent(t *testing.T) {
	svc, st := newTestService(t, 0)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the callers pass the pair reversed
			if i%2 == 0 {
				_, errs[i] = svc.Conversations.Ensure("u1", "u2")
			} else {
				_, errs[i] = svc.Conversations.Ensure("u2", "u1")
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}

	docs, _ := st.List("conversations")
	// global + exactly one pair conversation
	if len(docs) != 2 {
		t.Fatalf("conversations = %d, want 2 (global + u1_u2)", len(docs))
	}
	typing, _ := st.List("conversations/u1_u2/typing")
	if len(typing) != 2 {
		t.Errorf("typing records = %d, want 2", len(typing))
	}
}

func TestEnsureRejectsSelfChat(t *testing.T) {
	svc, _ := newTestService(t, 0)

	_, err := svc.Conversations.Ensure("u1", "u1")
	if !errors.Is(err, ErrSelfChat) {
		t.Fatalf("error = %v, want ErrSelfChat", err)
	}
}

func TestListFor(t *testing.T) {
	svc, _ := newTestService(t, 0)

	svc.Conversations.Ensure("u1", "u2")
	svc.Conversations.Ensure("u1", "u3")
	svc.Conversations.Ensure("u2", "u3")

	convs, err := svc.Conversations.ListFor("u1")
	if err != nil {
		t.Fatalf("ListFor failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("len(convs) = %d, want 2", len(convs))
	}
	for _, conv := range convs {
		if conv.ID == GlobalConversationID {
			t.Error("ListFor must not include the global room")
		}
		if !conv.HasParticipant("u1") {
			t.Errorf("conversation %s does not include u1", conv.ID)
		}
		if peer := conv.Peer("u1"); peer != "u2" && peer != "u3" {
			t.Errorf("Peer = %q", peer)
		}
	}
}
