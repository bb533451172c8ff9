package push

import (
	"encoding/json"
	"log"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/amaos/amachat/internal/store"
)

// Notifier sends Web Push notifications to users with no connected chat
// client. Delivery is best-effort: failures are logged and gone endpoints
// are pruned.
type Notifier struct {
	st              *store.Store
	vapidPublicKey  string
	vapidPrivateKey string
}

// Subscription is a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

func subscriptionsParent(userID string) string {
	return "push/" + userID
}

// SubscriptionsParent is the store parent holding a user's subscriptions.
func SubscriptionsParent(userID string) string {
	return subscriptionsParent(userID)
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty;
// a nil Notifier is safe to call and does nothing.
func NewNotifier(st *store.Store, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		st:              st,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendNewMessageNotification pushes a new-message notice to all of
// receiverID's subscriptions.
func (n *Notifier) SendNewMessageNotification(receiverID, senderName, text string) {
	if n == nil {
		return
	}

	docs, err := n.st.List(subscriptionsParent(receiverID))
	if err != nil {
		log.Printf("push: failed to list subscriptions for user %s: %v", receiverID, err)
		return
	}

	if len(text) > 120 {
		text = text[:117] + "..."
	}

	body, err := json.Marshal(payload{
		Title: "New message from " + senderName,
		Body:  text,
		URL:   "/chat",
	})
	if err != nil {
		log.Printf("push: failed to encode payload: %v", err)
		return
	}

	for _, doc := range docs {
		var sub Subscription
		if err := doc.Decode(&sub); err != nil {
			continue
		}
		n.send(doc.Path, sub, body)
	}
}

func (n *Notifier) send(docPath string, sub Subscription, body []byte) {
	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}, &webpush.Options{
		Subscriber:      "mailto:admin@ama-os.art",
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// The endpoint is gone; drop the subscription
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := n.st.Apply(store.Delete(docPath)); err != nil {
			log.Printf("push: failed to prune subscription %s: %v", docPath, err)
		}
	}
}
