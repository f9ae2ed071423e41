package realtime

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/security"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// clientEvent is an inbound frame from the browser.
type clientEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// serverEvent is an outbound frame. Message is set for new_message events.
type serverEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// MakeHandler returns the /ws endpoint handler. It authenticates via Bearer
// token (Authorization header or Sec-WebSocket-Protocol), then serves
// subscribe/unsubscribe events:
//
//   - subscribe    -> open a broker subscription for one conversation;
//     an existing subscription is torn down first
//   - unsubscribe  -> release the current subscription
//
// Inserted messages arrive as {"type":"new_message","message":{...}} frames.
func MakeHandler(
	broker *Broker,
	tokens *security.TokenService,
	users domain.UserRepository,
	participants domain.ParticipantRepository,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByUsername(ctx, sub)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// gorilla/websocket allows one concurrent writer; broker callbacks
		// run on their own goroutine, so writes are serialized here.
		var writeMu sync.Mutex
		writeEvent := func(ev serverEvent) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(ev)
		}

		// One active subscription per socket, released on teardown.
		var current *Subscription
		defer func() {
			if current != nil {
				current.Unsubscribe()
			}
		}()

		for {
			var ev clientEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}

			switch ev.Type {
			case "subscribe":
				if ev.ConversationID == "" {
					_ = writeEvent(serverEvent{Type: "error", Error: "conversation_id is required"})
					continue
				}
				ok, err := participants.IsParticipant(r.Context(), ev.ConversationID, user.ID)
				if err != nil {
					log.Printf("ws: participant check: %v", err)
					_ = writeEvent(serverEvent{Type: "error", Error: "subscription failed"})
					continue
				}
				if !ok {
					_ = writeEvent(serverEvent{Type: "error", Error: "not a participant"})
					continue
				}

				// Unsubscribe before resubscribe so a conversation switch
				// never double-delivers or leaks the previous channel.
				if current != nil {
					current.Unsubscribe()
					current = nil
				}
				convID := ev.ConversationID
				current = broker.Subscribe(convID, func(msg domain.Message) {
					_ = writeEvent(serverEvent{
						Type:           "new_message",
						ConversationID: convID,
						Message:        &msg,
					})
				})
				_ = writeEvent(serverEvent{Type: "subscribed", ConversationID: convID})

			case "unsubscribe":
				if current != nil {
					current.Unsubscribe()
					current = nil
				}
				_ = writeEvent(serverEvent{Type: "unsubscribed"})

			default:
				_ = writeEvent(serverEvent{Type: "error", Error: "unknown event type"})
			}
		}
	}
}
