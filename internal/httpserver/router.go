package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/emotionsapp/messaging/internal/config"
	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/messaging"
	"github.com/emotionsapp/messaging/internal/realtime"
	"github.com/emotionsapp/messaging/internal/security"
	"github.com/emotionsapp/messaging/internal/service"
)

// Stores groups the repository set behind one driver (sqlite or postgres).
type Stores struct {
	Users         domain.UserRepository
	Conversations domain.ConversationRepository
	Participants  domain.ParticipantRepository
	Messages      domain.MessageRepository
	Notifications domain.NotificationRepository
}

// NewRouter constructs the main HTTP router and wires routes, services, and
// middleware. The messaging service arrives constructed so the same instance
// backs HTTP, websocket delivery, and any embedded client.
func NewRouter(
	cfg *config.Config,
	stores Stores,
	msgSvc messaging.API,
	broker *realtime.Broker,
	tokenSvc *security.TokenService,
	passwordHasher *security.PasswordHasher,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	authSvc := service.NewAuthService(stores.Users, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(stores.Users)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, stores.Users))

			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
			})

			// Conversations and messages
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleGetOrCreateConversation(msgSvc))
				r.Get("/", handleListConversations(msgSvc))
				r.Get("/by-appointment/{appointmentID}", handleConversationByAppointment(msgSvc))
				r.Post("/{conversationID}/read", handleMarkConversationRead(msgSvc))
				r.Get("/{conversationID}/messages", handleListMessages(msgSvc))
				r.Post("/{conversationID}/messages", handleSendMessage(msgSvc))
			})

			r.Delete("/messages/{messageID}", handleDeleteMessage(msgSvc))

			r.Get("/notifications", handleListNotifications(stores.Notifications))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", realtime.MakeHandler(broker, tokenSvc, stores.Users, stores.Participants, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeErr maps the domain error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
