package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/messaging"
)

type conversationCreateRequest struct {
	OtherUserID   string `json:"other_user_id"`
	AppointmentID string `json:"appointment_id"`
}

func handleGetOrCreateConversation(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}

		conv, err := msgSvc.GetOrCreateConversation(r.Context(), currentUser.ID, req.OtherUserID, req.AppointmentID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleListConversations(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		summaries, err := msgSvc.ListUserConversations(r.Context(), currentUser.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleConversationByAppointment(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		conv, err := msgSvc.GetConversationByAppointment(r.Context(), chi.URLParam(r, "appointmentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		// "No conversation yet" is a normal empty result.
		writeJSON(w, http.StatusOK, map[string]*domain.Conversation{"conversation": conv})
	}
}

func handleMarkConversationRead(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		convID := chi.URLParam(r, "conversationID")
		if err := msgSvc.MarkMessagesAsRead(r.Context(), convID, currentUser.ID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}
