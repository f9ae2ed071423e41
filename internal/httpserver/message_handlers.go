package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/messaging"
)

type messageSendRequest struct {
	Content        string  `json:"content"`
	AttachmentURL  *string `json:"attachment_url"`
	AttachmentType *string `json:"attachment_type"`
}

func handleSendMessage(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		var req messageSendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.SendMessage(r.Context(), messaging.SendInput{
			ConversationID: chi.URLParam(r, "conversationID"),
			SenderID:       currentUser.ID,
			Content:        req.Content,
			AttachmentURL:  req.AttachmentURL,
			AttachmentType: req.AttachmentType,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		msgs, err := msgSvc.ListConversationMessages(r.Context(), chi.URLParam(r, "conversationID"), limit, offset)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleDeleteMessage(msgSvc messaging.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		if err := msgSvc.DeleteMessage(r.Context(), chi.URLParam(r, "messageID"), currentUser.ID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListNotifications(repo domain.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErr(w, domain.ErrAuth)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		items, err := repo.ListForUser(r.Context(), currentUser.ID, limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}
