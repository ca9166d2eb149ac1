package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/vrsandeep/feedsub-go/internal/models"
	"github.com/vrsandeep/feedsub-go/internal/subscription"
	"github.com/vrsandeep/feedsub-go/internal/util"
)

type subscriptionView struct {
	Link         string `json:"link"`
	Paused       bool   `json:"paused"`
	FailedChecks int    `json:"failed_checks"`
	LastCheck    string `json:"last_check"`
	LastSuccess  string `json:"last_successful_check"`
	Fetching     bool   `json:"fetching"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid chat_id parameter")
		return
	}
	creatorID := getUserIDFromContext(r)

	views := s.app.Subs().ListSubscriptions(chatID, creatorID)
	out := make([]subscriptionView, 0, len(views))
	for _, v := range views {
		out = append(out, subscriptionView{
			Link:         v.Sub.Link.String(),
			Paused:       v.Dest.Paused,
			FailedChecks: v.Sub.FailedChecks,
			LastCheck:    util.FormatLastCheck(v.Sub.LastCheckDate),
			LastSuccess:  util.FormatLastCheck(v.Sub.LastSuccessfulCheckDate),
			Fetching:     v.Sub.ActiveFetch() != nil,
		})
	}
	RespondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Link   string   `json:"link"`
		ChatID int64    `json:"chat_id"`
		Args   []string `json:"args,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Link == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	creatorID := getUserIDFromContext(r)

	link := models.Link{
		URL:  s.app.LinkFixer().FixLink(payload.Link),
		Args: payload.Args,
	}
	entry, err := s.app.Subs().CreateDownload(link)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to register download")
		return
	}

	sub, err := s.app.Subs().CreateSubscription(payload.ChatID, creatorID, entry)
	switch {
	case errors.Is(err, subscription.ErrDuplicateDestination):
		RespondWithError(w, http.StatusConflict, "Already subscribed in this chat")
		return
	case errors.Is(err, subscription.ErrDownloadNotComplete):
		RespondWithError(w, http.StatusConflict, "Download is still fetching, try again later")
		return
	case err != nil:
		RespondWithError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	// Kick an initial fetch so the feed is populated before the first
	// scheduled check.
	if tracker, stream, err := s.app.Subs().Download(context.Background(), sub); err == nil {
		go func() {
			for range stream {
			}
			if err := tracker.Err(); err != nil {
				log.Printf("Initial fetch for %s failed: %v", sub.Link, err)
			}
		}()
	}

	RespondWithJSON(w, http.StatusCreated, subscriptionView{
		Link:      sub.Link.String(),
		LastCheck: util.FormatLastCheck(sub.LastCheckDate),
		Fetching:  sub.ActiveFetch() != nil,
	})
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if link == "" || err != nil {
		RespondWithError(w, http.StatusBadRequest, "Missing link or chat_id parameter")
		return
	}

	err = s.app.Subs().RemoveSubscription(link, chatID)
	if errors.Is(err, subscription.ErrMissingDestination) {
		RespondWithError(w, http.StatusNotFound, "No subscription for this chat")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handlePauseSubscription(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Link   string `json:"link"`
		ChatID int64  `json:"chat_id"`
		Paused bool   `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Link == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	err := s.app.Subs().PauseSubscription(payload.Link, payload.ChatID, payload.Paused)
	if errors.Is(err, subscription.ErrMissingDestination) {
		RespondWithError(w, http.StatusNotFound, "No subscription for this chat")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to update subscription")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"paused": payload.Paused})
}
