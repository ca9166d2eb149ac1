package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/vrsandeep/feedsub-go/internal/archive"
	"github.com/vrsandeep/feedsub-go/internal/models"
	"github.com/vrsandeep/feedsub-go/internal/util"
)

type downloadInfo struct {
	Link       string `json:"link"`
	ItemCount  int    `json:"item_count"`
	KnownItems int    `json:"known_items"`
	LastCheck  string `json:"last_check"`
	Fetching   bool   `json:"fetching"`
}

func (s *Server) downloadInfo(dl *models.Download) downloadInfo {
	files, _ := dl.ListFiles()
	known, _ := archive.CountKnownItems(dl.StoragePath)
	return downloadInfo{
		Link:       dl.Link.String(),
		ItemCount:  len(files),
		KnownItems: known,
		LastCheck:  util.FormatLastCheck(dl.LastCheckDate),
		Fetching:   dl.ActiveFetch() != nil,
	}
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	completes := s.app.Subs().CompleteDownloads()
	infos := make([]downloadInfo, 0, len(completes))
	for _, dl := range completes {
		infos = append(infos, s.downloadInfo(&dl.Download))
	}
	RespondWithJSON(w, http.StatusOK, infos)
}

// handleCreateDownload registers a download for the link and starts a fetch
// in the background. Progress is streamed over the websocket; a second
// request for the same link attaches to the fetch already in flight.
func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Link string   `json:"link"`
		Args []string `json:"args,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Link == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	link := models.Link{
		URL:  s.app.LinkFixer().FixLink(payload.Link),
		Args: payload.Args,
	}
	entry, err := s.app.Subs().CreateDownload(link)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to register download")
		return
	}

	tracker, stream, err := s.app.Subs().Download(context.Background(), entry)
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, fmt.Sprintf("Failed to start fetch: %v", err))
		return
	}
	// Drain the stream so the fetch keeps running after this request ends.
	// The outcome reaches clients through the websocket progress feed.
	go func() {
		for range stream {
		}
		if err := tracker.Err(); err != nil {
			log.Printf("Fetch for %s failed: %v", payload.Link, err)
		}
	}()

	RespondWithJSON(w, http.StatusAccepted, s.downloadInfo(entry.Base()))
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		RespondWithError(w, http.StatusBadRequest, "Missing link parameter")
		return
	}

	entry := s.app.Subs().EntryForLink(link)
	dl, ok := entry.(*models.CompleteDownload)
	if !ok || dl == nil {
		RespondWithError(w, http.StatusNotFound, "No such download")
		return
	}
	if dl.ActiveFetch() != nil {
		RespondWithError(w, http.StatusConflict, "Download is still fetching")
		return
	}
	if err := s.app.Subs().DeleteDownload(dl); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete download")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDownloadArchive builds a zip snapshot of the download's storage and
// serves one part of it. Parts above max_part_size are split; the response
// carries the part count so the client can request the rest.
func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		RespondWithError(w, http.StatusBadRequest, "Missing link parameter")
		return
	}
	part := 0
	if p := r.URL.Query().Get("part"); p != "" {
		var err error
		if part, err = strconv.Atoi(p); err != nil || part < 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid part number")
			return
		}
	}

	entry := s.app.Subs().EntryForLink(link)
	if entry == nil {
		RespondWithError(w, http.StatusNotFound, "No such download")
		return
	}
	dl := entry.Base()
	if dl.ActiveFetch() != nil {
		RespondWithError(w, http.StatusConflict, "Download is still fetching")
		return
	}

	baseName := util.LinkToFilename(dl.Link.URL)
	snap, err := archive.Build(dl, baseName, s.app.Config().Zip.MaxPartSize)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to build archive")
		return
	}
	defer snap.Close()

	if part >= len(snap.Parts) {
		RespondWithError(w, http.StatusNotFound, "No such archive part")
		return
	}
	w.Header().Set("X-Archive-Parts", strconv.Itoa(len(snap.Parts)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(snap.Parts[part])))
	http.ServeFile(w, r, snap.Parts[part])
}
