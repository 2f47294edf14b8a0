package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/guru/internal/assistant"
	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/pkg/memory"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// paneResponse pairs the user's message with the reply so the tab can
// render both without inventing ids.
type paneResponse struct {
	Request *assistant.Message `json:"request,omitempty"`
	Reply   *assistant.Message `json:"reply"`
}

func (s *Server) handlePrompt(pane string, fn func(context.Context, string) (*assistant.Message, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req promptRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBytes)).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "prompt too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user := s.assistant.UserMessage(req.Prompt)
		reply, err := fn(r.Context(), req.Prompt)
		if err != nil {
			s.paneFailed(w, r, pane, err)
			return
		}
		writeJSON(w, http.StatusOK, paneResponse{Request: &user, Reply: reply})
	}
}

func (s *Server) handleDictate(w http.ResponseWriter, r *http.Request) {
	mimeType, err := audioMIME(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxAudioBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read recording")
		return
	}
	reply, err := s.assistant.Dictate(r.Context(), data, mimeType)
	if err != nil {
		s.paneFailed(w, r, "dictate", err)
		return
	}
	writeJSON(w, http.StatusOK, paneResponse{Reply: reply})
}

func (s *Server) paneFailed(w http.ResponseWriter, r *http.Request, pane string, err error) {
	status, msg := paneStatus(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("server: pane request failed", "pane", pane, "status", status, "err", err)
	}
	writeError(w, status, msg)
}

// audioMIME validates a dictation Content-Type. An absent header yields ""
// so the configured default applies. Media type parameters are dropped.
func audioMIME(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	base, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", errors.New("malformed content type")
	}
	if base == "application/octet-stream" {
		return "", nil
	}
	if !strings.HasPrefix(base, "audio/") {
		return "", errors.New("content type must be audio/*")
	}
	return base, nil
}

type transcriptHit struct {
	Speaker   string    `json:"speaker"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Addressed bool      `json:"addressed,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := memory.SearchOpts{
		SessionID: q.Get("session_id"),
		Role:      memory.Role(q.Get("role")),
		Limit:     defaultTranscriptHits,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = min(n, maxTranscriptHits)
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		opts.After = time.Now().Add(-d)
	}
	if opts.Role != "" && opts.Role != memory.RoleUser && opts.Role != memory.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	entries, err := s.transcripts.Search(r.Context(), q.Get("q"), opts)
	if err != nil {
		observe.Logger(r.Context()).Warn("server: transcript search failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "transcript archive unavailable")
		return
	}
	hits := make([]transcriptHit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, transcriptHit{
			Speaker:   e.Speaker,
			Role:      string(e.Role),
			Text:      e.Text,
			Addressed: e.Addressed,
			Locale:    e.Locale,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": hits, "count": len(hits)})
}
