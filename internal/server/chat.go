package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docchat/pkg/domain"
)

type sessionRequest struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	DocumentID string `json:"documentId"`
}

type incomingMessage struct {
	Sender    string            `json:"sender"`
	Content   string            `json:"content"`
	Citations []domain.Citation `json:"citations"`
	Error     bool              `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
}

type postMessagesRequest struct {
	Content  string            `json:"content"`
	Stream   bool              `json:"stream"`
	Messages []incomingMessage `json:"messages"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.app.ListSessions(user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResponse(sessions))
	case http.MethodPost:
		var req sessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		session, err := s.app.CreateSession(user, req.ID, req.Title, req.DocumentID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			session, err := s.app.GetSession(user, id)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, session)
		case http.MethodPatch:
			var req sessionRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			session, err := s.app.RenameSession(user, id, req.Title)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, session)
		case http.MethodDelete:
			if err := s.app.DeleteSession(user, id); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "messages":
		s.handleMessages(w, r, user, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.GetHistory(user, sessionID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResponse(msgs))
	case http.MethodPost:
		var req postMessagesRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Messages) > 0 {
			s.appendMessages(w, r, user, sessionID, req.Messages)
			return
		}
		if req.Stream {
			s.streamAnswer(w, r, user, sessionID, req.Content)
			return
		}
		answer, err := s.app.Send(r.Context(), user, sessionID, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) appendMessages(w http.ResponseWriter, r *http.Request, user domain.User, sessionID string, incoming []incomingMessage) {
	msgs := make([]domain.Message, 0, len(incoming))
	for _, m := range incoming {
		msgs = append(msgs, domain.Message{
			Sender:    m.Sender,
			Content:   m.Content,
			Citations: m.Citations,
			Error:     m.Error,
			Timestamp: m.Timestamp,
		})
	}
	stored, err := s.app.AppendMessages(user, sessionID, msgs)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newListResponse(stored))
}

// streamAnswer relays the generation as server-sent events. Errors before the
// first chunk fall back to a normal JSON error response; after that the
// stream carries an error event instead.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, user domain.User, sessionID, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	emit := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	answer, err := s.app.SendStream(r.Context(), user, sessionID, content, func(chunk string) {
		start()
		emit(map[string]string{"type": "answer_chunk", "content": chunk})
	})
	if err != nil {
		if !started {
			s.writeAppError(w, r, err)
			return
		}
		emit(map[string]string{"type": "error", "error": "answer generation failed"})
		return
	}
	start()
	if len(answer.Citations) > 0 {
		emit(map[string]any{"type": "sources", "sources": answer.Citations})
	}
	emit(map[string]string{"type": "done", "messageId": answer.ID})
}
