package server

import (
	"errors"
	"net/http"
	"strings"

	"docchat/pkg/domain"
)

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs, err := s.app.ListDocuments(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(docs))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// Cap slightly above the document ceiling so multipart framing fits;
	// the app still enforces the exact per-file limit.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.app.Upload(user, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs, err := s.app.SearchDocuments(user, r.URL.Query().Get("q"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(docs))
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			doc, err := s.app.GetDocument(user, id)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.app.DeleteDocument(user, id); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, "document.delete", "success", "user_id", user.ID, "document_id", id)
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "content":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		doc, err := s.app.DocumentContent(user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        doc.ID,
			"filename":  doc.Filename,
			"content":   doc.Content,
			"pageCount": doc.PageCount,
		})
	case "download":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		url, filename, err := s.app.DownloadURL(user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url, "filename": filename})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
