package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"docchat/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application sentinel errors onto HTTP statuses. Anything
// unrecognized becomes an opaque 500; internals never leak into bodies.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrUsernameAndPasswordRequired),
		errors.Is(err, app.ErrFilenameRequired),
		errors.Is(err, app.ErrTitleRequired),
		errors.Is(err, app.ErrPromptRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusConflict, app.ErrUsernameTaken.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrInvalidToken), errors.Is(err, app.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrUnsupportedFileType):
		writeError(w, http.StatusBadRequest, app.ErrUnsupportedFileType.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, app.ErrFileTooLarge.Error())
	case errors.Is(err, app.ErrDocumentNotReady):
		writeError(w, http.StatusConflict, app.ErrDocumentNotReady.Error())
	case errors.Is(err, app.ErrUpstream):
		writeError(w, http.StatusBadGateway, app.ErrUpstream.Error())
	default:
		s.audit(r, "request.internal_error", "fail", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case strings.Contains(message, "username or password"):
		return "AUTH_INVALID_CREDENTIALS"
	case strings.Contains(message, "username already registered"):
		return "AUTH_USERNAME_TAKEN"
	case strings.Contains(message, "username and password"):
		return "AUTH_CREDENTIALS_REQUIRED"
	case strings.Contains(message, "password must"), strings.Contains(message, "password too"):
		return "AUTH_WEAK_PASSWORD"
	case strings.Contains(message, "too many"):
		return "AUTH_RATE_LIMITED"
	case message == "forbidden":
		return "DOC_FORBIDDEN"
	case message == "not found":
		return "DOC_NOT_FOUND"
	case strings.Contains(message, "unsupported file type"):
		return "DOC_UNSUPPORTED_FILE_TYPE"
	case strings.Contains(message, "size limit"), message == "file too large":
		return "DOC_FILE_TOO_LARGE"
	case strings.Contains(message, "filename required"), strings.Contains(message, "file is required"):
		return "DOC_FILE_REQUIRED"
	case strings.Contains(message, "not ready"):
		return "DOC_NOT_READY"
	case message == "invalid form data":
		return "DOC_INVALID_UPLOAD_FORM"
	case strings.Contains(message, "message content required"), strings.Contains(message, "unknown sender"):
		return "CHAT_MESSAGE_REQUIRED"
	case strings.Contains(message, "session title required"):
		return "CHAT_TITLE_REQUIRED"
	case strings.Contains(message, "answer generation failed"):
		return "CHAT_UPSTREAM_FAILED"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID_BODY"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "DOC_FORBIDDEN"
	case http.StatusNotFound:
		return "DOC_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "AUTH_RATE_LIMITED"
	case http.StatusBadGateway:
		return "CHAT_UPSTREAM_FAILED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
