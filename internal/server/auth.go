package server

import (
	"encoding/json"
	"io"
	"net/http"

	"docchat/pkg/domain"
)

type credentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type authResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(req.Username, req.Password, req.Email, req.DisplayName)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.app.Logout(user)
	s.audit(r, "auth.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}
