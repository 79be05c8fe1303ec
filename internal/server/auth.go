package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/smartgarden/internal/auth"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.deps.Auth.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.deps.Auth.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Logout(r.Context(), bearerToken(r)); err != nil {
		writeAuthError(w, err)
		return
	}
	log.Info().Str("user", userFrom(r.Context())).Msg("user logged out")
	w.WriteHeader(http.StatusNoContent)
}

type usernameQuery struct {
	Username string `json:"username"`
}

type usernameResult struct {
	Username string `json:"username"`
	Exists   bool   `json:"exists"`
}

// handleFindByUsername reports whether a username is taken. Register already
// reveals the same through 409, so the lookup is public.
func (s *Server) handleFindByUsername(w http.ResponseWriter, r *http.Request) {
	var in usernameQuery
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.ToLower(strings.TrimSpace(in.Username))
	if name == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	ok, err := s.deps.Auth.Exists(r.Context(), name)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usernameResult{Username: name, Exists: ok})
}

func writeAuthError(w http.ResponseWriter, err error) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		log.Error().Err(err).Msg("auth request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
