package handlers

import (
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	applog "formulacost/internal/log"
)

type signupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Signup registers an operator account and signs it in.
func Signup(w http.ResponseWriter, r *http.Request) {
	applog.Debug(r.Context(), "handling signup request", "method", r.Method)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sessionManager == nil || database == nil {
		applog.Debug(r.Context(), "registration dependencies unavailable", "hasSession", sessionManager != nil, "hasDatabase", database != nil)
		writeJSONError(w, http.StatusServiceUnavailable, "registration not available")
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)

	switch {
	case email == "" || !strings.Contains(email, "@"):
		writeJSONError(w, http.StatusBadRequest, "please provide a valid email address")
		return
	case len(req.Password) < 8:
		writeJSONError(w, http.StatusBadRequest, "password must be at least 8 characters long")
		return
	case req.Password != req.ConfirmPassword:
		writeJSONError(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	if _, err := findUserByEmail(r, email); err == nil {
		applog.Debug(r.Context(), "signup attempted with existing email", "email", strings.ToLower(email))
		writeJSONError(w, http.StatusConflict, "an account with that email already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		applog.Error(r.Context(), "failed to check existing user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create account")
		return
	}

	user, err := createUser(r, email, req.Name, req.Password)
	if err != nil {
		applog.Error(r.Context(), "failed to create user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create account")
		return
	}
	if err := establishSession(r, user); err != nil {
		applog.Error(r.Context(), "failed to establish session after signup", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create account")
		return
	}

	applog.Info(r.Context(), "operator account created", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, loginResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}
