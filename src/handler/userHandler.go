package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"

	"papertrade/src/model"
	"papertrade/src/security"
)

type userStore interface {
	GetUserByUserName(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

type signupPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupHandler registers a new account. Usernames are unique; the funds
// ledger row appears lazily on first engine touch.
func SignupHandler(users userStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload signupPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		payload.Username = strings.TrimSpace(payload.Username)
		if payload.Username == "" || payload.Password == "" {
			http.Error(w, "username and password are required", http.StatusBadRequest)
			return
		}

		existing, err := users.GetUserByUserName(r.Context(), payload.Username)
		if err != nil {
			logger.WithError(err).Error("failed to check existing user")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "username already taken", http.StatusConflict)
			return
		}

		hash, err := security.HashPassword(payload.Password)
		if err != nil {
			logger.WithError(err).Error("failed to hash password")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		user := &model.User{
			Username: payload.Username,
			Email:    strings.TrimSpace(payload.Email),
			Password: hash,
			FullName: strings.TrimSpace(payload.FullName),
			Phone:    strings.TrimSpace(payload.Phone),
		}
		if err := users.Create(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to create user")
			http.Error(w, "Unable to create user", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}

// LoginHandler verifies credentials. Successful callers authenticate later
// requests with the X-Username header.
func LoginHandler(users userStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload loginPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		user, err := users.GetUserByUserName(r.Context(), strings.TrimSpace(payload.Username))
		if err != nil {
			logger.WithError(err).Error("failed to fetch user")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if user == nil || !security.CheckPassword(user.Password, payload.Password) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"username": user.Username,
		})
	}
}
