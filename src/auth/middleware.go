package auth

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"papertrade/src/model"
)

type userLookup interface {
	GetUserByUserName(ctx context.Context, username string) (*model.User, error)
}

// RequireUser resolves the X-Username header to a known user and stores it
// in the request context. Requests with no or unknown username get 401.
func RequireUser(users userLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := r.Header.Get("X-Username")
			if username == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByUserName(r.Context(), username)
			if err != nil {
				logger.WithError(err).Error("failed to resolve user")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if user == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
