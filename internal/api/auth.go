package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/briefvault/briefvault-api/internal/data"
	"github.com/briefvault/briefvault-api/internal/httpmw"
)

type contextKey string

const userContextKey contextKey = "api.user"

// UserFromContext returns the authenticated user, or nil outside an
// authenticated request.
func UserFromContext(ctx context.Context) *data.User {
	user, _ := ctx.Value(userContextKey).(*data.User)
	return user
}

func contextWithUser(ctx context.Context, user *data.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Authenticate resolves the Authorization bearer token to a user and puts
// it on the request context. Every route under /api/v1 runs behind it.
func (api *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			api.errorResponse(ctx, w, http.StatusUnauthorized, "missing or malformed bearer token")
			return
		}

		user, err := api.users.GetForToken(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, data.ErrRecordNotFound):
				w.Header().Set("WWW-Authenticate", "Bearer")
				api.errorResponse(ctx, w, http.StatusUnauthorized, "invalid or expired token")
			default:
				api.serverError(ctx, w, r, err)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(ctx, user)))
	})
}

// RateLimitKey keys rate-limit buckets by authenticated user when one is
// present, falling back to the resolved client IP. Wire it into the gate
// with ratelimit.WithKeyFunc.
func RateLimitKey(r *http.Request) string {
	if user := UserFromContext(r.Context()); user != nil {
		return "user:" + user.ID.String()
	}
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}
