package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey struct{}

// Options configures Middleware.
type Options struct {
	// Mode is one of: none | apikey | jwt. Empty means none.
	Mode string

	// Header is the HTTP header carrying the API key (apikey mode).
	Header string

	// Key is the expected API key (apikey mode).
	Key string

	// JWTSecret verifies bearer tokens (jwt mode).
	JWTSecret string

	// Public reports whether a request may skip authentication. May be nil.
	Public func(r *http.Request) bool
}

// Middleware returns next wrapped with the authentication check selected by
// opts.Mode. Rejected requests get a 401 JSON error body.
func Middleware(opts Options, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Public != nil && opts.Public(r) {
			next.ServeHTTP(w, r)
			return
		}

		switch opts.Mode {
		case "apikey":
			// Unconfigured key → allow everything.
			if opts.Key == "" {
				break
			}
			got := r.Header.Get(opts.Header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(opts.Key)) != 1 {
				unauthorized(w, "invalid api key")
				return
			}

		case "jwt":
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := ParseToken(opts.JWTSecret, raw)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			r = r.WithContext(ContextWithUserID(r.Context(), claims.UserID))
		}

		next.ServeHTTP(w, r)
	})
}

// ContextWithUserID returns a copy of ctx carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserIDFromContext returns the authenticated user id, if any. Only the jwt
// mode identifies users.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(ctxKey{}).(uint)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"error_code": http.StatusUnauthorized,
		"error_text": msg,
	})
}
