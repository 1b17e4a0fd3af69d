package stub

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const accountKey contextKey = "account"

// authMiddleware validates the bearer token and attaches the account to the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.bearerClaims(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		s.mu.Lock()
		acc, ok := s.byUUID[claims.Subject]
		s.mu.Unlock()
		if !ok {
			respondError(w, http.StatusUnauthorized, "user not found")
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) bearerClaims(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("invalid authorization header format")
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}
	claims, err := s.tokens.VerifyToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired token")
	}
	return claims, nil
}

// accountFrom returns the account attached by authMiddleware. Only called
// from handlers behind the middleware.
func accountFrom(r *http.Request) *account {
	acc, _ := r.Context().Value(accountKey).(*account)
	return acc
}
