package api

// This file contains the middleware guarding the admin routes.

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/watson-creative/tracking-injector/internal/auth"
)

// AdminOnlyMiddleware accepts requests carrying the admin bearer token. The
// configured value is a bcrypt hash; an empty hash disables the admin API.
func (s *Server) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.app.Config().Admin.TokenHash
		if hash == "" {
			RespondWithError(w, http.StatusForbidden, "Forbidden: admin API is disabled")
			return
		}

		token, ok := auth.BearerToken(r)
		if !ok {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: No bearer token")
			return
		}

		if !s.checkToken(token, hash) {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkToken verifies token against hash, remembering tokens that passed so
// each request does not pay for a bcrypt comparison.
func (s *Server) checkToken(token, hash string) bool {
	sum := sha256.Sum256([]byte(hash + "\x00" + token))
	key := hex.EncodeToString(sum[:])
	if _, ok := s.verified.Load(key); ok {
		return true
	}
	if !auth.CheckPasswordHash(token, hash) {
		return false
	}
	s.verified.Store(key, struct{}{})
	return true
}
