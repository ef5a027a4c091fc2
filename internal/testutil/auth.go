package testutil

import (
	"net/http"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/watson-creative/tracking-injector/internal/auth"
	"github.com/watson-creative/tracking-injector/internal/config"
)

// AdminToken generates an admin token and stores its hash in cfg. The hash
// uses the minimum bcrypt cost to keep tests fast.
func AdminToken(t *testing.T, cfg *config.Config) string {
	t.Helper()

	token, err := auth.GenerateToken(16)
	if err != nil {
		t.Fatalf("Failed to generate admin token: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash admin token: %v", err)
	}
	cfg.Admin.TokenHash = string(hash)
	return token
}

// Authorize sets the bearer token header on req.
func Authorize(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
