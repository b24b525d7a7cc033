// SPDX-License-Identifier: GPL-3.0-or-later
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/CrawX/go-imap-phishguard/config"
)

var ErrUnauthorized = errors.New("unauthorized")

type Identity struct {
	UserId    int64
	StudentId string
	Admin     bool
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

type staticToken struct {
	token    string
	identity Identity
}

// StaticTokens authenticates the bearer tokens of the configured users.
type StaticTokens struct {
	tokens []staticToken
}

func NewStaticTokens(users []config.User) *StaticTokens {
	s := &StaticTokens{}
	for _, u := range users {
		s.tokens = append(s.tokens, staticToken{
			token:    u.Token,
			identity: Identity{UserId: u.UserId, StudentId: u.StudentId, Admin: u.Admin},
		})
	}
	return s
}

func (s *StaticTokens) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	for _, t := range s.tokens {
		if subtleEqual(t.token, token) {
			identity := t.identity
			return &identity, nil
		}
	}
	return nil, ErrUnauthorized
}

func subtleEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// bearerToken reads the Authorization header. EventSource clients cannot set
// headers, they pass the token as query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

type identityHandler func(w http.ResponseWriter, r *http.Request, identity *Identity)

func (s *Server) authenticated(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) admin(next identityHandler) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, identity *Identity) {
		if !identity.Admin {
			s.respondError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next(w, r, identity)
	})
}
