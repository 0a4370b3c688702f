package oauth

import (
	"sync"

	"golang.org/x/oauth2"
)

// Session is the credential handle for one sync run. Provider calls read the
// current token from it and report rotated tokens back through Observe.
type Session struct {
	manager      *Manager
	credentialID string
	userID       string
	service      string

	mu    sync.RWMutex
	token *oauth2.Token
}

// NewSession builds a session. A nil manager keeps rotations in memory only.
func NewSession(manager *Manager, credentialID, userID, service string, token *oauth2.Token) *Session {
	return &Session{
		manager:      manager,
		credentialID: credentialID,
		userID:       userID,
		service:      service,
		token:        cloneToken(token),
	}
}

func (s *Session) UserID() string  { return s.userID }
func (s *Session) Service() string { return s.service }

// Token returns a copy of the current token.
func (s *Session) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneToken(s.token)
}

// Observe records a token issued out of band by the OAuth client. It returns true
// when the token was new; the write to storage happens in the background.
func (s *Session) Observe(rotated *oauth2.Token) bool {
	if rotated == nil || rotated.AccessToken == "" {
		return false
	}

	s.mu.Lock()
	if s.token.AccessToken == rotated.AccessToken {
		s.mu.Unlock()
		return false
	}
	next := cloneToken(rotated)
	if next.RefreshToken == "" {
		next.RefreshToken = s.token.RefreshToken
	}
	s.token = next
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.persistAsync(s.credentialID, s.userID, s.service, next)
	}
	return true
}

func cloneToken(t *oauth2.Token) *oauth2.Token {
	if t == nil {
		return &oauth2.Token{}
	}
	c := *t
	return &c
}
