package oauth

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// TrackingSource wraps the library token source used for an API call and remembers
// a token that differs from the one the call started with. The OAuth client may
// refresh silently mid-call; callers read Rotated afterwards and persist it.
type TrackingSource struct {
	src     oauth2.TokenSource
	mu      sync.Mutex
	initial string
	rotated *oauth2.Token
}

// NewTrackingSource builds a source over tok. With a nil config the token is used as is.
func NewTrackingSource(ctx context.Context, config *oauth2.Config, tok *oauth2.Token) *TrackingSource {
	var src oauth2.TokenSource
	if config != nil && tok.RefreshToken != "" {
		src = config.TokenSource(ctx, tok)
	} else {
		src = oauth2.StaticTokenSource(tok)
	}
	return &TrackingSource{src: src, initial: tok.AccessToken}
}

func (s *TrackingSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if t.AccessToken != s.initial {
		s.rotated = t
	}
	s.mu.Unlock()
	return t, nil
}

// Rotated returns the token issued during the call, or nil if none was.
func (s *TrackingSource) Rotated() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotated
}

// Client returns an HTTP client authorized through this source.
func (s *TrackingSource) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, s)
}
