package oauth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var ErrNoRefreshToken = errors.New("no refresh token available")

// AuthError is returned when no valid credential can be produced for a run.
// Permanent errors mean the credential is gone and the user must reconnect;
// retryable errors mean the whole run can be retried later.
type AuthError struct {
	UserID    string
	Service   string
	Permanent bool
	Err       error
}

func (e *AuthError) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s auth error for user %s (%s): %v", kind, e.UserID, e.Service, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a permanent AuthError.
func IsPermanent(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Permanent
}

// permanentErrorCodes are OAuth error codes that no retry can fix.
var permanentErrorCodes = map[string]bool{
	"invalid_grant":         true,
	"refresh_token_expired": true,
}

// isPermanentRefreshError classifies a refresh failure. Anything not known to be
// permanent (network failures, timeouts, 5xx from the token endpoint) is retryable.
func isPermanentRefreshError(err error) bool {
	if errors.Is(err, ErrNoRefreshToken) {
		return true
	}
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if permanentErrorCodes[retrieveErr.ErrorCode] {
		return true
	}
	body := string(retrieveErr.Body)
	for code := range permanentErrorCodes {
		if strings.Contains(body, code) {
			return true
		}
	}
	return false
}
