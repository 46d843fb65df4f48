package oauth

import "errors"

var (
	// ErrInvalidState indicates the OAuth state parameter is missing, expired or replayed.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrNoAuthorizationCode is returned when the callback carries no code.
	ErrNoAuthorizationCode = errors.New("oauth: no authorization code")
	// ErrExchangeFailed wraps failures from the token endpoint.
	ErrExchangeFailed = errors.New("oauth: code exchange failed")
	// ErrTokenInvalid indicates malformed or unverifiable session tokens.
	ErrTokenInvalid = errors.New("oauth: token invalid")
	// ErrUserNotFound signals that the authenticated identity has no local user.
	ErrUserNotFound = errors.New("oauth: user not found")
)
