package domain

import "time"

// TokenRecord holds a user's Discord OAuth tokens, encrypted at rest.
// Both fields are nil once the tokens have been revoked.
type TokenRecord struct {
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	UpdatedAt             time.Time
}

// HasAccessToken reports whether an access token is stored.
func (r TokenRecord) HasAccessToken() bool {
	return len(r.AccessTokenEncrypted) > 0
}

// HasRefreshToken reports whether a refresh token is stored.
func (r TokenRecord) HasRefreshToken() bool {
	return len(r.RefreshTokenEncrypted) > 0
}
