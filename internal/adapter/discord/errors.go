package discord

import "errors"

var (
	// ErrRateLimited is returned for HTTP 429. It is never retried.
	ErrRateLimited = errors.New("discord: rate limited")
	// ErrUnauthorized is returned for HTTP 401. It is never retried.
	ErrUnauthorized = errors.New("discord: unauthorized")
	// ErrUpstreamUnavailable is returned once retries are exhausted on 5xx or transport failures.
	ErrUpstreamUnavailable = errors.New("discord: upstream unavailable")
	// ErrUpstreamRejected covers other 4xx responses and undecodable bodies.
	ErrUpstreamRejected = errors.New("discord: request rejected")
)

// IsTerminal reports whether err is a Discord answer that retrying cannot change.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrUpstreamRejected)
}
