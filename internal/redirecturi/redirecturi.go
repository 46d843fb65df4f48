// Package redirecturi normalizes and whitelists OAuth redirect targets.
package redirecturi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrInvalidRedirectURI         = errors.New("redirect uri is not allowed")
	ErrInvalidRedirectURIProtocol = errors.New("redirect uri must use https or localhost")
	ErrInvalidRedirectURIFormat   = errors.New("redirect uri is malformed")
)

// Normalize canonicalizes uri for whitelist comparison. The scheme must be
// https unless the host is localhost. The host is lower-cased, trailing slashes
// are removed from the path and the query and fragment are kept verbatim.
func Normalize(uri string) (string, error) {
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return "", ErrInvalidRedirectURIFormat
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirectURIFormat, err)
	}
	if u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return "", ErrInvalidRedirectURIFormat
	}

	scheme := strings.ToLower(u.Scheme)
	hostname := strings.ToLower(u.Hostname())
	if scheme != "https" && hostname != "localhost" {
		return "", ErrInvalidRedirectURIProtocol
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.RawFragment != "" {
		b.WriteByte('#')
		b.WriteString(u.RawFragment)
	} else if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String(), nil
}

// Validator checks redirect candidates against a normalized whitelist.
type Validator struct {
	allowed  map[string]struct{}
	fallback string
	logger   *zap.Logger
}

// NewValidator normalizes the whitelist once. Entries that fail to normalize
// are skipped with a warning so one bad entry cannot block the others.
func NewValidator(allowed []string, fallback string, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.L()
	}
	v := &Validator{
		allowed:  make(map[string]struct{}, len(allowed)),
		fallback: fallback,
		logger:   logger.Named("redirecturi"),
	}
	for _, entry := range allowed {
		normalized, err := Normalize(entry)
		if err != nil {
			v.logger.Warn("skipping invalid allowed redirect uri", zap.String("entry", entry), zap.Error(err))
			continue
		}
		v.allowed[normalized] = struct{}{}
	}
	return v
}

// Validate returns the normalized candidate when it is whitelisted, or the
// normalized fallback when candidate is empty.
func (v *Validator) Validate(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return Normalize(v.fallback)
	}
	normalized, err := Normalize(candidate)
	if err != nil {
		return "", err
	}
	if _, ok := v.allowed[normalized]; !ok {
		return "", ErrInvalidRedirectURI
	}
	return normalized, nil
}

// Fallback returns the normalized default redirect target, or the raw
// configured value when it does not normalize.
func (v *Validator) Fallback() string {
	normalized, err := Normalize(v.fallback)
	if err != nil {
		return strings.TrimRight(v.fallback, "/")
	}
	return normalized
}

// Validate is a convenience wrapper for one-off checks.
func Validate(candidate string, allowed []string, fallback string) (string, error) {
	return NewValidator(allowed, fallback, zap.NewNop()).Validate(candidate)
}
