package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/guildauth/internal/adapter/cache"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
)

const (
	// StateTTL bounds how long an issued state may be consumed.
	StateTTL   = 600_000 * time.Millisecond
	stateBytes = 32
)

// StateStore issues one-time OAuth state tokens backed by the cache.
type StateStore struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewStateStore constructs a StateStore.
func NewStateStore(c cache.Cache) *StateStore {
	return &StateStore{cache: c, ttl: StateTTL, now: time.Now, random: rand.Reader}
}

// Issue generates and stores a fresh state token.
func (s *StateStore) Issue(ctx context.Context) (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	payload, err := json.Marshal(domainoauth.OAuthState{Token: token, IssuedAtMillis: s.now().UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	if err := s.cache.Set(ctx, buildStateKey(token), payload, s.ttl); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return token, nil
}

// Consume reports whether token was issued and not yet used. A present state
// is deleted in the same cache operation, so only one caller can see true.
func (s *StateStore) Consume(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	raw, err := s.cache.GetDel(ctx, buildStateKey(token))
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}

	var state domainoauth.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("decode state: %w", err)
	}
	return state.Token == token, nil
}

func buildStateKey(token string) string {
	return domainoauth.StateKeyPrefix + token
}
