package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
)

// MinSecretLength is the minimum HMAC secret size in bytes.
const MinSecretLength = 32

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = errors.New("jwt: secret must be at least 32 bytes")

// Generator signs and validates session tokens.
type Generator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewGenerator constructs a session token generator.
func NewGenerator(secret, issuer string, ttl time.Duration) (*Generator, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Generator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the session lifetime; the cookie Max-Age follows it.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// SessionClaims represent the profile part of the session payload.
type SessionClaims struct {
	Username   string   `json:"username"`
	GlobalName string   `json:"globalName,omitempty"`
	Avatar     string   `json:"avatar,omitempty"`
	Email      string   `json:"email,omitempty"`
	GuildIDs   []string `json:"guildIds"`
}

// Issue produces a signed session token for user.
func (g *Generator) Issue(user domain.User, guildIDs []string) (string, error) {
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: g.secret}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := g.now().UTC()
	std := gojwt.Claims{
		Subject:  user.ID,
		Issuer:   g.issuer,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(g.ttl)),
	}
	if guildIDs == nil {
		guildIDs = []string{}
	}
	custom := SessionClaims{
		Username:   user.Username,
		GlobalName: user.GlobalName,
		Avatar:     user.Avatar,
		Email:      user.Email,
		GuildIDs:   guildIDs,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Parse verifies token and returns the principal it carries. Every failure
// is reported as oauth.ErrTokenInvalid.
func (g *Generator) Parse(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, domainoauth.ErrTokenInvalid
	}
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: parse: %v", domainoauth.ErrTokenInvalid, err)
	}

	var std gojwt.Claims
	var custom SessionClaims
	if err := parsed.Claims(g.secret, &std, &custom); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: verify: %v", domainoauth.ErrTokenInvalid, err)
	}
	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: g.now()}); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: claims: %v", domainoauth.ErrTokenInvalid, err)
	}
	if std.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing subject", domainoauth.ErrTokenInvalid)
	}

	return domain.Principal{
		UserID:     std.Subject,
		Username:   custom.Username,
		GlobalName: custom.GlobalName,
		Avatar:     custom.Avatar,
		Email:      custom.Email,
		GuildIDs:   custom.GuildIDs,
	}, nil
}
