package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGeneratorRoundTrip(t *testing.T) {
	g, err := NewGenerator(testSecret, "guildauth", time.Hour)
	require.NoError(t, err)

	user := domain.User{ID: "80351110224678912", Username: "nelly", GlobalName: "Nelly", Email: "nelly@example.com"}
	token, err := g.Issue(user, []string{"g1", "g2"})
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	p, err := g.Parse(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, p.UserID)
	require.Equal(t, "nelly", p.Username)
	require.Equal(t, "Nelly", p.GlobalName)
	require.Equal(t, []string{"g1", "g2"}, p.GuildIDs)
}

func TestNewGeneratorRejectsShortSecret(t *testing.T) {
	_, err := NewGenerator("short", "guildauth", time.Hour)
	require.ErrorIs(t, err, ErrWeakSecret)
}

func TestParseRejects(t *testing.T) {
	g, err := NewGenerator(testSecret, "guildauth", time.Hour)
	require.NoError(t, err)
	token, err := g.Issue(domain.User{ID: "u1"}, nil)
	require.NoError(t, err)

	other, err := NewGenerator(strings.Repeat("x", 32), "guildauth", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)

	wrongIssuer, err := NewGenerator(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	_, err = wrongIssuer.Parse(token)
	require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)

	later := *g
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Parse(token)
	require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)

	_, err = g.Parse("not-a-jwt")
	require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)
	_, err = g.Parse("")
	require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)
}
