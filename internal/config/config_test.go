package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/guildauth")
	t.Setenv("DISCORD_CLIENT_ID", "client")
	t.Setenv("DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("DISCORD_REDIRECT_URI", "https://api.example.com/auth/discord/callback")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "encryption-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("FRONTEND_URL", "https://app.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.DiscordRetryAttempts)
	require.Equal(t, time.Second, cfg.DiscordRetryBackoff)
	require.Equal(t, []string{"https://app.example.com"}, cfg.AllowedRedirectURIs)
	require.Equal(t, "lax", cfg.CookieSameSite)
	require.False(t, cfg.IsProduction())
	require.Empty(t, cfg.CORSAllowedOrigins)
	require.True(t, cfg.CORSAllowCredentials)
}

func TestLoadParsesLists(t *testing.T) {
	setRequired(t)
	t.Setenv("SYSTEM_ADMIN_USER_IDS", " 111, 222 ,,")
	t.Setenv("ALLOWED_REDIRECT_URIS", "https://a.example.com,https://b.example.com")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"111", "222"}, cfg.SystemAdminUserIDs)
	require.Len(t, cfg.AllowedRedirectURIs, 2)
	require.True(t, cfg.IsProduction())
}

func TestLoadRequiresSecrets(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownCacheDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("CACHE_DRIVER", "memcached")

	_, err := Load()
	require.ErrorContains(t, err, "CACHE_DRIVER")
}
