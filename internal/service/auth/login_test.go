package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/cache"
	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
	"github.com/smallbiznis/guildauth/internal/jwt"
	"github.com/smallbiznis/guildauth/internal/redirecturi"
	"github.com/smallbiznis/guildauth/internal/repository/memstore"
	"github.com/smallbiznis/guildauth/internal/service/permission"
	"github.com/smallbiznis/guildauth/internal/service/settings"
)

type fakeGateway struct {
	exchangeErr error
	profile     *discord.UserProfile
	codes       []string
}

func (f *fakeGateway) AuthorizeURL(state string) string {
	return "https://discord.com/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeGateway) ExchangeCode(_ context.Context, code string) (domainoauth.ExchangedToken, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return domainoauth.ExchangedToken{}, f.exchangeErr
	}
	return domainoauth.ExchangedToken{AccessToken: "discord-access", RefreshToken: "discord-refresh", ExpiresIn: 604800}, nil
}

func (f *fakeGateway) GetUserProfile(context.Context, string) (*discord.UserProfile, error) {
	return f.profile, nil
}

type fakeVault struct {
	mu      sync.Mutex
	stored  map[string]domainoauth.ExchangedToken
	revoked []string
}

func (f *fakeVault) Store(_ context.Context, userID string, token domainoauth.ExchangedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[userID] = token
	return nil
}

func (f *fakeVault) Revoke(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
}

type fakeSyncer struct {
	ids []string
	err error
}

func (f fakeSyncer) SyncMemberships(context.Context, string, string) ([]string, error) {
	return f.ids, f.err
}

type loginHarness struct {
	service     *LoginService
	cache       *cache.MemoryCache
	gateway     *fakeGateway
	vault       *fakeVault
	users       *memstore.Users
	sessions    *jwt.Generator
	memberships *memstore.Memberships
}

func newLoginHarness(t *testing.T, syncer fakeSyncer, memberships ...domain.GuildMembership) loginHarness {
	t.Helper()
	c := cache.NewMemoryCache()
	gateway := &fakeGateway{profile: &discord.UserProfile{ID: "u1", Username: "nelly", GlobalName: ptr("Nelly"), Email: ptr("nelly@example.com")}}
	vault := &fakeVault{stored: map[string]domainoauth.ExchangedToken{}}
	users := memstore.NewUsers()
	sessions, err := jwt.NewGenerator(strings.Repeat("s", 32), "guildauth", time.Hour)
	require.NoError(t, err)
	membershipStore := memstore.NewMemberships(memberships...)
	settingsStore := memstore.NewSettings()
	settingsStore.Put(domain.SettingsOwnerGuild, "g1", []byte(`{"roles":{"admin":["admin-role"],"moderator":["mod-role"]}}`))

	svc := NewLoginService(LoginDependencies{
		States:      NewStateStore(c),
		Redirects:   redirecturi.NewValidator([]string{"http://localhost:3000", "https://app.example.com", "https://app.example.com/portal/?tab=1#top"}, "http://localhost:3000", zap.NewNop()),
		Gateway:     gateway,
		Vault:       vault,
		Guilds:      syncer,
		Sessions:    sessions,
		Users:       users,
		Memberships: membershipStore,
		GuildStore: memstore.NewGuilds(
			domain.Guild{ID: "g1", Name: "Guild One", Active: true},
			domain.Guild{ID: "g2", Name: "Guild Two", Active: true},
			domain.Guild{ID: "g3", Name: "Gone", Active: false},
		),
		Settings: settings.NewService(settingsStore, zap.NewNop()),
		Roles:    permission.NewRoleEvaluator(nil, zap.NewNop()),
	}, zap.NewNop())

	return loginHarness{service: svc, cache: c, gateway: gateway, vault: vault, users: users, sessions: sessions, memberships: membershipStore}
}

func (h loginHarness) issueState(t *testing.T) string {
	t.Helper()
	authorize, err := h.service.StartLogin(context.Background())
	require.NoError(t, err)
	parsed, err := url.Parse(authorize)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func errorParams(t *testing.T, outcome domainoauth.CallbackOutcome) url.Values {
	t.Helper()
	parsed, err := url.Parse(outcome.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "/auth/error", parsed.Path)
	return parsed.Query()
}

func TestHandleCallbackSuccess(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{ids: []string{"g1", "g2"}})
	state := h.issueState(t)

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{
		Code:        "code-1",
		State:       state,
		RedirectURI: "https://APP.example.com/",
	})
	require.False(t, outcome.Failed())
	require.Equal(t, "https://app.example.com/auth/callback", outcome.RedirectURL)

	principal, err := h.sessions.Parse(outcome.Token)
	require.NoError(t, err)
	require.Equal(t, "u1", principal.UserID)
	require.Equal(t, "Nelly", principal.GlobalName)
	require.Equal(t, []string{"g1", "g2"}, principal.GuildIDs)
	require.NotContains(t, outcome.Token, "discord-access")

	user, err := h.users.FindOne(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "nelly@example.com", user.Email)
	require.Equal(t, "discord-refresh", h.vault.stored["u1"].RefreshToken)
	require.Zero(t, h.cache.Len())
}

func TestHandleCallbackRedirectWithQueryAndFragment(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{})

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{
		Code:        "c",
		State:       h.issueState(t),
		RedirectURI: "https://app.example.com/portal?tab=1#top",
	})
	require.False(t, outcome.Failed())
	require.Equal(t, "https://app.example.com/portal/auth/callback?tab=1#top", outcome.RedirectURL)

	denied := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{
		Error:       "access_denied",
		RedirectURI: "https://app.example.com/portal?tab=1#top",
	})
	parsed, err := url.Parse(denied.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "/portal/auth/error", parsed.Path)
	require.Equal(t, "1", parsed.Query().Get("tab"))
	require.Equal(t, "access_denied", parsed.Query().Get("error"))
	require.Equal(t, "top", parsed.Fragment)
}

func TestFrontendURL(t *testing.T) {
	tests := []struct {
		base   string
		path   string
		params url.Values
		want   string
	}{
		{base: "https://app.example.com", path: "/auth/callback", want: "https://app.example.com/auth/callback"},
		{base: "https://app.example.com?tab=1", path: "/auth/callback", want: "https://app.example.com/auth/callback?tab=1"},
		{base: "https://app.example.com/a%2Fb", path: "/auth/callback", want: "https://app.example.com/a%2Fb/auth/callback"},
		{
			base:   "https://app.example.com/x?tab=1#frag",
			path:   "/auth/error",
			params: url.Values{"error": {"no_code"}},
			want:   "https://app.example.com/x/auth/error?error=no_code&tab=1#frag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			require.Equal(t, tt.want, frontendURL(tt.base, tt.path, tt.params))
		})
	}
}

func TestHandleCallbackUpdatesExistingUser(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{})
	require.NoError(t, h.users.Create(context.Background(), domain.User{ID: "u1", Username: "old-name"}))

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{Code: "c", State: h.issueState(t)})
	require.False(t, outcome.Failed())
	require.Equal(t, "http://localhost:3000/auth/callback", outcome.RedirectURL)

	user, err := h.users.FindOne(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "nelly", user.Username)
}

func TestHandleCallbackMissingCodeStillConsumesState(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{})
	state := h.issueState(t)
	require.Equal(t, 1, h.cache.Len())

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{State: state})
	require.Equal(t, domainoauth.ErrorCodeNoCode, outcome.ErrorCode)
	require.Equal(t, "no_code", errorParams(t, outcome).Get("error"))
	require.Zero(t, h.cache.Len())

	replay := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{State: state, Code: "late"})
	require.Equal(t, domainoauth.ErrorCodeInvalidState, replay.ErrorCode)
	require.Empty(t, h.gateway.codes)
}

func TestHandleCallbackMaliciousRedirectUsesDefaultErrorPage(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{})
	state := h.issueState(t)

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{
		Code:        "c",
		State:       state,
		Error:       "access_denied",
		RedirectURI: "https://malicious.com",
	})
	require.Equal(t, domainoauth.ErrorCodeInvalidRedirectURI, outcome.ErrorCode)
	require.True(t, strings.HasPrefix(outcome.RedirectURL, "http://localhost:3000/auth/error?"))
	require.NotContains(t, outcome.RedirectURL, "malicious.com")
	require.Equal(t, "invalid_redirect_uri", errorParams(t, outcome).Get("error"))
	require.Equal(t, 1, h.cache.Len(), "state must not be touched before the redirect is validated")
}

func TestHandleCallbackErrors(t *testing.T) {
	cases := map[string]struct {
		params      func(state string) domainoauth.CallbackParams
		exchangeErr error
		code        string
	}{
		"upstream error": {
			params: func(state string) domainoauth.CallbackParams {
				return domainoauth.CallbackParams{State: state, Error: "access_denied", ErrorDescription: "The user denied access"}
			},
			code: "access_denied",
		},
		"missing state": {
			params: func(string) domainoauth.CallbackParams { return domainoauth.CallbackParams{Code: "c"} },
			code:   domainoauth.ErrorCodeInvalidState,
		},
		"unknown state": {
			params: func(string) domainoauth.CallbackParams { return domainoauth.CallbackParams{Code: "c", State: "forged"} },
			code:   domainoauth.ErrorCodeInvalidState,
		},
		"exchange failure": {
			params: func(state string) domainoauth.CallbackParams {
				return domainoauth.CallbackParams{Code: "c", State: state}
			},
			exchangeErr: discord.ErrUpstreamRejected,
			code:        domainoauth.ErrorCodeOAuthFailed,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newLoginHarness(t, fakeSyncer{})
			h.gateway.exchangeErr = tc.exchangeErr

			outcome := h.service.HandleCallback(context.Background(), tc.params(h.issueState(t)))
			require.True(t, outcome.Failed())
			require.Empty(t, outcome.Token)
			require.Equal(t, tc.code, outcome.ErrorCode)
			q := errorParams(t, outcome)
			require.Equal(t, tc.code, q.Get("error"))
			require.NotEmpty(t, q.Get("description"))
			require.True(t, strings.HasPrefix(outcome.RedirectURL, "http://localhost:3000/"))
		})
	}
}

func TestHandleCallbackSyncFailureFallsBackToStoredMemberships(t *testing.T) {
	h := newLoginHarness(t,
		fakeSyncer{err: errors.New("discord down")},
		domain.GuildMembership{UserID: "u1", GuildID: "g2"},
		domain.GuildMembership{UserID: "u1", GuildID: "g1"},
	)

	outcome := h.service.HandleCallback(context.Background(), domainoauth.CallbackParams{Code: "c", State: h.issueState(t)})
	require.False(t, outcome.Failed())

	principal, err := h.sessions.Parse(outcome.Token)
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, principal.GuildIDs)
}

func TestGuildsComputesLocalRoles(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{},
		domain.GuildMembership{UserID: "u1", GuildID: "g1", Roles: []string{"admin-role"}},
		domain.GuildMembership{UserID: "u1", GuildID: "g2", Roles: []string{"mod-role"}},
		domain.GuildMembership{UserID: "u1", GuildID: "g3"},
	)

	guilds, err := h.service.Guilds(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	require.Equal(t, "g1", guilds[0].ID)
	require.True(t, guilds[0].IsAdmin)
	require.True(t, guilds[0].IsModerator)
	require.Equal(t, "Guild Two", guilds[1].Name)
	require.False(t, guilds[1].IsAdmin)
	require.False(t, guilds[1].IsModerator)
}

func TestLogoutAndMe(t *testing.T) {
	h := newLoginHarness(t, fakeSyncer{})
	ctx := context.Background()

	_, err := h.service.Me(ctx, "u1")
	require.ErrorIs(t, err, domainoauth.ErrUserNotFound)

	require.NoError(t, h.users.Create(ctx, domain.User{ID: "u1", Username: "nelly"}))
	user, err := h.service.Me(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "nelly", user.Username)

	h.service.Logout(ctx, "u1")
	require.Equal(t, []string{"u1"}, h.vault.revoked)
}

func ptr(s string) *string { return &s }
