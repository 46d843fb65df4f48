package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/audit"
	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/repository/memstore"
	"github.com/smallbiznis/guildauth/internal/service/settings"
)

type fakeTokens struct {
	token string
	err   error
}

func (f fakeTokens) GetValidAccessToken(context.Context, string) (string, error) {
	return f.token, f.err
}

type fakeGateway struct {
	check discord.PermissionCheck
	err   error
}

func (f fakeGateway) CheckGuildPermissions(context.Context, string, string) (discord.PermissionCheck, error) {
	return f.check, f.err
}

type fakeAccess struct {
	errs map[string]error
}

func (f fakeAccess) ValidateAccess(_ context.Context, userID, guildID string) error {
	return f.errs[userID+"/"+guildID]
}

type harness struct {
	orch        *Orchestrator
	audit       *memstore.AuditLog
	settings    *memstore.Settings
	memberships *memstore.Memberships
}

type options struct {
	tokens      fakeTokens
	gateway     fakeGateway
	access      fakeAccess
	liveRoles   []discord.Role
	settings    map[string]string
	memberships []domain.GuildMembership
	trackers    []domain.Tracker
}

func newHarness(t *testing.T, opts options) harness {
	t.Helper()
	settingsStore := memstore.NewSettings()
	for guildID, raw := range opts.settings {
		settingsStore.Put(domain.SettingsOwnerGuild, guildID, []byte(raw))
	}
	memberships := memstore.NewMemberships(opts.memberships...)
	auditLog := memstore.NewAuditLog()
	if opts.tokens.token == "" && opts.tokens.err == nil {
		opts.tokens.token = "access"
	}

	orch := NewOrchestrator(Dependencies{
		Tokens:        opts.tokens,
		Gateway:       opts.gateway,
		Access:        opts.access,
		Settings:      settings.NewService(settingsStore, zap.NewNop()),
		Guilds:        memstore.NewGuilds(domain.Guild{ID: "g1", Active: true}, domain.Guild{ID: "g2", Active: true}),
		Memberships:   memberships,
		Leagues:       memstore.NewLeagues(domain.League{ID: "l1", GuildID: "g1"}),
		Organizations: memstore.NewOrganizations(domain.Organization{ID: "o1", GuildID: "g1", LeagueID: "l1"}),
		Trackers:      memstore.NewTrackers(opts.trackers...),
		Evaluator:     NewRoleEvaluator(&fakeRoles{roles: opts.liveRoles}, zap.NewNop()),
		Auditor:       audit.NewRecorder(auditLog, nil, zap.NewNop()),
	}, []string{"sysadmin"}, zap.NewNop())

	return harness{orch: orch, audit: auditLog, settings: settingsStore, memberships: memberships}
}

func (h harness) lastAudit(t *testing.T) domain.AuditRecord {
	t.Helper()
	rec, ok := h.audit.Last()
	require.True(t, ok)
	return rec
}

const adminConfigured = `{"roles":{"admin":[{"id":"admin-role","name":"Admin"}],"moderator":[{"id":"mod-role","name":"Mod"}]}}`

func TestCheckGuildAdminDiscordAdministratorShortCircuits(t *testing.T) {
	h := newHarness(t, options{
		gateway:  fakeGateway{check: discord.PermissionCheck{IsMember: true, HasAdministrator: true, Permissions: "8"}},
		settings: map[string]string{"g1": adminConfigured},
	})

	require.NoError(t, h.orch.CheckGuildAdmin(context.Background(), "u1", "g1"))
	rec := h.lastAudit(t)
	require.Equal(t, domain.AuditAllowed, rec.Result)
	require.Equal(t, ReasonDiscordAdministrator, rec.Reason())
	require.Equal(t, "g1", *rec.GuildID)
}

func TestCheckGuildAdminUntrackedGuildDoesNotFailOpen(t *testing.T) {
	h := newHarness(t, options{
		gateway: fakeGateway{check: discord.PermissionCheck{IsMember: true}},
	})

	err := h.orch.CheckGuildAdmin(context.Background(), "u1", "unknown-guild")
	require.ErrorIs(t, err, domain.ErrGuildNotFound)
	rec := h.lastAudit(t)
	require.Equal(t, domain.AuditDenied, rec.Result)
	require.Equal(t, ReasonGuildNotFound, rec.Reason())

	_, err = h.settings.GetSettings(context.Background(), domain.SettingsOwnerGuild, "unknown-guild")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckGuildAdminBootstrapFailOpenIsAudited(t *testing.T) {
	h := newHarness(t, options{
		gateway: fakeGateway{check: discord.PermissionCheck{IsMember: true}},
	})

	require.NoError(t, h.orch.CheckGuildAdmin(context.Background(), "u1", "g1"))
	rec := h.lastAudit(t)
	require.Equal(t, domain.AuditAllowed, rec.Result)
	require.Equal(t, ReasonNoAdminRolesConfigured, rec.Metadata["reason"])
	require.Equal(t, domain.AuditActionGuildAdminCheck, rec.Action)
}

func TestCheckGuildAdminWithConfiguredRole(t *testing.T) {
	h := newHarness(t, options{
		gateway:     fakeGateway{check: discord.PermissionCheck{IsMember: true}},
		settings:    map[string]string{"g1": adminConfigured},
		memberships: []domain.GuildMembership{{UserID: "u1", GuildID: "g1", Roles: []string{"admin-role"}}},
		liveRoles:   []discord.Role{{ID: "admin-role"}},
	})

	require.NoError(t, h.orch.CheckGuildAdmin(context.Background(), "u1", "g1"))
	require.Equal(t, ReasonAdminRole, h.lastAudit(t).Reason())
}

func TestCheckGuildAdminDenials(t *testing.T) {
	cases := map[string]struct {
		opts   options
		err    error
		reason string
	}{
		"token unavailable": {
			opts:   options{tokens: fakeTokens{err: domain.ErrTokenUnavailable}},
			err:    domain.ErrTokenUnavailable,
			reason: ReasonTokenUnavailable,
		},
		"not a member": {
			opts:   options{gateway: fakeGateway{check: discord.PermissionCheck{IsMember: false}}},
			err:    domain.ErrNotAMember,
			reason: ReasonNotAMember,
		},
		"no local membership": {
			opts: options{
				gateway:  fakeGateway{check: discord.PermissionCheck{IsMember: true}},
				settings: map[string]string{"g1": adminConfigured},
			},
			err:    domain.ErrNoAdminAccess,
			reason: ReasonNoLocalMembership,
		},
		"missing role": {
			opts: options{
				gateway:     fakeGateway{check: discord.PermissionCheck{IsMember: true}},
				settings:    map[string]string{"g1": adminConfigured},
				memberships: []domain.GuildMembership{{UserID: "u1", GuildID: "g1", Roles: []string{"member"}}},
				liveRoles:   []discord.Role{{ID: "admin-role"}},
			},
			err:    domain.ErrNoAdminAccess,
			reason: ReasonMissingRole,
		},
		"stale admin role": {
			opts: options{
				gateway:     fakeGateway{check: discord.PermissionCheck{IsMember: true}},
				settings:    map[string]string{"g1": adminConfigured},
				memberships: []domain.GuildMembership{{UserID: "u1", GuildID: "g1", Roles: []string{"admin-role"}}},
			},
			err:    domain.ErrNoAdminAccess,
			reason: ReasonMissingRole,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, tc.opts)
			err := h.orch.CheckGuildAdmin(context.Background(), "u1", "g1")
			require.ErrorIs(t, err, tc.err)
			require.ErrorIs(t, err, domain.ErrForbidden)
			rec := h.lastAudit(t)
			require.Equal(t, domain.AuditDenied, rec.Result)
			require.Equal(t, tc.reason, rec.Reason())
		})
	}
}

func TestCheckGuildAdminHidesInternalErrors(t *testing.T) {
	h := newHarness(t, options{gateway: fakeGateway{err: discord.ErrRateLimited}})

	err := h.orch.CheckGuildAdmin(context.Background(), "u1", "g1")
	require.ErrorIs(t, err, domain.ErrPermissionCheck)
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.NotErrorIs(t, err, discord.ErrRateLimited)
	require.Equal(t, ReasonError, h.lastAudit(t).Reason())
}

func TestCheckGuildAdminAccess(t *testing.T) {
	h := newHarness(t, options{
		settings: map[string]string{"g1": adminConfigured, "g2": `{"roles":{"admin":[]}}`},
		memberships: []domain.GuildMembership{
			{UserID: "u1", GuildID: "g1", Roles: []string{"admin-role"}},
			{UserID: "u1", GuildID: "g2", Roles: []string{"admin-role"}},
		},
		liveRoles: []discord.Role{{ID: "admin-role"}},
		access:    fakeAccess{errs: map[string]error{"u1/missing": domain.ErrGuildNotFound, "u2/g1": domain.ErrNotAMember}},
	})
	ctx := context.Background()

	require.NoError(t, h.orch.CheckGuildAdminAccess(ctx, "u1", "g1"))

	err := h.orch.CheckGuildAdminAccess(ctx, "u1", "g2")
	require.ErrorIs(t, err, domain.ErrNoAdminAccess)
	require.Equal(t, ReasonNoAdminRolesConfigured, h.lastAudit(t).Reason())

	err = h.orch.CheckGuildAdminAccess(ctx, "u1", "missing")
	require.ErrorIs(t, err, domain.ErrGuildNotFound)

	err = h.orch.CheckGuildAdminAccess(ctx, "u2", "g1")
	require.ErrorIs(t, err, domain.ErrNotAMember)
}

func TestCheckGuildModerator(t *testing.T) {
	h := newHarness(t, options{
		settings: map[string]string{"g1": adminConfigured},
		memberships: []domain.GuildMembership{
			{UserID: "mod", GuildID: "g1", Roles: []string{"mod-role"}},
			{UserID: "admin", GuildID: "g1", Roles: []string{"admin-role"}},
			{UserID: "member", GuildID: "g1", Roles: []string{}},
		},
		liveRoles: []discord.Role{{ID: "admin-role"}, {ID: "mod-role"}},
	})
	ctx := context.Background()

	require.NoError(t, h.orch.CheckGuildModerator(ctx, "mod", "g1"))
	require.Equal(t, ReasonModeratorRole, h.lastAudit(t).Reason())
	require.NoError(t, h.orch.CheckGuildModerator(ctx, "admin", "g1"))
	require.ErrorIs(t, h.orch.CheckGuildModerator(ctx, "member", "g1"), domain.ErrNoModerator)
}

func TestCheckSystemAdmin(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	require.NoError(t, h.orch.CheckSystemAdmin(ctx, "sysadmin"))
	rec := h.lastAudit(t)
	require.Equal(t, ReasonSystemAdminUserID, rec.Reason())
	require.Nil(t, rec.GuildID)

	require.ErrorIs(t, h.orch.CheckSystemAdmin(ctx, "u1"), domain.ErrNotSystemAdmin)
	require.Equal(t, ReasonNotSystemAdmin, h.lastAudit(t).Reason())
}

func TestLeagueAndOrganizationChecksResolveGuild(t *testing.T) {
	h := newHarness(t, options{
		settings:    map[string]string{"g1": adminConfigured},
		memberships: []domain.GuildMembership{{UserID: "u1", GuildID: "g1", Roles: []string{"admin-role"}}},
		liveRoles:   []discord.Role{{ID: "admin-role"}},
	})
	ctx := context.Background()

	require.NoError(t, h.orch.CheckLeagueAdmin(ctx, "u1", "l1"))
	require.Equal(t, "g1", *h.lastAudit(t).GuildID)
	require.NoError(t, h.orch.CheckLeagueModerator(ctx, "u1", "l1"))
	require.NoError(t, h.orch.CheckOrganizationAdmin(ctx, "u1", "o1"))

	err := h.orch.CheckLeagueAdmin(ctx, "u1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NotErrorIs(t, err, domain.ErrForbidden)
}

func TestTrackerAccess(t *testing.T) {
	h := newHarness(t, options{
		settings: map[string]string{"g1": adminConfigured},
		memberships: []domain.GuildMembership{
			{UserID: "owner", GuildID: "g1"},
			{UserID: "admin", GuildID: "g1", Roles: []string{"admin-role"}},
			{UserID: "member", GuildID: "g1"},
			{UserID: "stranger-admin", GuildID: "g2", Roles: []string{"admin-role"}},
		},
		liveRoles: []discord.Role{{ID: "admin-role"}},
		trackers:  []domain.Tracker{{ID: "t1", OwnerUserID: "owner"}},
	})
	ctx := context.Background()

	access, err := h.orch.CanReadTracker(ctx, "owner", "t1")
	require.NoError(t, err)
	require.Equal(t, TrackerAccess{CanRead: true, CanDelete: true}, access)

	access, err = h.orch.CanReadTracker(ctx, "admin", "t1")
	require.NoError(t, err)
	require.Equal(t, TrackerAccess{CanRead: true}, access)

	access, err = h.orch.CanReadTracker(ctx, "member", "t1")
	require.NoError(t, err)
	require.False(t, access.CanRead)

	access, err = h.orch.CanReadTracker(ctx, "stranger-admin", "t1")
	require.NoError(t, err)
	require.False(t, access.CanRead)

	_, err = h.orch.CanReadTracker(ctx, "owner", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.True(t, IsTrackerOwner("owner", "owner"))
	require.False(t, IsTrackerOwner("", ""))
	require.False(t, IsTrackerOwner("admin", "owner"))
}

func TestPermissionsSummary(t *testing.T) {
	h := newHarness(t, options{
		settings: map[string]string{"g1": adminConfigured},
		memberships: []domain.GuildMembership{
			{UserID: "admin", GuildID: "g1", Roles: []string{"admin-role"}},
			{UserID: "mod", GuildID: "g1", Roles: []string{"mod-role"}},
		},
		liveRoles: []discord.Role{{ID: "admin-role"}, {ID: "mod-role"}},
		access:    fakeAccess{errs: map[string]error{"outsider/g1": domain.ErrNotAMember, "admin/gone": domain.ErrGuildNotFound}},
	})
	ctx := context.Background()

	got, err := h.orch.Permissions(ctx, "admin", "g1")
	require.NoError(t, err)
	require.Equal(t, GuildPermissions{IsAdmin: true, IsModerator: true}, got)

	got, err = h.orch.Permissions(ctx, "mod", "g1")
	require.NoError(t, err)
	require.Equal(t, GuildPermissions{IsModerator: true}, got)

	got, err = h.orch.Permissions(ctx, "outsider", "g1")
	require.NoError(t, err)
	require.Equal(t, GuildPermissions{}, got)

	_, err = h.orch.Permissions(ctx, "admin", "gone")
	require.True(t, errors.Is(err, domain.ErrGuildNotFound))
}
