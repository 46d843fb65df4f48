package permission

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/metrics"
	"github.com/smallbiznis/guildauth/internal/repository"
)

// Audit reasons.
const (
	ReasonDiscordAdministrator   = "discord_administrator"
	ReasonNoAdminRolesConfigured = "no_admin_roles_configured"
	ReasonAdminRole              = "admin_role"
	ReasonModeratorRole          = "moderator_role"
	ReasonMissingRole            = "missing_role"
	ReasonNoLocalMembership      = "no_local_membership"
	ReasonNotAMember             = "not_a_member"
	ReasonGuildNotFound          = "guild_not_found"
	ReasonTokenUnavailable       = "token_unavailable"
	ReasonSystemAdminUserID      = "system_admin_user_id"
	ReasonNotSystemAdmin         = "not_system_admin"
	ReasonError                  = "error"
)

// TokenProvider yields a usable Discord access token for a user.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// PermissionGateway checks a user's live standing in a guild.
type PermissionGateway interface {
	CheckGuildPermissions(ctx context.Context, accessToken, guildID string) (discord.PermissionCheck, error)
}

// AccessValidator confirms mutual guild membership.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, userID, guildID string) error
}

// SettingsProvider loads canonical guild settings.
type SettingsProvider interface {
	GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error)
}

// Auditor persists decision records.
type Auditor interface {
	Record(ctx context.Context, record domain.AuditRecord)
}

// Dependencies groups the Orchestrator collaborators.
type Dependencies struct {
	Tokens        TokenProvider
	Gateway       PermissionGateway
	Access        AccessValidator
	Settings      SettingsProvider
	Guilds        repository.GuildStore
	Memberships   repository.GuildMembershipStore
	Leagues       repository.LeagueStore
	Organizations repository.OrganizationStore
	Trackers      repository.TrackerStore
	Evaluator     *RoleEvaluator
	Auditor       Auditor
	Metrics       *metrics.Metrics
}

// Orchestrator composes membership, live Discord data and role settings into
// audited allow/deny decisions. Callers only ever see nil, a domain.ErrForbidden
// variant or a domain.ErrNotFound variant.
type Orchestrator struct {
	deps         Dependencies
	systemAdmins map[string]struct{}
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewOrchestrator constructs an Orchestrator. systemAdminIDs is the static
// allowlist for CheckSystemAdmin.
func NewOrchestrator(deps Dependencies, systemAdminIDs []string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	admins := make(map[string]struct{}, len(systemAdminIDs))
	for _, id := range systemAdminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Orchestrator{
		deps:         deps,
		systemAdmins: admins,
		logger:       logger.Named("authz"),
		tracer:       otel.Tracer("github.com/smallbiznis/guildauth/internal/service/permission"),
	}
}

// decision is the outcome of one check before auditing. internal carries an
// unexpected failure that is converted to domain.ErrPermissionCheck.
type decision struct {
	allowed  bool
	reason   string
	denial   error
	internal error
	metadata map[string]any
}

func allow(reason string) decision {
	return decision{allowed: true, reason: reason}
}

func deny(reason string, err error) decision {
	return decision{reason: reason, denial: err}
}

func failed(err error) decision {
	return decision{reason: ReasonError, internal: err}
}

// CheckGuildAdmin is the Discord-validated admin check for sensitive actions.
func (o *Orchestrator) CheckGuildAdmin(ctx context.Context, userID, guildID string) error {
	ctx, span := o.startSpan(ctx, "permission.CheckGuildAdmin", guildID)
	defer span.End()
	d := o.guildAdmin(ctx, userID, guildID)
	return o.conclude(ctx, "guild_admin", domain.AuditActionGuildAdminCheck, userID, &guildID, "guild:"+guildID, d)
}

func (o *Orchestrator) guildAdmin(ctx context.Context, userID, guildID string) decision {
	accessToken, err := o.deps.Tokens.GetValidAccessToken(ctx, userID)
	if errors.Is(err, domain.ErrTokenUnavailable) {
		return deny(ReasonTokenUnavailable, fmt.Errorf("%w: %w", domain.ErrForbidden, domain.ErrTokenUnavailable))
	}
	if err != nil {
		return failed(fmt.Errorf("get access token: %w", err))
	}

	check, err := o.deps.Gateway.CheckGuildPermissions(ctx, accessToken, guildID)
	if err != nil {
		return failed(fmt.Errorf("check guild permissions: %w", err))
	}
	if !check.IsMember {
		return deny(ReasonNotAMember, domain.ErrNotAMember)
	}
	if check.HasAdministrator {
		d := allow(ReasonDiscordAdministrator)
		d.metadata = map[string]any{"permissions": check.Permissions}
		return d
	}

	// Settings are created lazily, so an untracked guild must be rejected
	// here or the fail-open below would let it be configured.
	tracked, err := o.deps.Guilds.Exists(ctx, guildID)
	if err != nil {
		return failed(fmt.Errorf("check guild: %w", err))
	}
	if !tracked {
		return deny(ReasonGuildNotFound, domain.ErrGuildNotFound)
	}

	settings, err := o.deps.Settings.GetGuildSettings(ctx, guildID)
	if err != nil {
		return failed(fmt.Errorf("load guild settings: %w", err))
	}
	if !settings.HasAdminRoles() {
		// Bootstrap fail-open: a guild with no admin roles configured yet lets
		// any verified member through so the first admin can configure it.
		// RoleEvaluator stays closed on empty config; only this entry point
		// opens, and the reason is audited.
		return allow(ReasonNoAdminRolesConfigured)
	}

	membership, err := o.deps.Memberships.FindOne(ctx, userID, guildID)
	if errors.Is(err, domain.ErrNotFound) {
		return deny(ReasonNoLocalMembership, domain.ErrNoAdminAccess)
	}
	if err != nil {
		return failed(fmt.Errorf("load membership: %w", err))
	}
	if o.deps.Evaluator.IsAdmin(ctx, membership.Roles, settings, true) {
		return allow(ReasonAdminRole)
	}
	d := deny(ReasonMissingRole, domain.ErrNoAdminAccess)
	d.metadata = map[string]any{"user_roles": len(membership.Roles), "admin_roles": len(settings.AdminRoleIDs())}
	return d
}

// CheckGuildAdminAccess is the cheaper admin check based on cached membership
// and configured roles. It has no Discord Administrator short-circuit and no
// bootstrap fail-open.
func (o *Orchestrator) CheckGuildAdminAccess(ctx context.Context, userID, guildID string) error {
	ctx, span := o.startSpan(ctx, "permission.CheckGuildAdminAccess", guildID)
	defer span.End()
	d := o.roleCheck(ctx, userID, guildID, false)
	return o.conclude(ctx, "guild_admin_access", domain.AuditActionGuildAdminAccessCheck, userID, &guildID, "guild:"+guildID, d)
}

// CheckGuildModerator allows configured moderators and admins.
func (o *Orchestrator) CheckGuildModerator(ctx context.Context, userID, guildID string) error {
	ctx, span := o.startSpan(ctx, "permission.CheckGuildModerator", guildID)
	defer span.End()
	d := o.roleCheck(ctx, userID, guildID, true)
	return o.conclude(ctx, "guild_moderator", domain.AuditActionGuildModeratorCheck, userID, &guildID, "guild:"+guildID, d)
}

func (o *Orchestrator) roleCheck(ctx context.Context, userID, guildID string, moderator bool) decision {
	if err := o.deps.Access.ValidateAccess(ctx, userID, guildID); err != nil {
		switch {
		case errors.Is(err, domain.ErrGuildNotFound):
			return deny(ReasonGuildNotFound, domain.ErrGuildNotFound)
		case errors.Is(err, domain.ErrNotAMember):
			return deny(ReasonNotAMember, domain.ErrNotAMember)
		default:
			return failed(fmt.Errorf("validate access: %w", err))
		}
	}

	membership, err := o.deps.Memberships.FindOne(ctx, userID, guildID)
	if errors.Is(err, domain.ErrNotFound) {
		return deny(ReasonNoLocalMembership, domain.ErrNotAMember)
	}
	if err != nil {
		return failed(fmt.Errorf("load membership: %w", err))
	}
	settings, err := o.deps.Settings.GetGuildSettings(ctx, guildID)
	if err != nil {
		return failed(fmt.Errorf("load guild settings: %w", err))
	}

	if moderator && o.deps.Evaluator.IsModerator(ctx, membership.Roles, settings, true) {
		return allow(ReasonModeratorRole)
	}
	if o.deps.Evaluator.IsAdmin(ctx, membership.Roles, settings, true) {
		return allow(ReasonAdminRole)
	}
	if moderator {
		return deny(ReasonMissingRole, domain.ErrNoModerator)
	}
	if !settings.HasAdminRoles() {
		return deny(ReasonNoAdminRolesConfigured, domain.ErrNoAdminAccess)
	}
	return deny(ReasonMissingRole, domain.ErrNoAdminAccess)
}

// CheckSystemAdmin checks userID against the configured allowlist.
func (o *Orchestrator) CheckSystemAdmin(ctx context.Context, userID string) error {
	d := deny(ReasonNotSystemAdmin, domain.ErrNotSystemAdmin)
	if _, ok := o.systemAdmins[userID]; ok {
		d = allow(ReasonSystemAdminUserID)
	}
	return o.conclude(ctx, "system_admin", domain.AuditActionSystemAdminCheck, userID, nil, "system", d)
}

// CheckLeagueAdmin resolves the league's guild and runs CheckGuildAdminAccess.
func (o *Orchestrator) CheckLeagueAdmin(ctx context.Context, userID, leagueID string) error {
	league, err := o.deps.Leagues.FindOne(ctx, leagueID)
	if err != nil {
		return o.resolveFailure(ctx, userID, "league", leagueID, err)
	}
	return o.CheckGuildAdminAccess(ctx, userID, league.GuildID)
}

// CheckLeagueModerator resolves the league's guild and runs CheckGuildModerator.
func (o *Orchestrator) CheckLeagueModerator(ctx context.Context, userID, leagueID string) error {
	league, err := o.deps.Leagues.FindOne(ctx, leagueID)
	if err != nil {
		return o.resolveFailure(ctx, userID, "league", leagueID, err)
	}
	return o.CheckGuildModerator(ctx, userID, league.GuildID)
}

// CheckOrganizationAdmin resolves the organization's guild and runs CheckGuildAdminAccess.
func (o *Orchestrator) CheckOrganizationAdmin(ctx context.Context, userID, organizationID string) error {
	org, err := o.deps.Organizations.FindOne(ctx, organizationID)
	if err != nil {
		return o.resolveFailure(ctx, userID, "organization", organizationID, err)
	}
	return o.CheckGuildAdminAccess(ctx, userID, org.GuildID)
}

// IsTrackerOwner is a pure equality check used for owner-only operations.
func IsTrackerOwner(currentUserID, ownerUserID string) bool {
	return currentUserID != "" && currentUserID == ownerUserID
}

// TrackerAccess is what a caller may do with a tracker.
type TrackerAccess struct {
	CanRead   bool
	CanDelete bool
}

// CanReadTracker allows the owner, or an admin of any guild the caller shares
// with the owner.
func (o *Orchestrator) CanReadTracker(ctx context.Context, userID, trackerID string) (TrackerAccess, error) {
	tracker, err := o.deps.Trackers.FindOne(ctx, trackerID)
	if err != nil {
		return TrackerAccess{}, o.resolveFailure(ctx, userID, "tracker", trackerID, err)
	}
	if IsTrackerOwner(userID, tracker.OwnerUserID) {
		return TrackerAccess{CanRead: true, CanDelete: true}, nil
	}

	shared, err := o.sharedGuilds(ctx, userID, tracker.OwnerUserID)
	if err != nil {
		o.logger.Error("shared guild lookup failed",
			zap.String("user_id", userID),
			zap.String("tracker_id", trackerID),
			zap.Error(err),
		)
		return TrackerAccess{}, domain.ErrPermissionCheck
	}
	for _, guildID := range shared {
		if err := o.CheckGuildAdminAccess(ctx, userID, guildID); err == nil {
			return TrackerAccess{CanRead: true}, nil
		}
	}
	return TrackerAccess{}, nil
}

func (o *Orchestrator) sharedGuilds(ctx context.Context, userID, otherUserID string) ([]string, error) {
	mine, err := o.deps.Memberships.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	theirs, err := o.deps.Memberships.FindByUser(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(theirs))
	for _, m := range theirs {
		set[m.GuildID] = struct{}{}
	}
	var shared []string
	for _, m := range mine {
		if _, ok := set[m.GuildID]; ok {
			shared = append(shared, m.GuildID)
		}
	}
	return shared, nil
}

// GuildPermissions is the caller's effective role in a guild.
type GuildPermissions struct {
	IsAdmin     bool
	IsModerator bool
}

// Permissions summarizes the caller's admin and moderator standing. Only an
// unknown guild or an internal failure is returned as an error.
func (o *Orchestrator) Permissions(ctx context.Context, userID, guildID string) (GuildPermissions, error) {
	err := o.CheckGuildAdminAccess(ctx, userID, guildID)
	switch {
	case err == nil:
		return GuildPermissions{IsAdmin: true, IsModerator: true}, nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermissionCheck):
		return GuildPermissions{}, err
	case errors.Is(err, domain.ErrNotAMember):
		return GuildPermissions{}, nil
	}

	err = o.CheckGuildModerator(ctx, userID, guildID)
	if errors.Is(err, domain.ErrPermissionCheck) {
		return GuildPermissions{}, err
	}
	return GuildPermissions{IsModerator: err == nil}, nil
}

// resolveFailure maps a scope lookup error to not-found or the generic denial.
func (o *Orchestrator) resolveFailure(ctx context.Context, userID, kind, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s %w", kind, domain.ErrNotFound)
	}
	o.logger.Error("resolve scope failed",
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Error(err),
	)
	return domain.ErrPermissionCheck
}

// conclude audits d, updates metrics and returns what the caller may see.
func (o *Orchestrator) conclude(ctx context.Context, check, action, userID string, guildID *string, resource string, d decision) error {
	result := domain.AuditDenied
	if d.allowed {
		result = domain.AuditAllowed
	}
	metadata := map[string]any{"reason": d.reason}
	for k, v := range d.metadata {
		metadata[k] = v
	}

	if d.internal != nil {
		fields := []zap.Field{
			zap.String("check", check),
			zap.String("user_id", userID),
			zap.Error(d.internal),
		}
		if guildID != nil {
			fields = append(fields, zap.String("guild_id", *guildID))
		}
		o.logger.Error("permission check failed", fields...)
	}

	o.deps.Auditor.Record(ctx, domain.AuditRecord{
		UserID:   userID,
		GuildID:  guildID,
		Action:   action,
		Resource: resource,
		Result:   result,
		Metadata: metadata,
	})
	o.deps.Metrics.AuthzDecision(check, string(result))

	switch {
	case d.allowed:
		return nil
	case d.internal != nil:
		return domain.ErrPermissionCheck
	default:
		return d.denial
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name, guildID string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("guild.id", guildID)))
}
