package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/http/middleware"
	"github.com/smallbiznis/guildauth/internal/repository"
	"github.com/smallbiznis/guildauth/internal/service/permission"
)

// Authorizer is the authorization surface used by the guild-scoped endpoints.
type Authorizer interface {
	CheckGuildAdmin(ctx context.Context, userID, guildID string) error
	CheckGuildAdminAccess(ctx context.Context, userID, guildID string) error
	CheckSystemAdmin(ctx context.Context, userID string) error
	CheckLeagueAdmin(ctx context.Context, userID, leagueID string) error
	CheckLeagueModerator(ctx context.Context, userID, leagueID string) error
	CheckOrganizationAdmin(ctx context.Context, userID, organizationID string) error
	CanReadTracker(ctx context.Context, userID, trackerID string) (permission.TrackerAccess, error)
	Permissions(ctx context.Context, userID, guildID string) (permission.GuildPermissions, error)
}

// SettingsService reads and updates guild settings.
type SettingsService interface {
	GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error)
	UpdateGuildRoles(ctx context.Context, guildID string, admin, moderator []domain.RoleRef) (domain.GuildSettings, error)
}

// Auditor records successful mutations.
type Auditor interface {
	Record(ctx context.Context, record domain.AuditRecord)
}

// GuildHandler serves guild, league, organization, tracker and admin endpoints.
type GuildHandler struct {
	authz    Authorizer
	settings SettingsService
	guilds   repository.GuildStore
	audit    Auditor
	logger   *zap.Logger
}

// NewGuildHandler creates the handler set.
func NewGuildHandler(authz Authorizer, settings SettingsService, guilds repository.GuildStore, audit Auditor, logger *zap.Logger) *GuildHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &GuildHandler{authz: authz, settings: settings, guilds: guilds, audit: audit, logger: logger.Named("guild_handler")}
}

// Permissions returns the caller's effective role in a guild.
func (h *GuildHandler) Permissions(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	perms, err := h.authz.Permissions(c.Request.Context(), principal.UserID, c.Param("guildId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isAdmin": perms.IsAdmin, "isModerator": perms.IsModerator})
}

// GetSettings returns the guild's role configuration to its admins.
func (h *GuildHandler) GetSettings(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	guildID := c.Param("guildId")
	if err := h.authz.CheckGuildAdminAccess(c.Request.Context(), principal.UserID, guildID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	settings, err := h.settings.GetGuildSettings(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, settingsBody(settings))
}

type updateRolesRequest struct {
	Admin     []domain.RoleRef `json:"admin"`
	Moderator []domain.RoleRef `json:"moderator"`
}

// UpdateRoles replaces the admin and moderator role lists. It requires the
// Discord-validated admin check.
func (h *GuildHandler) UpdateRoles(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req updateRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid role configuration."})
		return
	}

	ctx := c.Request.Context()
	guildID := c.Param("guildId")
	if err := h.authz.CheckGuildAdmin(ctx, principal.UserID, guildID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	settings, err := h.settings.UpdateGuildRoles(ctx, guildID, req.Admin, req.Moderator)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.audit.Record(ctx, domain.AuditRecord{
		UserID:   principal.UserID,
		GuildID:  &guildID,
		Action:   domain.AuditActionSettingsRolesUpdate,
		Resource: "guild:" + guildID + ":settings",
		Result:   domain.AuditAllowed,
		Metadata: map[string]any{
			"admin_roles":     settings.AdminRoleIDs(),
			"moderator_roles": settings.ModeratorRoleIDs(),
		},
	})
	c.JSON(http.StatusOK, settingsBody(settings))
}

// LeaguePermissions returns the caller's role in the league's guild.
func (h *GuildHandler) LeaguePermissions(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	leagueID := c.Param("leagueId")

	isAdmin, err := allowed(h.authz.CheckLeagueAdmin(ctx, principal.UserID, leagueID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	isModerator := isAdmin
	if !isAdmin {
		if isModerator, err = allowed(h.authz.CheckLeagueModerator(ctx, principal.UserID, leagueID)); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"isAdmin": isAdmin, "isModerator": isModerator})
}

// OrganizationPermissions returns whether the caller administers the organization.
func (h *GuildHandler) OrganizationPermissions(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	isAdmin, err := allowed(h.authz.CheckOrganizationAdmin(c.Request.Context(), principal.UserID, c.Param("organizationId")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isAdmin": isAdmin})
}

// TrackerAccess returns what the caller may do with a tracker.
func (h *GuildHandler) TrackerAccess(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	access, err := h.authz.CanReadTracker(c.Request.Context(), principal.UserID, c.Param("trackerId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canRead": access.CanRead, "canDelete": access.CanDelete})
}

// AdminGuilds lists every guild known to the bot. System admins only.
func (h *GuildHandler) AdminGuilds(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.authz.CheckSystemAdmin(ctx, principal.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	guilds, err := h.guilds.List(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]gin.H, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, gin.H{"id": g.ID, "name": g.Name, "icon": g.Icon, "active": g.Active})
	}
	c.JSON(http.StatusOK, gin.H{"guilds": out})
}

func principalOrAbort(c *gin.Context) (domain.Principal, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
	}
	return principal, ok
}

// allowed turns a check result into a boolean. Plain denials are false;
// not-found and internal failures are returned.
func allowed(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermissionCheck):
		return false, err
	default:
		return false, nil
	}
}

func settingsBody(s domain.GuildSettings) gin.H {
	return gin.H{
		"guildId": s.GuildID,
		"roles": gin.H{
			"admin":     s.Roles.Admin,
			"moderator": s.Roles.Moderator,
		},
		"schemaVersion": s.SchemaVersion,
	}
}
