// Package permission decides admin and moderator access for guild-scoped resources.
package permission

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
)

// RoleLookup lists a guild's live Discord roles.
type RoleLookup interface {
	GetGuildRoles(ctx context.Context, guildID string) ([]discord.Role, error)
}

// RoleEvaluator matches a user's role IDs against a guild's configured roles.
// An empty configured list never matches.
type RoleEvaluator struct {
	roles  RoleLookup
	logger *zap.Logger
}

func NewRoleEvaluator(roles RoleLookup, logger *zap.Logger) *RoleEvaluator {
	if logger == nil {
		logger = zap.L()
	}
	return &RoleEvaluator{roles: roles, logger: logger.Named("role_evaluator")}
}

// IsAdmin reports whether userRoleIDs include a configured admin role. With
// validateWithDiscord, a match only counts if the role still exists in the
// live guild.
func (e *RoleEvaluator) IsAdmin(ctx context.Context, userRoleIDs []string, settings domain.GuildSettings, validateWithDiscord bool) bool {
	return e.evaluate(ctx, "admin", userRoleIDs, settings.GuildID, settings.AdminRoleIDs(), validateWithDiscord)
}

// IsModerator is IsAdmin for the moderator role list.
func (e *RoleEvaluator) IsModerator(ctx context.Context, userRoleIDs []string, settings domain.GuildSettings, validateWithDiscord bool) bool {
	return e.evaluate(ctx, "moderator", userRoleIDs, settings.GuildID, settings.ModeratorRoleIDs(), validateWithDiscord)
}

func (e *RoleEvaluator) evaluate(ctx context.Context, kind string, userRoleIDs []string, guildID string, configured []string, validateWithDiscord bool) bool {
	if len(configured) == 0 || len(userRoleIDs) == 0 {
		return false
	}
	matched := intersect(userRoleIDs, configured)
	if len(matched) == 0 {
		return false
	}
	if !validateWithDiscord {
		return true
	}

	if e.roles == nil {
		e.logger.Warn("live role validation unavailable", zap.String("guild_id", guildID))
		return false
	}
	live, err := e.roles.GetGuildRoles(ctx, guildID)
	if err != nil {
		e.logger.Warn("live role lookup failed, denying",
			zap.String("guild_id", guildID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return false
	}
	existing := make(map[string]struct{}, len(live))
	for _, role := range live {
		existing[role.ID] = struct{}{}
	}
	for _, id := range matched {
		if _, ok := existing[id]; ok {
			return true
		}
	}
	e.logger.Info("configured role no longer exists in guild",
		zap.String("guild_id", guildID),
		zap.String("kind", kind),
		zap.Strings("stale_role_ids", matched),
	)
	return false
}

func intersect(have, want []string) []string {
	set := make(map[string]struct{}, len(want))
	for _, id := range want {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range have {
		if _, ok := set[id]; ok {
			out = append(out, id)
			delete(set, id)
		}
	}
	return out
}
