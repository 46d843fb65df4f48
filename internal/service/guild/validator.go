// Package guild confirms mutual guild membership between the bot and users.
package guild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/guildauth/internal/adapter/cache"
	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/repository"
)

const (
	activeGuildsKey    = "guilds:active"
	defaultCacheTTL    = 5 * time.Minute
	memberFetchWorkers = 4
)

// Discord is the subset of the Discord client used for membership checks.
type Discord interface {
	GetUserGuilds(ctx context.Context, accessToken string) ([]discord.PartialGuild, error)
	GetGuildMember(ctx context.Context, accessToken, guildID string) (*discord.GuildMember, error)
	CheckGuildPermissions(ctx context.Context, accessToken, guildID string) (discord.PermissionCheck, error)
}

// TokenProvider yields a usable Discord access token for a user.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Validator implements the guild access check and login membership sync.
type Validator struct {
	guilds      repository.GuildStore
	memberships repository.GuildMembershipStore
	tokens      TokenProvider
	discord     Discord
	cache       cache.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewValidator constructs a Validator. c may be nil to disable memoization.
func NewValidator(
	guilds repository.GuildStore,
	memberships repository.GuildMembershipStore,
	tokens TokenProvider,
	d Discord,
	c cache.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *Validator {
	if logger == nil {
		logger = zap.L()
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Validator{
		guilds:      guilds,
		memberships: memberships,
		tokens:      tokens,
		discord:     d,
		cache:       c,
		cacheTTL:    cacheTTL,
		logger:      logger.Named("guild_access"),
		tracer:      otel.Tracer("github.com/smallbiznis/guildauth/internal/service/guild"),
	}
}

// ValidateAccess succeeds when guildID is tracked and userID is a member.
// Unknown guilds fail with domain.ErrGuildNotFound before any per-user lookup.
// A local membership row is trusted as-is; otherwise Discord is consulted and
// a confirmed membership is written back. Anything that prevents confirmation
// fails with domain.ErrNotAMember.
func (v *Validator) ValidateAccess(ctx context.Context, userID, guildID string) error {
	ctx, span := v.tracer.Start(ctx, "guild.ValidateAccess", trace.WithAttributes(
		attribute.String("guild.id", guildID),
	))
	defer span.End()

	exists, err := v.guilds.Exists(ctx, guildID)
	if err != nil {
		return fmt.Errorf("check guild: %w", err)
	}
	if !exists {
		return domain.ErrGuildNotFound
	}

	if _, err := v.memberships.FindOne(ctx, userID, guildID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load membership: %w", err)
	}

	if err := v.confirmWithDiscord(ctx, userID, guildID); err != nil {
		v.logger.Info("guild access denied",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
		return domain.ErrNotAMember
	}
	return nil
}

func (v *Validator) confirmWithDiscord(ctx context.Context, userID, guildID string) error {
	accessToken, err := v.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}
	check, err := v.discord.CheckGuildPermissions(ctx, accessToken, guildID)
	if err != nil {
		return err
	}
	if !check.IsMember {
		return domain.ErrNotAMember
	}
	err = v.memberships.Upsert(ctx, domain.GuildMembership{
		UserID:   userID,
		GuildID:  guildID,
		Roles:    check.Roles,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist membership: %w", err)
	}
	v.logger.Info("guild membership synced from discord",
		zap.String("user_id", userID),
		zap.String("guild_id", guildID),
		zap.Int("roles", len(check.Roles)),
	)
	return nil
}

// ActiveGuildIDs returns the bot's active guild IDs, memoized in the cache.
func (v *Validator) ActiveGuildIDs(ctx context.Context) ([]string, error) {
	if v.cache != nil {
		if raw, err := v.cache.Get(ctx, activeGuildsKey); err == nil {
			var ids []string
			if jsonErr := json.Unmarshal(raw, &ids); jsonErr == nil {
				return ids, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			v.logger.Warn("guild cache read failed", zap.Error(err))
		}
	}

	ids, err := v.guilds.FindActiveGuildIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active guilds: %w", err)
	}
	if v.cache != nil {
		if raw, err := json.Marshal(ids); err == nil {
			if err := v.cache.Set(ctx, activeGuildsKey, raw, v.cacheTTL); err != nil {
				v.logger.Warn("guild cache write failed", zap.Error(err))
			}
		}
	}
	return ids, nil
}

// SyncMemberships reconciles the user's membership rows with Discord during
// login and returns the mutual guild IDs. Guilds whose member lookup fails keep
// their existing row.
func (v *Validator) SyncMemberships(ctx context.Context, userID, accessToken string) ([]string, error) {
	ctx, span := v.tracer.Start(ctx, "guild.SyncMemberships")
	defer span.End()

	userGuilds, err := v.discord.GetUserGuilds(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch user guilds: %w", err)
	}
	activeIDs, err := v.ActiveGuildIDs(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}
	var candidates []string
	for _, g := range userGuilds {
		if _, ok := active[g.ID]; ok {
			candidates = append(candidates, g.ID)
		}
	}

	type memberResult struct {
		guildID string
		member  *discord.GuildMember
		err     error
	}
	results := make([]memberResult, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(memberFetchWorkers)
	for i, guildID := range candidates {
		group.Go(func() error {
			member, err := v.discord.GetGuildMember(groupCtx, accessToken, guildID)
			results[i] = memberResult{guildID: guildID, member: member, err: err}
			return nil
		})
	}
	_ = group.Wait()

	now := time.Now().UTC()
	mutual := make([]string, 0, len(results))
	upserts := make([]domain.GuildMembership, 0, len(results))
	for _, r := range results {
		switch {
		case r.err != nil:
			v.logger.Warn("guild member lookup failed, keeping cached roles",
				zap.String("user_id", userID),
				zap.String("guild_id", r.guildID),
				zap.Error(r.err),
			)
			mutual = append(mutual, r.guildID)
		case r.member == nil:
		default:
			mutual = append(mutual, r.guildID)
			upserts = append(upserts, domain.GuildMembership{
				UserID:   userID,
				GuildID:  r.guildID,
				Roles:    r.member.Roles,
				JoinedAt: now,
			})
		}
	}
	if err := v.memberships.UpsertMany(ctx, upserts); err != nil {
		return nil, fmt.Errorf("upsert memberships: %w", err)
	}

	existing, err := v.memberships.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	keep := make(map[string]struct{}, len(mutual))
	for _, id := range mutual {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, m := range existing {
		if _, ok := keep[m.GuildID]; !ok {
			stale = append(stale, m.GuildID)
		}
	}
	if err := v.memberships.DeleteMany(ctx, userID, stale); err != nil {
		return nil, fmt.Errorf("delete stale memberships: %w", err)
	}

	sort.Strings(mutual)
	v.logger.Info("guild memberships synced",
		zap.String("user_id", userID),
		zap.Int("mutual", len(mutual)),
		zap.Int("removed", len(stale)),
	)
	return mutual, nil
}
