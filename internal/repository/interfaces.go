package repository

import (
	"context"

	"github.com/smallbiznis/guildauth/internal/domain"
)

// UserStore persists Discord users keyed by snowflake ID.
type UserStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, user domain.User) error
	Update(ctx context.Context, id string, patch domain.UserPatch) error
	FindOne(ctx context.Context, id string) (domain.User, error)
}

// TokenStore holds the encrypted Discord token pair owned by a user.
type TokenStore interface {
	GetTokens(ctx context.Context, userID string) (domain.TokenRecord, error)
	SaveTokens(ctx context.Context, userID string, record domain.TokenRecord) error
	ClearTokens(ctx context.Context, userID string) error
}

// GuildMembershipStore exposes cached guild memberships. Upsert must be idempotent.
type GuildMembershipStore interface {
	FindOne(ctx context.Context, userID, guildID string) (domain.GuildMembership, error)
	FindByUser(ctx context.Context, userID string) ([]domain.GuildMembership, error)
	Upsert(ctx context.Context, membership domain.GuildMembership) error
	UpsertMany(ctx context.Context, memberships []domain.GuildMembership) error
	DeleteMany(ctx context.Context, userID string, guildIDs []string) error
}

// GuildStore exposes the guilds the bot is installed in.
type GuildStore interface {
	Exists(ctx context.Context, guildID string) (bool, error)
	FindOne(ctx context.Context, guildID string) (domain.Guild, error)
	FindActiveGuildIDs(ctx context.Context) ([]string, error)
	List(ctx context.Context) ([]domain.Guild, error)
}

// SettingsStore stores JSON settings blobs keyed by (ownerType, ownerID).
type SettingsStore interface {
	GetSettings(ctx context.Context, ownerType, ownerID string) ([]byte, error)
	UpsertSettings(ctx context.Context, ownerType, ownerID string, blob []byte) error
}

// LeagueStore resolves leagues to their owning guild.
type LeagueStore interface {
	FindOne(ctx context.Context, id string) (domain.League, error)
}

// OrganizationStore resolves organizations to their owning guild.
type OrganizationStore interface {
	FindOne(ctx context.Context, id string) (domain.Organization, error)
}

// TrackerStore resolves trackers to their owner.
type TrackerStore interface {
	FindOne(ctx context.Context, id string) (domain.Tracker, error)
}

// AuditSink receives one record per authorization decision.
type AuditSink interface {
	LogAdminAction(ctx context.Context, record domain.AuditRecord) error
}
