package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/guildauth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserStore            = (*PostgresUserRepo)(nil)
	_ TokenStore           = (*PostgresUserRepo)(nil)
	_ GuildMembershipStore = (*PostgresMembershipRepo)(nil)
	_ GuildStore           = (*PostgresGuildRepo)(nil)
	_ SettingsStore        = (*PostgresSettingsRepo)(nil)
	_ LeagueStore          = (*PostgresLeagueRepo)(nil)
	_ OrganizationStore    = (*PostgresOrganizationRepo)(nil)
	_ TrackerStore         = (*PostgresTrackerRepo)(nil)
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// PostgresUserRepo implements UserStore and TokenStore over the users table.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, global_name, avatar, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    global_name = EXCLUDED.global_name,
		    avatar = EXCLUDED.avatar,
		    email = EXCLUDED.email,
		    updated_at = now()`,
		user.ID, user.Username, user.GlobalName, user.Avatar, user.Email,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, id string, patch domain.UserPatch) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET username = $2,
		    global_name = $3,
		    avatar = $4,
		    email = $5,
		    updated_at = now()
		WHERE id = $1`,
		id, patch.Username, patch.GlobalName, patch.Avatar, patch.Email,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresUserRepo) FindOne(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, global_name, avatar, email, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.GlobalName, &u.Avatar, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, notFound(err, "find user")
	}
	return u, nil
}

func (r *PostgresUserRepo) GetTokens(ctx context.Context, userID string) (domain.TokenRecord, error) {
	var rec domain.TokenRecord
	var updatedAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT access_token_encrypted, refresh_token_encrypted, tokens_updated_at
		FROM users WHERE id = $1`, userID,
	).Scan(&rec.AccessTokenEncrypted, &rec.RefreshTokenEncrypted, &updatedAt)
	if err != nil {
		return domain.TokenRecord{}, notFound(err, "get tokens")
	}
	if updatedAt != nil {
		rec.UpdatedAt = *updatedAt
	}
	return rec, nil
}

func (r *PostgresUserRepo) SaveTokens(ctx context.Context, userID string, record domain.TokenRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET access_token_encrypted = $2,
		    refresh_token_encrypted = $3,
		    tokens_updated_at = $4,
		    updated_at = now()
		WHERE id = $1`,
		userID, record.AccessTokenEncrypted, record.RefreshTokenEncrypted, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save tokens: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresUserRepo) ClearTokens(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET access_token_encrypted = NULL,
		    refresh_token_encrypted = NULL,
		    tokens_updated_at = now(),
		    updated_at = now()
		WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

// PostgresMembershipRepo implements GuildMembershipStore.
type PostgresMembershipRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresMembershipRepo(pool *pgxpool.Pool) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{pool: pool}
}

const upsertMembershipSQL = `
	INSERT INTO guild_memberships (user_id, guild_id, roles, joined_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, guild_id) DO UPDATE
	SET roles = EXCLUDED.roles`

func (r *PostgresMembershipRepo) FindOne(ctx context.Context, userID, guildID string) (domain.GuildMembership, error) {
	var m domain.GuildMembership
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, guild_id, roles, joined_at
		FROM guild_memberships WHERE user_id = $1 AND guild_id = $2`, userID, guildID,
	).Scan(&m.UserID, &m.GuildID, &m.Roles, &m.JoinedAt)
	if err != nil {
		return domain.GuildMembership{}, notFound(err, "find membership")
	}
	return m, nil
}

func (r *PostgresMembershipRepo) FindByUser(ctx context.Context, userID string) ([]domain.GuildMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, guild_id, roles, joined_at
		FROM guild_memberships WHERE user_id = $1 ORDER BY guild_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	memberships, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GuildMembership, error) {
		var m domain.GuildMembership
		err := row.Scan(&m.UserID, &m.GuildID, &m.Roles, &m.JoinedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan memberships: %w", err)
	}
	return memberships, nil
}

func (r *PostgresMembershipRepo) Upsert(ctx context.Context, m domain.GuildMembership) error {
	if _, err := r.pool.Exec(ctx, upsertMembershipSQL, m.UserID, m.GuildID, rolesOrEmpty(m.Roles), joinedAt(m)); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepo) UpsertMany(ctx context.Context, memberships []domain.GuildMembership) error {
	if len(memberships) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range memberships {
		batch.Queue(upsertMembershipSQL, m.UserID, m.GuildID, rolesOrEmpty(m.Roles), joinedAt(m))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert memberships: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepo) DeleteMany(ctx context.Context, userID string, guildIDs []string) error {
	if len(guildIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM guild_memberships WHERE user_id = $1 AND guild_id = ANY($2)`, userID, guildIDs); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	return nil
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

func joinedAt(m domain.GuildMembership) time.Time {
	if m.JoinedAt.IsZero() {
		return time.Now().UTC()
	}
	return m.JoinedAt
}

// PostgresGuildRepo implements GuildStore.
type PostgresGuildRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresGuildRepo(pool *pgxpool.Pool) *PostgresGuildRepo {
	return &PostgresGuildRepo{pool: pool}
}

func (r *PostgresGuildRepo) Exists(ctx context.Context, guildID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM guilds WHERE id = $1)`, guildID).Scan(&exists); err != nil {
		return false, fmt.Errorf("guild exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresGuildRepo) FindOne(ctx context.Context, guildID string) (domain.Guild, error) {
	var g domain.Guild
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, icon, active, created_at, updated_at
		FROM guilds WHERE id = $1`, guildID,
	).Scan(&g.ID, &g.Name, &g.Icon, &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return domain.Guild{}, notFound(err, "find guild")
	}
	return g, nil
}

func (r *PostgresGuildRepo) FindActiveGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM guilds WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active guilds: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active guilds: %w", err)
	}
	return ids, nil
}

func (r *PostgresGuildRepo) List(ctx context.Context) ([]domain.Guild, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, icon, active, created_at, updated_at FROM guilds ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	guilds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Guild, error) {
		var g domain.Guild
		err := row.Scan(&g.ID, &g.Name, &g.Icon, &g.Active, &g.CreatedAt, &g.UpdatedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan guilds: %w", err)
	}
	return guilds, nil
}

// PostgresSettingsRepo implements SettingsStore over the settings table.
type PostgresSettingsRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSettingsRepo(pool *pgxpool.Pool) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{pool: pool}
}

func (r *PostgresSettingsRepo) GetSettings(ctx context.Context, ownerType, ownerID string) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx, `
		SELECT settings FROM settings WHERE owner_type = $1 AND owner_id = $2`, ownerType, ownerID,
	).Scan(&blob)
	if err != nil {
		return nil, notFound(err, "get settings")
	}
	return blob, nil
}

func (r *PostgresSettingsRepo) UpsertSettings(ctx context.Context, ownerType, ownerID string, blob []byte) error {
	if !json.Valid(blob) {
		return fmt.Errorf("upsert settings: %w", domain.ErrInvalidInput)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (owner_type, owner_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, now(), now())
		ON CONFLICT (owner_type, owner_id) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = now()`,
		ownerType, ownerID, string(blob),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// PostgresLeagueRepo implements LeagueStore.
type PostgresLeagueRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLeagueRepo(pool *pgxpool.Pool) *PostgresLeagueRepo {
	return &PostgresLeagueRepo{pool: pool}
}

func (r *PostgresLeagueRepo) FindOne(ctx context.Context, id string) (domain.League, error) {
	var l domain.League
	err := r.pool.QueryRow(ctx, `SELECT id, guild_id, name FROM leagues WHERE id = $1`, id).
		Scan(&l.ID, &l.GuildID, &l.Name)
	if err != nil {
		return domain.League{}, notFound(err, "find league")
	}
	return l, nil
}

// PostgresOrganizationRepo implements OrganizationStore.
type PostgresOrganizationRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresOrganizationRepo(pool *pgxpool.Pool) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{pool: pool}
}

func (r *PostgresOrganizationRepo) FindOne(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.pool.QueryRow(ctx, `
		SELECT o.id, l.guild_id, o.league_id, o.name
		FROM organizations o JOIN leagues l ON l.id = o.league_id
		WHERE o.id = $1`, id,
	).Scan(&o.ID, &o.GuildID, &o.LeagueID, &o.Name)
	if err != nil {
		return domain.Organization{}, notFound(err, "find organization")
	}
	return o, nil
}

// PostgresTrackerRepo implements TrackerStore.
type PostgresTrackerRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTrackerRepo(pool *pgxpool.Pool) *PostgresTrackerRepo {
	return &PostgresTrackerRepo{pool: pool}
}

func (r *PostgresTrackerRepo) FindOne(ctx context.Context, id string) (domain.Tracker, error) {
	var t domain.Tracker
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, name, created_at FROM trackers WHERE id = $1`, id,
	).Scan(&t.ID, &t.OwnerUserID, &t.Name, &t.CreatedAt)
	if err != nil {
		return domain.Tracker{}, notFound(err, "find tracker")
	}
	return t, nil
}
