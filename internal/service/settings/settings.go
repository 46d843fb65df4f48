// Package settings loads and updates per-guild settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/repository"
)

// Service reads guild settings, creating defaults on first access.
type Service struct {
	store  repository.SettingsStore
	logger *zap.Logger
}

func NewService(store repository.SettingsStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{store: store, logger: logger.Named("guild_settings")}
}

// GetGuildSettings returns the canonical settings for guildID. A missing row is
// created with defaults.
func (s *Service) GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	blob, err := s.store.GetSettings(ctx, domain.SettingsOwnerGuild, guildID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("guild settings missing, initializing defaults", zap.String("guild_id", guildID))
		defaults := domain.DefaultGuildSettings(guildID)
		if err := s.save(ctx, defaults); err != nil {
			return domain.GuildSettings{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return domain.GuildSettings{}, fmt.Errorf("load guild settings: %w", err)
	}
	return domain.DecodeGuildSettings(guildID, blob)
}

// UpdateGuildRoles replaces the admin and moderator role lists.
func (s *Service) UpdateGuildRoles(ctx context.Context, guildID string, admin, moderator []domain.RoleRef) (domain.GuildSettings, error) {
	current, err := s.GetGuildSettings(ctx, guildID)
	if err != nil {
		return domain.GuildSettings{}, err
	}
	if current.Roles.Admin, err = cleanRoles(admin); err != nil {
		return domain.GuildSettings{}, err
	}
	if current.Roles.Moderator, err = cleanRoles(moderator); err != nil {
		return domain.GuildSettings{}, err
	}
	current.SchemaVersion = domain.SettingsSchemaVersion
	if err := s.save(ctx, current); err != nil {
		return domain.GuildSettings{}, err
	}
	s.logger.Info("guild roles updated",
		zap.String("guild_id", guildID),
		zap.Int("admin_roles", len(current.Roles.Admin)),
		zap.Int("moderator_roles", len(current.Roles.Moderator)),
	)
	return current, nil
}

func (s *Service) save(ctx context.Context, settings domain.GuildSettings) error {
	blob, err := domain.EncodeGuildSettings(settings)
	if err != nil {
		return err
	}
	if err := s.store.UpsertSettings(ctx, domain.SettingsOwnerGuild, settings.GuildID, blob); err != nil {
		return fmt.Errorf("save guild settings: %w", err)
	}
	return nil
}

func cleanRoles(refs []domain.RoleRef) ([]domain.RoleRef, error) {
	out := make([]domain.RoleRef, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref.ID = strings.TrimSpace(ref.ID)
		ref.Name = strings.TrimSpace(ref.Name)
		if ref.ID == "" {
			return nil, fmt.Errorf("%w: role id is required", domain.ErrInvalidInput)
		}
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}
