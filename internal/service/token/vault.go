// Package token keeps users' Discord OAuth tokens encrypted at rest and
// refreshes them lazily.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
	"github.com/smallbiznis/guildauth/internal/repository"
)

// Gateway is the subset of the Discord client the vault needs.
type Gateway interface {
	GetUserProfile(ctx context.Context, accessToken string) (*discord.UserProfile, error)
	RefreshToken(ctx context.Context, refreshToken string) (domainoauth.ExchangedToken, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

// Cipher seals token strings.
type Cipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Vault implements lazy validate, refresh and revoke over the token store.
type Vault struct {
	store   repository.TokenStore
	gateway Gateway
	cipher  Cipher
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	refreshes singleflight.Group
}

// NewVault constructs a Vault.
func NewVault(store repository.TokenStore, gateway Gateway, cipher Cipher, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.L()
	}
	return &Vault{
		store:   store,
		gateway: gateway,
		cipher:  cipher,
		logger:  logger.Named("token_vault"),
		tracer:  otel.Tracer("github.com/smallbiznis/guildauth/internal/service/token"),
		now:     time.Now,
	}
}

// Store encrypts and persists a freshly exchanged token pair.
func (v *Vault) Store(ctx context.Context, userID string, token domainoauth.ExchangedToken) error {
	record, err := v.seal(token)
	if err != nil {
		return err
	}
	if err := v.store.SaveTokens(ctx, userID, record); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	return nil
}

// Validate reports whether Discord accepts accessToken. It never fails.
func (v *Vault) Validate(ctx context.Context, accessToken string) bool {
	if accessToken == "" {
		return false
	}
	if _, err := v.gateway.GetUserProfile(ctx, accessToken); err != nil {
		v.logger.Debug("access token rejected", zap.Error(err))
		return false
	}
	return true
}

// GetValidAccessToken returns a usable access token for userID, refreshing it
// when Discord rejects the stored one. It returns domain.ErrTokenUnavailable
// when no usable token can be produced.
func (v *Vault) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	ctx, span := v.tracer.Start(ctx, "token.GetValidAccessToken")
	defer span.End()

	record, err := v.store.GetTokens(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrTokenUnavailable
		}
		return "", fmt.Errorf("load tokens: %w", err)
	}
	if !record.HasAccessToken() {
		return "", domain.ErrTokenUnavailable
	}

	accessToken, err := v.cipher.Decrypt(record.AccessTokenEncrypted)
	if err != nil {
		v.logger.Warn("stored access token unreadable, refreshing", zap.String("user_id", userID), zap.Error(err))
		return v.Refresh(ctx, userID)
	}
	if v.Validate(ctx, accessToken) {
		return accessToken, nil
	}
	return v.Refresh(ctx, userID)
}

// Refresh redeems the stored refresh token. Concurrent refreshes for the same
// user share one Discord call. On failure stored tokens are left untouched and
// domain.ErrTokenUnavailable is returned.
func (v *Vault) Refresh(ctx context.Context, userID string) (string, error) {
	result, err, shared := v.refreshes.Do(userID, func() (any, error) {
		return v.refresh(context.WithoutCancel(ctx), userID)
	})
	if shared {
		v.logger.Debug("joined in-flight token refresh", zap.String("user_id", userID))
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (v *Vault) refresh(ctx context.Context, userID string) (string, error) {
	ctx, span := v.tracer.Start(ctx, "token.Refresh")
	defer span.End()

	record, err := v.store.GetTokens(ctx, userID)
	if err != nil || !record.HasRefreshToken() {
		return "", domain.ErrTokenUnavailable
	}
	refreshToken, err := v.cipher.Decrypt(record.RefreshTokenEncrypted)
	if err != nil {
		v.logger.Warn("stored refresh token unreadable", zap.String("user_id", userID), zap.Error(err))
		return "", domain.ErrTokenUnavailable
	}

	exchanged, err := v.gateway.RefreshToken(ctx, refreshToken)
	if err != nil {
		v.logger.Warn("token refresh failed", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrTokenUnavailable, err)
	}
	if exchanged.RefreshToken == "" {
		exchanged.RefreshToken = refreshToken
	}

	sealed, err := v.seal(exchanged)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTokenUnavailable, err)
	}
	if err := v.store.SaveTokens(ctx, userID, sealed); err != nil {
		v.logger.Error("persist refreshed tokens failed", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrTokenUnavailable, err)
	}
	v.logger.Info("discord token refreshed", zap.String("user_id", userID))
	return exchanged.AccessToken, nil
}

// Revoke best-effort revokes the access token upstream and always clears the
// stored pair.
func (v *Vault) Revoke(ctx context.Context, userID string) {
	ctx, span := v.tracer.Start(ctx, "token.Revoke")
	defer span.End()

	record, err := v.store.GetTokens(ctx, userID)
	if err == nil && record.HasAccessToken() {
		if accessToken, decErr := v.cipher.Decrypt(record.AccessTokenEncrypted); decErr == nil {
			if revErr := v.gateway.RevokeToken(ctx, accessToken); revErr != nil {
				v.logger.Warn("discord token revoke failed", zap.String("user_id", userID), zap.Error(revErr))
			}
		}
	}
	if err := v.store.ClearTokens(ctx, userID); err != nil {
		v.logger.Error("clear stored tokens failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (v *Vault) seal(token domainoauth.ExchangedToken) (domain.TokenRecord, error) {
	access, err := v.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("encrypt access token: %w", err)
	}
	var refresh []byte
	if token.RefreshToken != "" {
		refresh, err = v.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return domain.TokenRecord{}, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return domain.TokenRecord{
		AccessTokenEncrypted:  access,
		RefreshTokenEncrypted: refresh,
		UpdatedAt:             v.now().UTC(),
	}, nil
}
