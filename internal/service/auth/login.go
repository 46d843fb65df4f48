package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
	"github.com/smallbiznis/guildauth/internal/repository"
)

// Gateway is the Discord surface used during login.
type Gateway interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (domainoauth.ExchangedToken, error)
	GetUserProfile(ctx context.Context, accessToken string) (*discord.UserProfile, error)
}

// TokenVault stores and revokes the user's Discord tokens.
type TokenVault interface {
	Store(ctx context.Context, userID string, token domainoauth.ExchangedToken) error
	Revoke(ctx context.Context, userID string)
}

// GuildSyncer refreshes local memberships from Discord.
type GuildSyncer interface {
	SyncMemberships(ctx context.Context, userID, accessToken string) ([]string, error)
}

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	Issue(user domain.User, guildIDs []string) (string, error)
}

// RedirectValidator checks caller-supplied redirect targets.
type RedirectValidator interface {
	Validate(candidate string) (string, error)
	Fallback() string
}

// SettingsProvider loads canonical guild settings.
type SettingsProvider interface {
	GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error)
}

// RoleChecker evaluates local roles against guild settings.
type RoleChecker interface {
	IsAdmin(ctx context.Context, userRoleIDs []string, settings domain.GuildSettings, validateWithDiscord bool) bool
	IsModerator(ctx context.Context, userRoleIDs []string, settings domain.GuildSettings, validateWithDiscord bool) bool
}

// LoginDependencies groups the LoginService collaborators.
type LoginDependencies struct {
	States      *StateStore
	Redirects   RedirectValidator
	Gateway     Gateway
	Vault       TokenVault
	Guilds      GuildSyncer
	Sessions    SessionIssuer
	Users       repository.UserStore
	Memberships repository.GuildMembershipStore
	GuildStore  repository.GuildStore
	Settings    SettingsProvider
	Roles       RoleChecker
}

// LoginService runs the Discord login flow and the session endpoints.
type LoginService struct {
	deps   LoginDependencies
	logger *zap.Logger
	tracer trace.Tracer
}

// NewLoginService wires the login service.
func NewLoginService(deps LoginDependencies, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.L()
	}
	return &LoginService{
		deps:   deps,
		logger: logger.Named("login"),
		tracer: otel.Tracer("github.com/smallbiznis/guildauth/internal/service/auth"),
	}
}

// StartLogin issues a state and returns the Discord authorize URL.
func (s *LoginService) StartLogin(ctx context.Context) (string, error) {
	state, err := s.deps.States.Issue(ctx)
	if err != nil {
		return "", err
	}
	return s.deps.Gateway.AuthorizeURL(state), nil
}

// HandleCallback completes the login. It never returns an error: every
// failure becomes an error redirect on the outcome.
func (s *LoginService) HandleCallback(ctx context.Context, params domainoauth.CallbackParams) domainoauth.CallbackOutcome {
	ctx, span := s.tracer.Start(ctx, "auth.HandleCallback")
	defer span.End()

	// The redirect target is validated before anything else so that error
	// redirects never point at an unvalidated host.
	redirect, err := s.deps.Redirects.Validate(params.RedirectURI)
	if err != nil {
		s.logger.Warn("rejected redirect uri", zap.String("redirect_uri", params.RedirectURI), zap.Error(err))
		return failure(s.deps.Redirects.Fallback(), domainoauth.ErrorCodeInvalidRedirectURI, "Redirect URI is not allowed")
	}

	if code := strings.TrimSpace(params.Error); code != "" {
		description := strings.TrimSpace(params.ErrorDescription)
		if description == "" {
			description = "Authorization was not granted"
		}
		return failure(redirect, code, description)
	}

	if strings.TrimSpace(params.State) == "" {
		return failure(redirect, domainoauth.ErrorCodeInvalidState, "State parameter missing")
	}
	ok, err := s.deps.States.Consume(ctx, params.State)
	if err != nil {
		s.logger.Error("state lookup failed", zap.Error(err))
	}
	if !ok {
		return failure(redirect, domainoauth.ErrorCodeInvalidState, "Invalid or expired state parameter")
	}

	if strings.TrimSpace(params.Code) == "" {
		return failure(redirect, domainoauth.ErrorCodeNoCode, "No authorization code received")
	}

	token, err := s.deps.Gateway.ExchangeCode(ctx, params.Code)
	if err != nil {
		s.logger.Warn("code exchange failed", zap.Error(err))
		return failure(redirect, domainoauth.ErrorCodeOAuthFailed, "Failed to exchange authorization code")
	}

	user, err := s.completeLogin(ctx, token)
	if err != nil {
		s.logger.Error("login failed", zap.Error(err))
		return failure(redirect, domainoauth.ErrorCodeOAuthFailed, "Failed to complete login")
	}

	guildIDs := s.syncGuilds(ctx, user.ID, token.AccessToken)
	session, err := s.deps.Sessions.Issue(user, guildIDs)
	if err != nil {
		s.logger.Error("issue session failed", zap.String("user_id", user.ID), zap.Error(err))
		return failure(redirect, domainoauth.ErrorCodeOAuthFailed, "Failed to create session")
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.Int("guilds", len(guildIDs)))
	return domainoauth.CallbackOutcome{RedirectURL: frontendURL(redirect, "/auth/callback", nil), Token: session}
}

// completeLogin fetches the profile, upserts the user and stores the tokens.
func (s *LoginService) completeLogin(ctx context.Context, token domainoauth.ExchangedToken) (domain.User, error) {
	profile, err := s.deps.Gateway.GetUserProfile(ctx, token.AccessToken)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	if profile == nil || profile.ID == "" {
		return domain.User{}, fmt.Errorf("fetch profile: %w", domainoauth.ErrTokenInvalid)
	}

	user, err := s.upsertUser(ctx, profile)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.deps.Vault.Store(ctx, user.ID, token); err != nil {
		return domain.User{}, fmt.Errorf("store tokens: %w", err)
	}
	return user, nil
}

func (s *LoginService) upsertUser(ctx context.Context, profile *discord.UserProfile) (domain.User, error) {
	patch := domain.UserPatch{
		Username:   profile.Username,
		GlobalName: deref(profile.GlobalName),
		Avatar:     deref(profile.Avatar),
		Email:      deref(profile.Email),
	}

	exists, err := s.deps.Users.Exists(ctx, profile.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("check user: %w", err)
	}
	if exists {
		if err := s.deps.Users.Update(ctx, profile.ID, patch); err != nil {
			return domain.User{}, fmt.Errorf("update user: %w", err)
		}
	} else {
		if err := s.deps.Users.Create(ctx, domain.User{
			ID:         profile.ID,
			Username:   patch.Username,
			GlobalName: patch.GlobalName,
			Avatar:     patch.Avatar,
			Email:      patch.Email,
		}); err != nil {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}
	}

	user, err := s.deps.Users.FindOne(ctx, profile.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// syncGuilds is best effort. When Discord sync fails the stored memberships
// are used for the session instead.
func (s *LoginService) syncGuilds(ctx context.Context, userID, accessToken string) []string {
	ids, err := s.deps.Guilds.SyncMemberships(ctx, userID, accessToken)
	if err == nil {
		return ids
	}
	s.logger.Warn("guild sync failed", zap.String("user_id", userID), zap.Error(err))

	memberships, err := s.deps.Memberships.FindByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("load stored memberships failed", zap.String("user_id", userID), zap.Error(err))
		return []string{}
	}
	ids = make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.GuildID)
	}
	sort.Strings(ids)
	return ids
}

// Logout revokes the user's Discord tokens. It always succeeds.
func (s *LoginService) Logout(ctx context.Context, userID string) {
	s.deps.Vault.Revoke(ctx, userID)
}

// Me returns the stored profile of the signed-in user.
func (s *LoginService) Me(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.deps.Users.FindOne(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, domainoauth.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// GuildSummary is a mutual guild with the caller's locally computed roles.
type GuildSummary struct {
	ID          string
	Name        string
	Icon        string
	Roles       []string
	IsAdmin     bool
	IsModerator bool
}

// Guilds lists the caller's mutual guilds. Roles come from the stored
// memberships without a live Discord check.
func (s *LoginService) Guilds(ctx context.Context, userID string) ([]GuildSummary, error) {
	memberships, err := s.deps.Memberships.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	out := make([]GuildSummary, 0, len(memberships))
	for _, m := range memberships {
		guild, err := s.deps.GuildStore.FindOne(ctx, m.GuildID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load guild %s: %w", m.GuildID, err)
		}
		if !guild.Active {
			continue
		}
		settings, err := s.deps.Settings.GetGuildSettings(ctx, m.GuildID)
		if err != nil {
			return nil, fmt.Errorf("load settings %s: %w", m.GuildID, err)
		}
		isAdmin := s.deps.Roles.IsAdmin(ctx, m.Roles, settings, false)
		out = append(out, GuildSummary{
			ID:          guild.ID,
			Name:        guild.Name,
			Icon:        guild.Icon,
			Roles:       m.Roles,
			IsAdmin:     isAdmin,
			IsModerator: isAdmin || s.deps.Roles.IsModerator(ctx, m.Roles, settings, false),
		})
	}
	return out, nil
}

// failure builds the frontend error redirect for base.
func failure(base, code, description string) domainoauth.CallbackOutcome {
	q := url.Values{}
	q.Set("error", code)
	q.Set("description", description)
	return domainoauth.CallbackOutcome{
		RedirectURL: frontendURL(base, "/auth/error", q),
		ErrorCode:   code,
		Description: description,
	}
}

// frontendURL appends path to base's path and merges params into its query.
// The query and fragment of base are kept in place.
func frontendURL(base, path string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		if len(params) == 0 {
			return base + path
		}
		return base + path + "?" + params.Encode()
	}
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + path
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			q[key] = values
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
