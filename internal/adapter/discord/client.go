// Package discord is the HTTP gateway to the Discord REST and OAuth2 APIs.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/smallbiznis/guildauth/internal/metrics"
)

const (
	defaultBaseURL        = "https://discord.com/api/v10"
	defaultTimeout        = 10 * time.Second
	defaultInitialBackoff = time.Second
	maxBackoffInterval    = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

// Config configures the Discord client.
type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	BotToken       string
	Scopes         []string
	Timeout        time.Duration
	RetryAttempts  int
	InitialBackoff time.Duration
}

// Client calls Discord with a bounded timeout and retries transient failures
// with exponential backoff. 429 and 401 are surfaced immediately.
type Client struct {
	baseURL        string
	botToken       string
	httpClient     *http.Client
	oauth          *oauth2.Config
	clientID       string
	clientSecret   string
	retryAttempts  int
	initialBackoff time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

// NewClient constructs a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.L()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	retries := cfg.RetryAttempts
	if retries < 0 {
		retries = 0
	}

	return &Client{
		baseURL:    baseURL,
		botToken:   cfg.BotToken,
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/oauth2/authorize",
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		retryAttempts:  retries,
		initialBackoff: initial,
		logger:         logger.Named("discord"),
		metrics:        m,
		tracer:         otel.Tracer("github.com/smallbiznis/guildauth/internal/adapter/discord"),
	}
}

// GetUserProfile returns the user that owns accessToken.
func (c *Client) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	var profile UserProfile
	if _, err := c.getJSON(ctx, "users_me", "/users/@me", bearer(accessToken), false, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetUserGuilds lists the guilds the token owner belongs to.
func (c *Client) GetUserGuilds(ctx context.Context, accessToken string) ([]PartialGuild, error) {
	var guilds []PartialGuild
	if _, err := c.getJSON(ctx, "users_me_guilds", "/users/@me/guilds", bearer(accessToken), false, &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

// GetGuildMember returns the token owner's member object, or nil when Discord
// answers 404 (not a member).
func (c *Client) GetGuildMember(ctx context.Context, accessToken, guildID string) (*GuildMember, error) {
	var member GuildMember
	path := "/users/@me/guilds/" + url.PathEscape(guildID) + "/member"
	found, err := c.getJSON(ctx, "users_me_guild_member", path, bearer(accessToken), true, &member)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if member.Roles == nil {
		member.Roles = []string{}
	}
	return &member, nil
}

// GetGuildRoles lists a guild's roles using the bot token.
func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	if strings.TrimSpace(c.botToken) == "" {
		return nil, fmt.Errorf("%w: bot token not configured", ErrUnauthorized)
	}
	var roles []Role
	path := "/guilds/" + url.PathEscape(guildID) + "/roles"
	if _, err := c.getJSON(ctx, "guild_roles", path, "Bot "+c.botToken, false, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// CheckGuildPermissions reports membership, permission bits and roles for the
// token owner in guildID.
func (c *Client) CheckGuildPermissions(ctx context.Context, accessToken, guildID string) (PermissionCheck, error) {
	guilds, err := c.GetUserGuilds(ctx, accessToken)
	if err != nil {
		return PermissionCheck{}, err
	}
	var match *PartialGuild
	for i := range guilds {
		if guilds[i].ID == guildID {
			match = &guilds[i]
			break
		}
	}
	if match == nil {
		return PermissionCheck{IsMember: false, Roles: []string{}}, nil
	}

	check := PermissionCheck{
		IsMember:         true,
		Permissions:      match.Permissions,
		Roles:            []string{},
		HasAdministrator: match.Owner || HasAdministrator(match.Permissions),
	}
	member, err := c.GetGuildMember(ctx, accessToken, guildID)
	if err != nil {
		return PermissionCheck{}, err
	}
	if member == nil {
		return PermissionCheck{IsMember: false, Roles: []string{}}, nil
	}
	check.Roles = member.Roles
	return check, nil
}

// getJSON performs a GET with the retry policy and decodes a 2xx body into
// out. found is false only when allowNotFound is set and Discord answered 404.
func (c *Client) getJSON(ctx context.Context, endpoint, path, authorization string, allowNotFound bool, out any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "discord."+endpoint)
	defer span.End()

	found, err := c.retry(ctx, endpoint, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", authorization)
		req.Header.Set("Accept", "application/json")
		return c.send(req, allowNotFound, out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("discord.found", found))
	return found, err
}

// send executes one attempt. Errors that must not be retried are wrapped in
// backoff.Permanent.
func (c *Client) send(req *http.Request, allowNotFound bool, out any) (bool, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return false, backoff.Permanent(ctxErr)
		}
		return false, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return false, backoff.Permanent(fmt.Errorf("%w: decode response: %v", ErrUpstreamRejected, err))
			}
		}
		return true, nil
	case status == http.StatusNotFound && allowNotFound:
		return false, nil
	case status == http.StatusTooManyRequests:
		return false, backoff.Permanent(ErrRateLimited)
	case status == http.StatusUnauthorized:
		return false, backoff.Permanent(ErrUnauthorized)
	case status >= 500:
		return false, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, status)
	default:
		return false, backoff.Permanent(fmt.Errorf("%w: status %d", ErrUpstreamRejected, status))
	}
}

// retry runs op up to 1+retryAttempts times with backoff of initial, 2x, 4x...
func (c *Client) retry(ctx context.Context, endpoint string, op backoff.Operation[bool]) (bool, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = maxBackoffInterval

	attempt := 0
	found, err := backoff.Retry(ctx, func() (bool, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.retryAttempts+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("discord request failed, retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if !IsTerminal(err) {
			err = fmt.Errorf("%w: %s after %d attempts: %v", ErrUpstreamUnavailable, endpoint, attempt, err)
		}
		c.metrics.DiscordRequest(endpoint, outcome(err))
		return false, err
	}
	if found {
		c.metrics.DiscordRequest(endpoint, "ok")
	} else {
		c.metrics.DiscordRequest(endpoint, "not_found")
	}
	return found, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUpstreamRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}

func bearer(token string) string {
	return "Bearer " + token
}
