package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
)

// AuthorizeURL builds the Discord consent URL carrying state.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "none"))
}

// ExchangeCode trades an authorization code for a token pair. Codes are single
// use, so the exchange is attempted once.
func (c *Client) ExchangeCode(ctx context.Context, code string) (domainoauth.ExchangedToken, error) {
	ctx, span := c.tracer.Start(ctx, "discord.oauth_token")
	defer span.End()

	token, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		err = classifyTokenError(err)
		span.RecordError(err)
		c.metrics.DiscordRequest("oauth_token", outcome(err))
		return domainoauth.ExchangedToken{}, err
	}
	c.metrics.DiscordRequest("oauth_token", "ok")
	return toExchanged(token), nil
}

// RefreshToken redeems a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domainoauth.ExchangedToken, error) {
	ctx, span := c.tracer.Start(ctx, "discord.oauth_refresh")
	defer span.End()

	source := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		err = classifyTokenError(err)
		span.RecordError(err)
		c.metrics.DiscordRequest("oauth_refresh", outcome(err))
		return domainoauth.ExchangedToken{}, err
	}
	c.metrics.DiscordRequest("oauth_refresh", "ok")
	return toExchanged(token), nil
}

// RevokeToken revokes an access token. A single attempt is made.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	ctx, span := c.tracer.Start(ctx, "discord.oauth_revoke")
	defer span.End()

	form := url.Values{}
	form.Set("token", accessToken)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	if _, err := c.send(req, false, nil); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if !IsTerminal(err) {
			err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		span.RecordError(err)
		c.metrics.DiscordRequest("oauth_revoke", outcome(err))
		return err
	}
	c.metrics.DiscordRequest("oauth_revoke", "ok")
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func classifyTokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		switch status := retrieve.Response.StatusCode; {
		case status == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case status >= 400 && status < 500:
			return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func toExchanged(token *oauth2.Token) domainoauth.ExchangedToken {
	out := domainoauth.ExchangedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}
