package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/config"
	"github.com/smallbiznis/guildauth/internal/domain"
	domainoauth "github.com/smallbiznis/guildauth/internal/domain/oauth"
	"github.com/smallbiznis/guildauth/internal/http/middleware"
	authsvc "github.com/smallbiznis/guildauth/internal/service/auth"
)

// LoginFlow is the login and session surface used by AuthHandler.
type LoginFlow interface {
	StartLogin(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, params domainoauth.CallbackParams) domainoauth.CallbackOutcome
	Logout(ctx context.Context, userID string)
	Me(ctx context.Context, userID string) (domain.User, error)
	Guilds(ctx context.Context, userID string) ([]authsvc.GuildSummary, error)
}

// CookieOptions controls the session cookie attributes.
type CookieOptions struct {
	SameSite http.SameSite
	Secure   bool
	MaxAge   time.Duration
}

// CookieOptionsFromConfig derives cookie attributes from configuration.
func CookieOptionsFromConfig(cfg config.Config) CookieOptions {
	sameSite := http.SameSiteLaxMode
	switch strings.ToLower(cfg.CookieSameSite) {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}
	return CookieOptions{SameSite: sameSite, Secure: cfg.IsProduction(), MaxAge: cfg.JWTTTL}
}

// AuthHandler serves the Discord login and session endpoints.
type AuthHandler struct {
	Login  LoginFlow
	Cookie CookieOptions
	logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(login LoginFlow, cookie CookieOptions, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{Login: login, Cookie: cookie, logger: logger.Named("auth_handler")}
}

// Start redirects the browser to the Discord authorize page.
func (h *AuthHandler) Start(c *gin.Context) {
	authorizeURL, err := h.Login.StartLogin(c.Request.Context())
	if err != nil {
		h.logger.Error("start login failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Login is temporarily unavailable."})
		return
	}
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback completes the Discord login and redirects to the frontend.
func (h *AuthHandler) Callback(c *gin.Context) {
	outcome := h.Login.HandleCallback(c.Request.Context(), domainoauth.CallbackParams{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
		RedirectURI:      c.Query("redirect_uri"),
	})
	if !outcome.Failed() {
		h.setSessionCookie(c, outcome.Token, int(h.Cookie.MaxAge.Seconds()))
	}
	c.Redirect(http.StatusFound, outcome.RedirectURL)
}

// Me returns the signed-in user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	user, err := h.Login.Me(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"globalName": user.GlobalName,
		"avatar":     user.Avatar,
		"email":      user.Email,
		"guildIds":   principal.GuildIDs,
	})
}

// Guilds lists the caller's mutual guilds.
func (h *AuthHandler) Guilds(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	guilds, err := h.Login.Guilds(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]gin.H, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, gin.H{
			"id":          g.ID,
			"name":        g.Name,
			"icon":        g.Icon,
			"roles":       g.Roles,
			"isAdmin":     g.IsAdmin,
			"isModerator": g.IsModerator,
		})
	}
	c.JSON(http.StatusOK, gin.H{"guilds": out})
}

// Logout revokes the Discord tokens and clears the session cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if principal, ok := middleware.GetPrincipal(c); ok {
		h.Login.Logout(c.Request.Context(), principal.UserID)
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.Cookie.SameSite,
	})
}
