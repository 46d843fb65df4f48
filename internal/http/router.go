package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/config"
	"github.com/smallbiznis/guildauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/guildauth/internal/http/middleware"
	"github.com/smallbiznis/guildauth/internal/metrics"
	"github.com/smallbiznis/guildauth/internal/middleware"
)

// RouterParams are the router dependencies.
type RouterParams struct {
	fx.In

	Config         config.Config
	Auth           *handler.AuthHandler
	Guilds         *handler.GuildHandler
	AuthMiddleware *httpmiddleware.Auth
	RateLimiter    *middleware.RateLimiter `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	Gatherer       prometheus.Gatherer     `optional:"true"`
	Logger         *zap.Logger
}

// NewRouter wires Gin routes and middleware.
func NewRouter(p RouterParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(p.Logger, p.Metrics))
	r.Use(middleware.CORS(p.Config))
	r.Use(otelgin.Middleware(p.Config.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if p.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{})))
	}

	requireAuth := p.AuthMiddleware.ValidateJWT

	authGroup := r.Group("/auth")
	{
		login := authGroup.Group("/discord", p.RateLimiter.Handler())
		{
			login.GET("", p.Auth.Start)
			login.GET("/callback", p.Auth.Callback)
		}

		authGroup.GET("/me", requireAuth, p.Auth.Me)
		authGroup.GET("/guilds", requireAuth, p.Auth.Guilds)
		authGroup.POST("/logout", requireAuth, p.Auth.Logout)
	}

	guilds := r.Group("/guilds/:guildId", requireAuth)
	{
		guilds.GET("/permissions", p.Guilds.Permissions)
		guilds.GET("/settings", p.Guilds.GetSettings)
		guilds.PUT("/settings/roles", p.Guilds.UpdateRoles)
	}

	r.GET("/leagues/:leagueId/permissions", requireAuth, p.Guilds.LeaguePermissions)
	r.GET("/organizations/:organizationId/permissions", requireAuth, p.Guilds.OrganizationPermissions)
	r.GET("/trackers/:trackerId/access", requireAuth, p.Guilds.TrackerAccess)
	r.GET("/admin/guilds", requireAuth, p.Guilds.AdminGuilds)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
