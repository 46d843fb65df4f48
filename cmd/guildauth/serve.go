package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/adapter/cache"
	"github.com/smallbiznis/guildauth/internal/adapter/discord"
	"github.com/smallbiznis/guildauth/internal/audit"
	"github.com/smallbiznis/guildauth/internal/bootstrap"
	"github.com/smallbiznis/guildauth/internal/config"
	httptransport "github.com/smallbiznis/guildauth/internal/http"
	"github.com/smallbiznis/guildauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/guildauth/internal/http/middleware"
	"github.com/smallbiznis/guildauth/internal/jwt"
	"github.com/smallbiznis/guildauth/internal/metrics"
	apimiddleware "github.com/smallbiznis/guildauth/internal/middleware"
	"github.com/smallbiznis/guildauth/internal/redirecturi"
	"github.com/smallbiznis/guildauth/internal/repository"
	"github.com/smallbiznis/guildauth/internal/secret"
	"github.com/smallbiznis/guildauth/internal/server"
	authservice "github.com/smallbiznis/guildauth/internal/service/auth"
	"github.com/smallbiznis/guildauth/internal/service/guild"
	"github.com/smallbiznis/guildauth/internal/service/permission"
	"github.com/smallbiznis/guildauth/internal/service/settings"
	"github.com/smallbiznis/guildauth/internal/service/token"
	"github.com/smallbiznis/guildauth/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			newApp().Run()
		},
	}
}

func newApp() *fx.App {
	return fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newCache,
			prometheus.NewRegistry,
			func(r *prometheus.Registry) prometheus.Registerer { return r },
			func(r *prometheus.Registry) prometheus.Gatherer { return r },
			metrics.New,
			repository.NewPostgresUserRepo,
			repository.NewPostgresMembershipRepo,
			repository.NewPostgresGuildRepo,
			repository.NewPostgresSettingsRepo,
			repository.NewPostgresLeagueRepo,
			repository.NewPostgresOrganizationRepo,
			repository.NewPostgresTrackerRepo,
			newCipher,
			newDiscordClient,
			newTokenVault,
			newGuildValidator,
			newSettingsService,
			newRoleEvaluator,
			newAuditRecorder,
			newOrchestrator,
			newRedirectValidator,
			newSessionGenerator,
			authservice.NewStateStore,
			newLoginService,
			newRateLimiter,
			newAuthMiddleware,
			newAuthHandler,
			newGuildHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(bootstrap.AutoMigrate, useTelemetry, startHTTPServer),
	)
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

// newCache returns the shared state and membership cache. The memory driver
// only suits single-instance deployments.
func newCache(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.CacheDriver == "memory" {
		logger.Warn("using in-process cache; OAuth state is not shared across instances")
		return cache.NewMemoryCache(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cache.NewRedisCache(client), nil
}

func newCipher(cfg config.Config) (*secret.Cipher, error) {
	return secret.NewCipher(cfg.TokenEncryptionKey)
}

func newDiscordClient(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *discord.Client {
	return discord.NewClient(discord.Config{
		BaseURL:        cfg.DiscordAPIBaseURL,
		ClientID:       cfg.DiscordClientID,
		ClientSecret:   cfg.DiscordClientSecret,
		RedirectURI:    cfg.DiscordRedirectURI,
		BotToken:       cfg.DiscordBotToken,
		Scopes:         cfg.DiscordScopes,
		Timeout:        cfg.DiscordTimeout,
		RetryAttempts:  cfg.DiscordRetryAttempts,
		InitialBackoff: cfg.DiscordRetryBackoff,
	}, nil, logger, m)
}

func newTokenVault(users *repository.PostgresUserRepo, client *discord.Client, cipher *secret.Cipher, logger *zap.Logger) *token.Vault {
	return token.NewVault(users, client, cipher, logger)
}

func newGuildValidator(
	guilds *repository.PostgresGuildRepo,
	memberships *repository.PostgresMembershipRepo,
	vault *token.Vault,
	client *discord.Client,
	c cache.Cache,
	cfg config.Config,
	logger *zap.Logger,
) *guild.Validator {
	return guild.NewValidator(guilds, memberships, vault, client, c, cfg.GuildCacheTTL, logger)
}

func newSettingsService(store *repository.PostgresSettingsRepo, logger *zap.Logger) *settings.Service {
	return settings.NewService(store, logger)
}

func newRoleEvaluator(client *discord.Client, logger *zap.Logger) *permission.RoleEvaluator {
	return permission.NewRoleEvaluator(client, logger)
}

func newAuditRecorder(pool *pgxpool.Pool, node *snowflake.Node, logger *zap.Logger) *audit.Recorder {
	sink := audit.MultiSink{audit.NewPostgresSink(pool), audit.NewLogSink(logger)}
	return audit.NewRecorder(sink, node, logger)
}

type orchestratorParams struct {
	fx.In

	Config        config.Config
	Vault         *token.Vault
	Client        *discord.Client
	Access        *guild.Validator
	Settings      *settings.Service
	Guilds        *repository.PostgresGuildRepo
	Memberships   *repository.PostgresMembershipRepo
	Leagues       *repository.PostgresLeagueRepo
	Organizations *repository.PostgresOrganizationRepo
	Trackers      *repository.PostgresTrackerRepo
	Evaluator     *permission.RoleEvaluator
	Audit         *audit.Recorder
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

func newOrchestrator(p orchestratorParams) *permission.Orchestrator {
	return permission.NewOrchestrator(permission.Dependencies{
		Tokens:        p.Vault,
		Gateway:       p.Client,
		Access:        p.Access,
		Settings:      p.Settings,
		Guilds:        p.Guilds,
		Memberships:   p.Memberships,
		Leagues:       p.Leagues,
		Organizations: p.Organizations,
		Trackers:      p.Trackers,
		Evaluator:     p.Evaluator,
		Auditor:       p.Audit,
		Metrics:       p.Metrics,
	}, p.Config.SystemAdminUserIDs, p.Logger)
}

func newRedirectValidator(cfg config.Config, logger *zap.Logger) *redirecturi.Validator {
	return redirecturi.NewValidator(cfg.AllowedRedirectURIs, cfg.FrontendURL, logger)
}

func newSessionGenerator(cfg config.Config) (*jwt.Generator, error) {
	return jwt.NewGenerator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
}

type loginParams struct {
	fx.In

	States      *authservice.StateStore
	Redirects   *redirecturi.Validator
	Client      *discord.Client
	Vault       *token.Vault
	Guilds      *guild.Validator
	Sessions    *jwt.Generator
	Users       *repository.PostgresUserRepo
	Memberships *repository.PostgresMembershipRepo
	GuildStore  *repository.PostgresGuildRepo
	Settings    *settings.Service
	Evaluator   *permission.RoleEvaluator
	Logger      *zap.Logger
}

func newLoginService(p loginParams) *authservice.LoginService {
	return authservice.NewLoginService(authservice.LoginDependencies{
		States:      p.States,
		Redirects:   p.Redirects,
		Gateway:     p.Client,
		Vault:       p.Vault,
		Guilds:      p.Guilds,
		Sessions:    p.Sessions,
		Users:       p.Users,
		Memberships: p.Memberships,
		GuildStore:  p.GuildStore,
		Settings:    p.Settings,
		Roles:       p.Evaluator,
	}, p.Logger)
}

func newRateLimiter(cfg config.Config, logger *zap.Logger) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM, logger)
}

func newAuthMiddleware(sessions *jwt.Generator) *httpmiddleware.Auth {
	return httpmiddleware.NewAuth(sessions)
}

func newAuthHandler(login *authservice.LoginService, cfg config.Config, logger *zap.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(login, handler.CookieOptionsFromConfig(cfg), logger)
}

func newGuildHandler(
	orch *permission.Orchestrator,
	settingsSvc *settings.Service,
	guilds *repository.PostgresGuildRepo,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *handler.GuildHandler {
	return handler.NewGuildHandler(orch, settingsSvc, guilds, recorder, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
