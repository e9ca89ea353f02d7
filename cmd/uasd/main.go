// Command uasd serves the account and session API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-uas"
	"github.com/goliatone/go-uas/activitymap"
	"github.com/goliatone/go-uas/config"
	"github.com/goliatone/go-uas/denylist"
	"github.com/goliatone/go-uas/metrics"
	"github.com/goliatone/go-uas/repository"
	"github.com/goliatone/go-uas/social"
	"github.com/goliatone/go-uas/social/providers/github"
	"github.com/goliatone/go-uas/social/providers/google"
)

type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	repo     *repository.Manager
	redis    *red.Client
	registry *prometheus.Registry
	auther   *uas.Auther
	http     *uas.HTTPAuthenticator
	srv      *fiber.App
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	configPath := flag.String("config", os.Getenv("UAS_CONFIG_FILE"), "path to a yaml or json config file")
	flag.Parse()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("uasd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithFile(*configPath))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		lgr.Fatal("failed to load config", "error", err)
	}

	fmt.Println(print.MaybeHighlightJSON(map[string]any{
		"server":   cfg.Server,
		"database": map[string]any{"driver": cfg.Database.Driver, "migrate": cfg.Database.Migrate},
		"redis":    cfg.Redis.Addr != "",
		"metrics":  cfg.Metrics,
	}))

	app := &App{
		config:   cfg,
		logger:   lgr,
		registry: prometheus.NewRegistry(),
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Fatal("failed to set up persistence", "error", err)
	}
	defer app.db.Close()

	if err := WithAuth(ctx, app); err != nil {
		lgr.Fatal("failed to set up auth", "error", err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		lgr.Fatal("failed to set up http server", "error", err)
	}

	go func() {
		if err := app.srv.Listen(cfg.Server.Addr); err != nil {
			lgr.Error("http server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	if err := app.srv.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		lgr.Error("graceful shutdown failed", "error", err)
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	dbCfg := app.config.Database

	db, err := uas.OpenDB(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return err
	}

	if dbCfg.Migrate {
		if err := uas.Migrate(ctx, db, uas.WithMigrationLogger(app.GetLogger("uas:migrate"))); err != nil {
			_ = db.Close()
			return err
		}
	}

	repo := repository.NewManager(db)
	if err := repo.Validate(); err != nil {
		_ = db.Close()
		return err
	}

	app.db = db
	app.repo = repo
	return nil
}

func WithAuth(ctx context.Context, app *App) error {
	opts := []uas.AutherOption{
		uas.WithLoggerProvider(app.logger),
	}

	sinks := []uas.ActivitySink{
		uas.NewActivityLogSink(app.repo.ActivityLogs()),
		activitymap.LogSink(app.GetLogger("uas:activity")),
	}
	if app.config.Metrics.Enabled {
		sink, err := metrics.NewSink(metrics.Options{Registerer: app.registry})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	opts = append(opts, uas.WithActivitySink(uas.ActivitySinks(sinks...)))

	if rc := app.config.Redis; rc.Addr != "" {
		client := red.NewClient(&red.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		deny := denylist.NewRedisDenylist(client, rc.KeyPrefix)
		if err := deny.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis denylist: %w", err)
		}
		app.redis = client
		opts = append(opts, uas.WithDenylist(deny))
	}

	app.auther = uas.NewAuther(app.repo, app.config.Auth, opts...)
	app.http = uas.NewHTTPAuthenticator(app.auther).
		WithLogger(app.GetLogger("uas:http"))

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config

	app.srv = fiber.New(fiber.Config{
		AppName:               "uasd",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// routing errors (404, 405) keep fiber's own status
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fiber.Map{"message": fe.Message}})
			}
			return app.http.ErrorHandler(c, err)
		},
	})

	if cfg.Metrics.Enabled {
		httpMetrics, err := metrics.NewHTTPMetrics(metrics.Options{Registerer: app.registry})
		if err != nil {
			return err
		}
		app.srv.Use(httpMetrics.Handler())
		app.srv.Get(cfg.Metrics.Path, metrics.Endpoint(app.registry))
	}

	app.srv.Get("/healthz", func(c *fiber.Ctx) error {
		if err := app.db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	base := "/" + strings.Trim(cfg.Server.BasePath, "/")
	group := app.srv.Group(base)
	app.http.RegisterRoutes(group)

	return WithSocial(app, group.Group("/social"))
}

func WithSocial(app *App, r fiber.Router) error {
	cfg := app.config.Social

	var opts []social.Option
	if cfg.Google.Enabled() {
		opts = append(opts, social.WithProvider(google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  cfg.Google.CallbackURL,
			Scopes:       cfg.Google.Scopes,
		})))
	}
	if cfg.GitHub.Enabled() {
		opts = append(opts, social.WithProvider(github.New(github.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			CallbackURL:  cfg.GitHub.CallbackURL,
			Scopes:       cfg.GitHub.Scopes,
		})))
	}

	if len(opts) == 0 {
		app.GetLogger("uas:social").Info("no social providers configured")
		return nil
	}

	opts = append(opts, social.WithLogger(app.GetLogger("uas:social")))

	authenticator := social.NewAuthenticator(app.auther, app.repo.SocialAccounts(), social.Config{
		DefaultRedirectURL: cfg.DefaultRedirectURL,
		StateEncryptionKey: []byte(cfg.StateEncryptionKey),
		StateHMACKey:       []byte(cfg.StateHMACKey),
		StateTTL:           cfg.StateTTL,
	}, opts...)

	social.NewHTTPController(authenticator, app.http, social.HTTPConfig{
		ErrorRedirect: cfg.ErrorRedirectURL,
		CookieSecure:  app.config.Auth.CookieSecure,
	}).RegisterRoutes(r)

	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
