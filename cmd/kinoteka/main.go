package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kinoteka/kinoteka/cmd/kinoteka/cli"
	"github.com/kinoteka/kinoteka/internal/app"
	"github.com/kinoteka/kinoteka/internal/audit"
	audithttp "github.com/kinoteka/kinoteka/internal/audit/http"
	"github.com/kinoteka/kinoteka/internal/auth"
	"github.com/kinoteka/kinoteka/internal/authz"
	jobmetrics "github.com/kinoteka/kinoteka/internal/jobs"
	"github.com/kinoteka/kinoteka/internal/observability"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/ratelimit"
	"github.com/kinoteka/kinoteka/internal/rbac"
	"github.com/kinoteka/kinoteka/internal/roles"
	"github.com/kinoteka/kinoteka/internal/users"
	"github.com/kinoteka/kinoteka/jobs"
	"github.com/kinoteka/kinoteka/migrations"
)

const usage = `usage: kinoteka [serve | migrate | seed -email ADDR [-name NAME] | jobs inspect]`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	code := run(ctx, cfg, logger, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "jobs" {
		if len(args) == 0 || args[0] != "inspect" {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.InspectCommand(os.Stdout, os.Stderr)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	switch command {
	case "migrate":
		if err := db.Migrate(pool, migrations.FS, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
		return 0
	case "seed":
		fs := flag.NewFlagSet("seed", flag.ContinueOnError)
		email := fs.String("email", "", "bootstrap super admin email")
		name := fs.String("name", "Administrator", "bootstrap super admin display name")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return cli.RunSeed(ctx, pool, cli.SeedOptions{
			AdminEmail:    *email,
			AdminName:     *name,
			AdminPassword: os.Getenv("KINOTEKA_ADMIN_PASSWORD"),
		})
	case "serve":
		if err := serve(ctx, cfg, logger, pool); err != nil {
			logger.Error("serve", slog.Any("error", err))
			return 1
		}
		return 0
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(pool, migrations.FS, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.RateLimitBackend == "redis" || cfg.AuditMode == "queue" {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	metrics := observability.NewMetrics()

	var recorder audit.Recorder = audit.NewStore(pool)
	if cfg.AuditMode == "queue" {
		queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		recorder = jobs.NewAuditPublisher(queue, jobmetrics.NewMetrics(metrics.Registerer()))
	}
	sink := audit.NewSink(recorder, logger, metrics)

	var counters authz.CounterStore
	if cfg.RateLimitBackend == "redis" {
		counters = ratelimit.NewRedis(redisClient, "kinoteka:throttle:")
	} else {
		mem := ratelimit.NewMemory()
		g.Go(func() error {
			mem.Run(ctx, time.Minute)
			return nil
		})
		counters = mem
	}
	throttle := authz.NewThrottle(counters, cfg.BulkDestructiveLimit, cfg.BulkDestructiveWindow)

	rbacService := rbac.NewService(rbac.NewRepository(pool), sink)
	rbacMiddleware := rbac.Middleware{Resolver: rbacService, Logger: logger}

	rolesService := roles.NewService(roles.NewRepository(pool), sink)
	usersService := users.NewService(users.NewRepository(pool), authz.NewGuard(throttle), sink, metrics)
	authService := auth.NewService(auth.NewRepository(pool), auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL))
	auditService := audit.NewService(audit.NewStore(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        auth.NewHandler(logger, authService),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacService),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_mode", cfg.AuditMode), slog.String("rate_limit_backend", cfg.RateLimitBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
