package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fireedge.io/gateway/internal/api"
	"fireedge.io/gateway/internal/auth"
	"fireedge.io/gateway/internal/config"
	"fireedge.io/gateway/internal/engine"
	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/internal/oneflow"
	"fireedge.io/gateway/internal/provision"
	"fireedge.io/gateway/internal/ratelimit"
	"fireedge.io/gateway/internal/store"
	"fireedge.io/gateway/internal/support"
	"fireedge.io/gateway/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API gateway",
	Long: `Start the HTTP API gateway.

The server will:
  - Load configuration from the file, FIREEDGE_* variables and flags
  - Open (and migrate) the SQLite store
  - Mark provision jobs left over by a previous run as interrupted
  - Serve the console API, health probes and Prometheus metrics
  - Prune expired sessions periodically
  - Shut down gracefully on SIGTERM/SIGINT, cancelling running provision jobs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// gateway holds everything serve builds from the configuration.
type gateway struct {
	db        *sql.DB
	auth      *auth.Service
	limiter   *ratelimit.Limiter
	provision *provision.Manager
	router    *api.Router
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := metrics.Init(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	logger.Info("starting fireedge-server",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("listen_addr", cfg.Server.Listen),
		zap.String("engine", cfg.Engine.Endpoint),
		zap.Bool("support", cfg.Support.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.db.Close()
	defer gw.limiter.Stop()
	defer gw.router.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		pruneSessions(gctx, gw.auth, cfg.Auth.PruneInterval, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := gw.provision.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	clock := clockwork.NewRealClock()
	sessions := store.NewSessionStore(db, clock, store.WithSealedCredentials(cfg.Auth.HMACSecret))
	jobs := store.NewJobStore(db, clock)

	if n, err := jobs.MarkInterrupted(ctx); err != nil {
		db.Close()
		return nil, err
	} else if n > 0 {
		logger.Warn("marked provision jobs from a previous run as interrupted", zap.Int64("jobs", n))
	}

	limits := ratelimit.DefaultConfig()
	limits.AuthFailuresPerMin = cfg.Auth.LoginFailuresPerMin
	limiter := ratelimit.NewLimiter(limits, clock)

	engineBreaker := upstream.NewBreaker(engine.Name, upstream.BreakerSettings{}, logger)
	engineClient, err := engine.NewClient(engine.Options{
		Endpoint: cfg.Engine.Endpoint,
		Timeout:  cfg.Engine.Timeout,
		Breaker:  engineBreaker,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		limiter.Stop()
		return nil, err
	}

	flow := oneflow.NewClient(upstream.NewREST(oneflow.Name, cfg.OneFlow.Endpoint,
		upstream.NewHTTPClient(upstream.HTTPOptions{
			Timeout:      cfg.OneFlow.Timeout,
			RetryMax:     cfg.OneFlow.RetryMax,
			RetryWaitMin: cfg.OneFlow.RetryWaitMin,
			RetryWaitMax: cfg.OneFlow.RetryWaitMax,
			Logger:       logger,
		}),
		upstream.NewBreaker(oneflow.Name, upstream.BreakerSettings{}, logger)))

	var tickets *support.Client
	if cfg.Support.Enabled {
		tickets = support.NewClient(upstream.NewREST(support.Name, cfg.Support.Endpoint,
			upstream.NewHTTPClient(upstream.HTTPOptions{
				Timeout:  cfg.Support.Timeout,
				RetryMax: 1,
				Logger:   logger,
			}),
			upstream.NewBreaker(support.Name, upstream.BreakerSettings{}, logger)), sessions)
	}

	runner := provision.NewRunner(provision.RunnerOptions{
		ProvisionCommand: cfg.Provision.Command,
		ProviderCommand:  cfg.Provision.ProviderCommand,
		Endpoint:         cfg.Engine.Endpoint,
		Timeout:          cfg.Provision.SyncTimeout,
		Logger:           logger,
	})
	manager, err := provision.NewManager(provision.ManagerOptions{
		LogDir:        cfg.Provision.LogDir,
		MaxConcurrent: cfg.Provision.MaxConcurrent,
		JobTimeout:    cfg.Provision.JobTimeout,
		StopGrace:     cfg.Provision.StopGrace,
	}, runner, jobs, provision.NewMapping(cfg.Provision.MappingFile), clock, logger)
	if err != nil {
		db.Close()
		limiter.Stop()
		return nil, err
	}

	authService := auth.NewService(auth.Options{
		Secret:      cfg.Auth.HMACSecret,
		SessionTTL:  cfg.Auth.SessionTTL,
		RememberTTL: cfg.Auth.RememberTTL,
	}, engineClient, sessions, limiter, clock, logger)

	router := api.SetupRouter(&api.RouterConfig{
		DB:             db,
		Logger:         logger,
		Version:        Version,
		AllowOrigins:   cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Auth:           authService,
		Limiter:        limiter,
		Dispatcher:     engine.NewDispatcher(engineClient, engine.DefaultRegistry()),
		Engine:         engineBreaker,
		OneFlow:        flow,
		Support:        tickets,
		Provision:      manager,
	})

	return &gateway{
		db:        db,
		auth:      authService,
		limiter:   limiter,
		provision: manager,
		router:    router,
	}, nil
}

// pruneSessions deletes expired sessions every interval until ctx ends.
func pruneSessions(ctx context.Context, svc *auth.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Prune(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("session pruning failed", zap.Error(err))
			}
		}
	}
}
