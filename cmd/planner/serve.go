package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/planner/api/handler"
	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/config"
	"github.com/fastygo/planner/internal/engine"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/infrastructure/buffer"
	"github.com/fastygo/planner/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/planner/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/planner/internal/infrastructure/redis"
	"github.com/fastygo/planner/internal/metrics"
	"github.com/fastygo/planner/internal/middleware"
	"github.com/fastygo/planner/internal/notify"
	"github.com/fastygo/planner/internal/remote"
	"github.com/fastygo/planner/internal/reschedule"
	"github.com/fastygo/planner/internal/router"
	"github.com/fastygo/planner/internal/services"
	"github.com/fastygo/planner/internal/services/lifecycle"
	"github.com/fastygo/planner/pkg/httpcontext"
	"github.com/fastygo/planner/pkg/logger"
	"github.com/fastygo/planner/repository"
	"github.com/fastygo/planner/repository/memory"
	"github.com/fastygo/planner/repository/postgres"
	redisRepo "github.com/fastygo/planner/repository/redis"
	"github.com/fastygo/planner/usecase"
	constraintsUC "github.com/fastygo/planner/usecase/constraints"
	eventUC "github.com/fastygo/planner/usecase/event"
	planUC "github.com/fastygo/planner/usecase/plan"
	taskUC "github.com/fastygo/planner/usecase/task"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP facade and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	dangling, err := graph.ParseDanglingPolicy(cfg.Graph.DanglingDeps)
	if err != nil {
		return err
	}

	appCtx, cancel := context.WithCancel(parent)
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	m := metrics.New()

	client := remote.New(remote.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         cfg.Backend.Timeout,
		ServiceSecret:   cfg.Backend.ServiceSecret,
		TokenTTL:        cfg.Backend.TokenTTL,
		BreakerFailures: uint32(cfg.Backend.BreakerFailures),
		BreakerTimeout:  cfg.Backend.BreakerTimeout,
		BreakerProbes:   uint32(cfg.Backend.BreakerProbes),
	}, zapLogger, remote.WithStateObserver(m.BreakerState))
	m.BreakerState(client.BreakerState())

	bus := notify.NewBus()
	bus.OnDrop(m.ChangeDropped)
	publishers := notify.Fanout{bus}

	var (
		pool     *pgxpool.Pool
		fallback engine.Source
		repos    services.Repositories
		changes  repository.ChangeRepository = memory.NewChangeRepository(0)
	)
	if cfg.Database.Enabled {
		if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
			zapLogger.Error("migrations failed", zap.Error(err))
			return err
		}
		pool, err = pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			zapLogger.Error("postgres connection failed", zap.Error(err))
			return err
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pgInfra.Close(pool, zapLogger)
			return nil
		})
		repos = services.Repositories{
			Tasks:  postgres.NewTaskRepository(pool),
			Plans:  postgres.NewPlanRepository(pool),
			Events: postgres.NewEventRepository(pool),
		}
		fallback = engine.MirrorSource{Tasks: repos.Tasks, Plans: repos.Plans, Events: repos.Events}
		changes = postgres.NewChangeRepository(pool)
	}

	var (
		redisClient *redislib.Client
		jobs        repository.JobRepository = memory.NewJobRepository()
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisInfra.NewClient(cfg.Redis)
		if err != nil {
			zapLogger.Error("redis connection failed", zap.Error(err))
			return err
		}
		manager.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
		jobs = redisRepo.NewJobRepository(redisClient, cfg.Reschedule.JobTTL)
		if cfg.Notify.RedisFanout {
			publishers = append(publishers, notify.NewRedisPublisher(redisClient, cfg.Notify.Origin, zapLogger))
		}
	}

	bufferStore, err := buffer.Open(cfg.Buffer.Path, "mirror")
	if err != nil {
		zapLogger.Error("failed to open buffer store", zap.Error(err))
		return err
	}
	manager.Register("buffer", func(ctx context.Context) error {
		return bufferStore.Close()
	})
	manager.Register("bus", func(ctx context.Context) error {
		bus.Close()
		return nil
	})

	mon := monitor.New(client, pool, redisClient, bufferStore, cfg.Backend.HealthInterval, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	var mirror usecase.Mirror
	if cfg.Database.Enabled {
		processor := services.NewBufferProcessor(bufferStore, mon, repos, m, zapLogger, services.ProcessorConfig{
			Interval:   cfg.Buffer.SyncInterval,
			BatchSize:  50,
			MaxRetries: cfg.Buffer.MaxRetry,
			MaxSize:    cfg.Buffer.MaxSize,
			Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
		})
		processor.Start()
		manager.Register("buffer_processor", func(ctx context.Context) error {
			processor.Stop(ctx)
			return processor.Drain(ctx)
		})
		mirror = services.NewBufferBridge(processor)
	}

	registry := engine.NewRegistry(engine.Options{
		Config: engine.Config{
			Dangling: dangling,
			Strict:   cfg.Graph.StrictRollback,
			Poll: reschedule.PollConfig{
				InitialInterval: cfg.Reschedule.PollInitial,
				MaxInterval:     cfg.Reschedule.PollMax,
				MaxElapsedTime:  cfg.Reschedule.PollMaxElapsed,
			},
			HydrateTimeout: cfg.Graph.HydrateTimeout,
			FetchParallel:  cfg.Graph.FetchParallel,
		},
		Backend:   client,
		Fallback:  fallback,
		Jobs:      jobs,
		Publisher: publishers,
		Observer:  m,
		OnJobState: func(_ string, from, to domain.JobState) {
			m.JobTransition(from, to)
		},
		Logger: zapLogger,
	})
	manager.Register("engine", func(ctx context.Context) error {
		registry.Close()
		return nil
	})

	if cfg.Redis.Enabled && cfg.Notify.RedisFanout {
		relay := notify.NewRelay(redisClient, bus, cfg.Notify.Origin, zapLogger)
		manager.Go("change_relay", relay.Run)
	}
	if cfg.Notify.Audit {
		audit := notify.NewAudit(changes, zapLogger)
		manager.Go("change_audit", func(ctx context.Context) error {
			audit.Run(ctx, bus)
			return nil
		})
	}

	taskUseCase := taskUC.New(registry, client, mirror, publishers, zapLogger)
	planUseCase := planUC.New(registry, client, mirror, publishers, planUC.Config{ArchiveKeep: cfg.Plans.ArchiveKeep}, zapLogger)
	eventUseCase := eventUC.New(registry, client, mirror, publishers, zapLogger)
	constraintsUseCase := constraintsUC.New(client, publishers, zapLogger)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Task:        apiHandler.NewTaskHandler(taskUseCase, ctxAdapter, zapLogger),
		Plan:        apiHandler.NewPlanHandler(planUseCase, ctxAdapter, zapLogger),
		Event:       apiHandler.NewEventHandler(eventUseCase, ctxAdapter, zapLogger),
		Constraints: apiHandler.NewConstraintsHandler(constraintsUseCase, ctxAdapter, zapLogger),
		Changes:     apiHandler.NewChangesHandler(bus, 0, ctxAdapter, zapLogger),
		Health:      apiHandler.NewHealthHandler(mon, client.BreakerState, ctxAdapter, zapLogger),
	}
	if cfg.HTTP.EnableMetrics {
		handlers.Metrics = m.Handler()
	}
	handlers.Pprof = cfg.HTTP.EnablePprof

	authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.ScopeClaim, zapLogger)
	r := router.New(handlers, authMiddleware)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			serveErr <- err
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	var runErr error
	select {
	case <-appCtx.Done():
	case runErr = <-serveErr:
		zapLogger.Error("server crashed", zap.Error(runErr))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
	return runErr
}
