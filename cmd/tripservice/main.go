package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/spaceryder/internal/fleet"
	"github.com/example/spaceryder/internal/geo"
	ratelimitmw "github.com/example/spaceryder/internal/http/middleware"
	"github.com/example/spaceryder/internal/notify"
	outboxworker "github.com/example/spaceryder/internal/outbox"
	"github.com/example/spaceryder/internal/queue"
	routehandler "github.com/example/spaceryder/internal/route/handler"
	routesvc "github.com/example/spaceryder/internal/route/service"
	"github.com/example/spaceryder/internal/trip/domain"
	"github.com/example/spaceryder/internal/trip/handler"
	"github.com/example/spaceryder/internal/trip/matching"
	"github.com/example/spaceryder/internal/trip/repository"
	tripservice "github.com/example/spaceryder/internal/trip/service"
	"github.com/example/spaceryder/migrations"
	"github.com/example/spaceryder/pkg/observability"
	outboxpkg "github.com/example/spaceryder/pkg/outbox"
)

type appConfig struct {
	HTTPAddr          string
	GRPCAddr          string
	PostgresDSN       string
	RedisAddr         string
	NATSURL           string
	LogLevel          string
	FleetSeedFile     string
	WorkerConcurrency int
	WorkerPoll        time.Duration
	JobMaxAttempts    int
	JobBackoff        time.Duration
	JobRetention      time.Duration
	JobLease          time.Duration
	CruiseSpeedKMH    float64
	LockTTL           time.Duration
	LockAttempts      int
	LockBackoff       time.Duration
	OutboxPoll        time.Duration
	OutboxBatch       int
	OutboxRetry       int
	RateLimits        ratelimitmw.Policy
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	logger := observability.SetupLogger("trip-service", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "trip-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	seed, err := loadFleet(cfg.FleetSeedFile)
	if err != nil {
		logger.Fatal("load fleet", zap.Error(err))
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		if err := migrate(ctx, db, logger); err != nil {
			logger.Fatal("postgres migrate", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("tripservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	repo, airports, err := buildRepository(ctx, db, redisClient, seed, logger)
	if err != nil {
		logger.Fatal("build repository", zap.Error(err))
	}

	broadcaster := notify.NewBroadcaster(logger.Named("notify"))
	if natsConn != nil && db == nil {
		// Without Postgres there is no outbox table, so events go to NATS directly.
		broadcaster.Subscribe(outboxpkg.NewPublisher(natsConn, repository.EventsTopic))
	}

	calc := geo.NewCalculator(cfg.CruiseSpeedKMH)
	resolver := buildResolver(repo, redisClient, logger, cfg)
	svc := tripservice.New(repo, airports, resolver, broadcaster,
		tripservice.WithLogger(logger.Named("booking")),
		tripservice.WithCalculator(calc),
	)

	backlog := buildBacklog(redisClient, cfg)
	producer := queue.NewProducer(backlog, queue.RetryPolicy{MaxAttempts: cfg.JobMaxAttempts, Backoff: cfg.JobBackoff}, logger.Named("producer"))
	worker := queue.NewWorker(backlog, svc, logger.Named("worker"), queue.WorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPoll,
	})

	limiter := ratelimitmw.NewRateLimiter(redisClientOrNil(redisClient), cfg.RateLimits, logger.Named("ratelimit"))
	tripHTTP := handler.NewHTTP(svc, producer, notify.NewWSHandler(broadcaster, logger.Named("ws")), logger.Named("http"))
	routeHTTP := routehandler.New(routesvc.New(airports, repo, calc))
	fleetHTTP := fleet.NewHTTP(resolver, airports, repo, logger.Named("fleet"))

	r := tripHTTP.Router(limiter.Middleware)
	routeHTTP.Routes(r)
	fleetHTTP.Routes(r)
	r.Mount("/observability", observability.MetricsRouter(readinessChecks(db, redisClient)))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	fleet.RegisterDockingServer(grpcServer, fleet.NewServer(repo, airports, logger.Named("fleet")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("trip service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("docking grpc listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	if db != nil && natsConn != nil {
		relay := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
		})
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Warn("outbox relay disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("trip service stopped", zap.Error(err))
	}
}

func loadFleet(path string) (repository.Fleet, error) {
	if path == "" {
		return repository.DefaultFleet(), nil
	}
	return repository.LoadFleet(path)
}

func migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		logger.Info("migration applied", zap.String("source", res.Source.Path), zap.Duration("duration", res.Duration))
	}
	return nil
}

type repositoryWithAirports interface {
	domain.Repository
	domain.AirportDirectory
	domain.AirportLister
}

func buildRepository(ctx context.Context, db *sql.DB, redisClient *redis.Client, seed repository.Fleet, logger *zap.Logger) (repositoryWithAirports, domain.AirportDirectory, error) {
	var repo repositoryWithAirports
	if db != nil {
		pg := repository.NewPostgresRepository(db)
		if err := pg.SeedFleet(ctx, seed); err != nil {
			return nil, nil, err
		}
		repo = pg
	} else {
		logger.Warn("POSTGRES_DSN not set, using in-memory repository")
		repo = repository.NewMemoryRepository(seed)
	}
	if redisClient == nil {
		return repo, repo, nil
	}
	cache := repository.NewRedisAirportCache(redisClient, "", repo, logger.Named("airports"))
	if err := cache.Warm(ctx, seed.Airports); err != nil {
		logger.Warn("airport cache warm failed", zap.Error(err))
	}
	return repo, cache, nil
}

func buildResolver(vehicles domain.VehicleDirectory, redisClient *redis.Client, logger *zap.Logger, cfg appConfig) *matching.Resolver {
	var locks matching.LocationLock = matching.NewMemoryLocationLock()
	if redisClient != nil {
		locks = matching.NewRedisLocationLock(redisClient, "")
	}
	return matching.NewResolver(vehicles, locks, logger.Named("resolver"), matching.ResolverConfig{
		LockTTL:     cfg.LockTTL,
		MaxAttempts: cfg.LockAttempts,
		Backoff:     cfg.LockBackoff,
	})
}

func buildBacklog(redisClient *redis.Client, cfg appConfig) queue.Backlog {
	if redisClient == nil {
		return queue.NewMemoryBacklog(cfg.JobRetention).WithLease(cfg.JobLease)
	}
	return queue.NewRedisBacklog(redisClient, "", cfg.JobRetention).WithLease(cfg.JobLease)
}

// redisClientOrNil keeps a nil *redis.Client from becoming a non-nil
// redis.Cmdable.
func redisClientOrNil(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}

func readinessChecks(db *sql.DB, redisClient *redis.Client) map[string]observability.Check {
	checks := map[string]observability.Check{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:          getenv("GRPC_ADDR", ":9090"),
		PostgresDSN:       firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		NATSURL:           os.Getenv("NATS_URL"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		FleetSeedFile:     os.Getenv("FLEET_SEED_FILE"),
		WorkerConcurrency: parseIntEnv("WORKER_CONCURRENCY", 10),
		WorkerPoll:        time.Duration(parseIntEnv("WORKER_POLL_MS", 100)) * time.Millisecond,
		JobMaxAttempts:    parseIntEnv("JOB_MAX_ATTEMPTS", 3),
		JobBackoff:        time.Duration(parseIntEnv("JOB_BACKOFF_MS", 500)) * time.Millisecond,
		JobRetention:      time.Duration(parseIntEnv("JOB_RETENTION_SEC", 86400)) * time.Second,
		JobLease:          time.Duration(parseIntEnv("JOB_LEASE_SEC", 30)) * time.Second,
		CruiseSpeedKMH:    parseFloatEnv("CRUISE_SPEED_KMH", geo.DefaultCruiseSpeedKMH),
		LockTTL:           time.Duration(parseIntEnv("LOCATION_LOCK_TTL_MS", 5000)) * time.Millisecond,
		LockAttempts:      parseIntEnv("LOCATION_LOCK_ATTEMPTS", 5),
		LockBackoff:       time.Duration(parseIntEnv("LOCATION_LOCK_BACKOFF_MS", 50)) * time.Millisecond,
		OutboxPoll:        time.Duration(parseIntEnv("OUTBOX_POLL_MS", 200)) * time.Millisecond,
		OutboxBatch:       parseIntEnv("OUTBOX_BATCH", 100),
		OutboxRetry:       parseIntEnv("OUTBOX_RETRY_MAX", 3),
		RateLimits: ratelimitmw.Policy{
			ratelimitmw.ClassRead: {
				Rate:  parseFloatEnv("RATE_READ_RPS", 50),
				Burst: parseFloatEnv("RATE_READ_BURST", 100),
			},
			ratelimitmw.ClassBooking: {
				Rate:  parseFloatEnv("RATE_BOOKING_RPS", 5),
				Burst: parseFloatEnv("RATE_BOOKING_BURST", 10),
			},
			ratelimitmw.ClassControl: {
				Rate:  parseFloatEnv("RATE_CONTROL_RPS", 10),
				Burst: parseFloatEnv("RATE_CONTROL_BURST", 20),
			},
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
