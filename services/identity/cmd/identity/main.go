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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sonowtf/sono/libs/health"
	"github.com/sonowtf/sono/libs/kafka"
	"github.com/sonowtf/sono/libs/logging"
	"github.com/sonowtf/sono/libs/metrics"
	"github.com/sonowtf/sono/libs/trace"
	"github.com/sonowtf/sono/services/identity/internal/config"
	"github.com/sonowtf/sono/services/identity/internal/handlers"
	"github.com/sonowtf/sono/services/identity/internal/lifecycle"
	"github.com/sonowtf/sono/services/identity/internal/maintenance"
	"github.com/sonowtf/sono/services/identity/internal/notify"
	"github.com/sonowtf/sono/services/identity/internal/objectstore"
	"github.com/sonowtf/sono/services/identity/internal/rate"
	"github.com/sonowtf/sono/services/identity/internal/reset"
	"github.com/sonowtf/sono/services/identity/internal/revocation"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
	"github.com/sonowtf/sono/services/identity/internal/tokens"
)

type notifier interface {
	notify.Notifier
	notify.EventPublisher
}

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Version, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.DB.MigrateOnBoot || *migrateOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := storage.Migrate(ctx, cfg.DB.DSN())
		cancel()
		if err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
		if *migrateOnly {
			return
		}
	}

	registry := metrics.NewRegistry()
	telem := telemetry.New(registry)
	ready := health.NewManager(true)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := storage.New(pool)
	ready.AddCheck("postgres", store.Ping)

	redisClient, err := connectRedis(cfg, logger)
	if err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var (
		limiter rate.Limiter
		revoked revocation.Registry
	)
	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
		ready.AddCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		limiter = rate.NewRedisLimiter(redisClient, cfg.Redis.Prefix+"rl:")
		revoked = revocation.NewRedis(redisClient, cfg.Redis.Prefix+"revoked:")
	} else {
		logger.Warn("redis not configured, using in-process limiter and revocation registry")
		limiter = rate.NewMemory()
		revoked = revocation.NewMemory()
	}

	key, err := security.LoadPrivateKey(cfg.RSA.PrivateKeyPath)
	if err != nil {
		logger.Error("rsa key load failed", "path", cfg.RSA.PrivateKeyPath, "error", err)
		os.Exit(1)
	}
	codec, err := security.NewCodec(key, security.Argon2Params(cfg.Argon2))
	if err != nil {
		logger.Error("credential codec init failed", "error", err)
		os.Exit(1)
	}

	notifications, closeNotifier, err := buildNotifier(cfg, registry, logger, telem)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = closeNotifier()
	}()

	objects, err := buildObjectStore(cfg)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	sessions, err := tokens.NewService(store, revoked, tokens.Config{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		Issuer:        cfg.Tokens.Issuer,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
	}, logger, telem)
	if err != nil {
		logger.Error("token service init failed", "error", err)
		os.Exit(1)
	}

	resets := reset.NewManager(store, sessions, notifications, codec, reset.Config{
		TokenTTL:     cfg.Reset.TokenTTL,
		FrontendURL:  cfg.Reset.FrontendURL,
		MinimumDelay: cfg.Reset.MinimumDelay,
	}, logger, telem)

	deletions := lifecycle.NewManager(store, sessions, codec, notifications, notifications, objects, lifecycle.Config{
		SoftGrace:      cfg.Deletion.SoftGrace,
		HardGrace:      cfg.Deletion.HardGrace,
		SweepBatch:     cfg.Deletion.SweepBatch,
		TokenRetention: cfg.Deletion.TokenRetention,
	}, logger, telem)

	state := maintenance.NewState(cfg.Maintenance.Enabled, cfg.Maintenance.Message)
	h := handlers.New(store, codec, sessions, resets, deletions, state, logger, telem)
	router := handlers.NewRouter(h, handlers.RouterConfig{
		ServiceName:    cfg.App.ServiceName,
		ProjectName:    cfg.App.ProjectName,
		Version:        cfg.App.Version,
		APIPrefix:      cfg.App.APIPrefix,
		MetricsPath:    cfg.App.MetricsPath,
		TrustedProxies: cfg.App.HTTP.TrustedProxies,
		RetryAfter:     cfg.Maintenance.RetryAfter,
		Policy:         policyFrom(cfg.RateLimit),
		Limiter:        limiter,
		Authenticator:  sessions,
		Health:         ready,
		Registry:       registry,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go deletions.Run(sweepCtx, cfg.Deletion.SweepInterval)

	addr := cfg.App.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("identity service starting", "addr", addr, "maintenance", state.Enabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, ready, cfg.App.HTTP.ShutdownTimeout, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return storage.Connect(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
}

// connectRedis returns a nil client when Redis is not configured, or is
// unreachable in a local environment.
func connectRedis(cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		if cfg.App.IsLocal() {
			return nil, nil
		}
		return nil, fmt.Errorf("SONO_REDIS_ADDR must be set outside dev and test")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.App.IsLocal() {
			logger.Warn("redis unavailable, falling back to memory", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildNotifier(cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger, telem *telemetry.Metrics) (notifier, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("kafka not configured, notifications are logged only")
		return notify.NewLogNotifier(logger, cfg.App.IsLocal()), func() error { return nil }, nil
	}

	producerCfg := kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}
	producerMetrics := kafka.NewProducerMetrics(registry)
	primary, err := kafka.NewSyncProducer(producerCfg, logger, producerMetrics)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	dlq, err := kafka.NewSyncProducer(producerCfg, logger, producerMetrics)
	if err != nil {
		_ = primary.Close()
		return nil, nil, fmt.Errorf("kafka dlq producer: %w", err)
	}
	pub := kafka.NewDLQPublisher(primary, dlq, cfg.Kafka.DLQTopic, logger)
	return notify.NewKafkaNotifier(pub, cfg.Kafka.NotificationsTopic, cfg.Kafka.LifecycleTopic, logger, telem), pub.Close, nil
}

func buildObjectStore(cfg *config.Config) (objectstore.Remover, error) {
	if cfg.ObjectStore.Bucket == "" {
		return objectstore.Noop{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return objectstore.NewS3Remover(ctx, objectstore.Config{
		Bucket:    cfg.ObjectStore.Bucket,
		Region:    cfg.ObjectStore.Region,
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
	})
}

func policyFrom(rl config.RateLimitConfig) rate.Policy {
	return rate.DefaultPolicy().
		With(rate.ClassRegister, rl.Register.Limit, rl.Register.Window).
		With(rate.ClassLogin, rl.Login.Limit, rl.Login.Window).
		With(rate.ClassRefresh, rl.Refresh.Limit, rl.Refresh.Window).
		With(rate.ClassForgotPassword, rl.ForgotPassword.Limit, rl.ForgotPassword.Window).
		With(rate.ClassResetPassword, rl.ResetPassword.Limit, rl.ResetPassword.Window).
		With(rate.ClassAccountDeletion, rl.AccountDeletion.Limit, rl.AccountDeletion.Window)
}

func waitForShutdown(server *http.Server, ready *health.Manager, timeout time.Duration, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ready.SetReady(false)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
