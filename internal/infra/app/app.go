package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/infra/captcha"
	"github.com/arklim/storefront-signup/internal/infra/config"
	"github.com/arklim/storefront-signup/internal/infra/database"
	kafkainfra "github.com/arklim/storefront-signup/internal/infra/kafka"
	"github.com/arklim/storefront-signup/internal/infra/logger"
	"github.com/arklim/storefront-signup/internal/infra/mail"
	mongoinfra "github.com/arklim/storefront-signup/internal/infra/mongo"
	redisinfra "github.com/arklim/storefront-signup/internal/infra/redis"
	"github.com/arklim/storefront-signup/internal/infra/security"
	"github.com/arklim/storefront-signup/internal/infra/telemetry"
	"github.com/arklim/storefront-signup/internal/repository/memory"
	mongorepo "github.com/arklim/storefront-signup/internal/repository/mongo"
	postgresrepo "github.com/arklim/storefront-signup/internal/repository/postgres"
	redisrepo "github.com/arklim/storefront-signup/internal/repository/redis"
	"github.com/arklim/storefront-signup/internal/transport/http/middleware"
	"github.com/arklim/storefront-signup/internal/transport/http/routes"
	"github.com/arklim/storefront-signup/internal/usecase"
)

type Application struct {
	cfg          *config.AppConfig
	engine       *gin.Engine
	logger       *zap.Logger
	registration *usecase.RegistrationService
	closers      []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// healthFunc adapts a check function to routes.HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.onClose("tracer", tracerProvider.Shutdown)

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	policy := domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.RateLimit.DegradationPolicy))

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		HTTPMetrics: httpMetrics,
	}

	var redisClient *redisinfra.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		switch {
		case err == nil:
			a.onClose("redis", func(context.Context) error { return redisClient.Close() })
			deps.Cache = redisClient
		case policy.IsStrict():
			return nil, fmt.Errorf("init redis: %w", err)
		default:
			log.Warn("redis unavailable at startup, counting admissions locally", zap.Error(err))
			metrics.ObserveFallback("startup", string(domain.DegradationReasonCounterUnavailable), "local")
		}
	}

	var shared port.CounterStore
	if redisClient != nil {
		shared = redisrepo.NewCounterStore(redisClient.Client(), cfg.Redis.CounterPrefix)
	}
	limiter := usecase.NewRateLimiter(shared, memory.NewCounterStore(), policy,
		usecase.WithRateLimiterMetrics(metrics),
		usecase.WithRateLimiterLogger(log.Named("rate_limiter")),
	)

	pending, err := a.pendingStore(ctx, redisClient, &deps)
	if err != nil {
		return nil, err
	}

	users, err := a.userStore(ctx, &deps)
	if err != nil {
		return nil, err
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	continuation, err := security.NewContinuationSigner(cfg.Registration.ContinuationSecret, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init continuation signer: %w", err)
	}

	svc, err := usecase.NewRegistrationService(usecase.RegistrationDeps{
		Limiter:      limiter,
		Pending:      pending,
		Users:        users,
		Hasher:       hasher,
		OTP:          security.NewOTPGenerator(),
		Passwords:    security.NewPasswordPolicy(security.PasswordPolicyConfig{MinLength: cfg.Registration.PasswordMinLength, MinStrengthScore: cfg.Registration.PasswordMinScore}),
		Notifier:     a.notifier(),
		Continuation: continuation,
		Captcha: captcha.NewTurnstileVerifier(captcha.Config{
			Secret:    cfg.Captcha.Secret,
			VerifyURL: cfg.Captcha.VerifyURL,
			Timeout:   cfg.Captcha.Timeout,
		}),
		Events:  a.eventPublisher(metrics),
		Metrics: metrics,
		Logger:  log.Named("registration"),
	}, usecase.RegistrationConfig{
		Rules: usecase.RegistrationRules{
			Begin:  rule("register", cfg.RateLimit.Register),
			Resend: rule("resend-otp", cfg.RateLimit.ResendOTP),
			Verify: rule("verify-otp", cfg.RateLimit.VerifyOTP),
		},
		OTPTTL:            cfg.Registration.OTPTTL,
		ResendCooldown:    cfg.Registration.ResendCooldown,
		MaxAttempts:       cfg.Registration.MaxAttempts,
		CallTimeout:       cfg.Registration.CallTimeout,
		BackgroundTimeout: cfg.Registration.BackgroundTimeout,
		OperatorEmail:     cfg.Registration.OperatorEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("init registration service: %w", err)
	}
	a.registration = svc

	deps.Registration = svc
	a.engine = routes.Register(deps)

	log.Info("registration service initialized",
		zap.String("degradation_policy", string(policy.Mode())),
		zap.Bool("shared_counter", shared != nil),
		zap.Bool("captcha", cfg.Captcha.Secret != ""),
	)

	ok = true
	return a, nil
}

func rule(namespace string, s config.RateLimitRuleSettings) domain.RateLimitRule {
	return domain.RateLimitRule{Namespace: namespace, Limit: s.Limit, Window: s.Window}
}

// pendingStore prefers MongoDB, then Redis, then process memory.
func (a *Application) pendingStore(ctx context.Context, redisClient *redisinfra.Client, deps *routes.Dependencies) (port.PendingRegistrationRepository, error) {
	cfg := a.cfg

	if cfg.Mongo.Enabled {
		client, err := mongoinfra.NewClient(ctx, cfg.Mongo, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init mongo: %w", err)
		}
		a.onClose("mongo", client.Close)
		deps.Documents = client

		repo := mongorepo.NewPendingRegistrationRepository(client.Database(), cfg.Mongo.Collection, cfg.Registration.PendingRetention)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		a.logger.Info("pending registrations stored in mongo", zap.String("collection", cfg.Mongo.Collection))
		return repo, nil
	}

	if redisClient != nil {
		a.logger.Info("pending registrations stored in redis")
		return redisrepo.NewPendingRegistrationRepository(redisClient.Client(), cfg.Redis.PendingPrefix, cfg.Registration.PendingRetention), nil
	}

	a.logger.Warn("pending registrations kept in process memory; they are lost on restart and not shared between instances")
	return memory.NewPendingRegistrationRepository(), nil
}

func (a *Application) userStore(ctx context.Context, deps *routes.Dependencies) (port.UserRepository, error) {
	cfg := a.cfg

	if !cfg.Postgres.Enabled {
		a.logger.Warn("postgres disabled, accounts kept in process memory")
		return memory.NewUserRepository(), nil
	}

	if cfg.Postgres.AutoMigrate {
		if err := postgresrepo.RunMigrations(ctx, cfg.Postgres.DSN()); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations applied")
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	deps.Database = healthFunc(pingPool(pool))

	return postgresrepo.NewRepositories(pool).Users, nil
}

func pingPool(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres health check failed: %w", err)
		}
		return nil
	}
}

func (a *Application) notifier() port.Notifier {
	smtpCfg := a.cfg.SMTP
	if smtpCfg.Host == "" {
		expose := a.cfg.App.Env != "production"
		a.logger.Warn("smtp not configured, mail is logged instead of sent", zap.Bool("codes_logged", expose))
		return mail.NewLoggingNotifier(a.logger.Named("mail"), expose)
	}
	return mail.NewSMTPNotifier(mail.SMTPConfig{
		Host:     smtpCfg.Host,
		Port:     smtpCfg.Port,
		Username: smtpCfg.Username,
		Password: smtpCfg.Password,
		From:     smtpCfg.From,
	})
}

func (a *Application) eventPublisher(metrics *telemetry.Metrics) port.EventPublisher {
	if !a.cfg.Kafka.Enabled() {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	producer.OnError(metrics.ObserveEventDeliveryError)
	a.onClose("kafka", func(context.Context) error { return producer.Close() })

	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close releases resources in reverse acquisition order.
func (a *Application) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close resource", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting signup API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	}

	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown server: %w", err)
	}

	// Background mail and events must drain before their stores close.
	drained := make(chan struct{})
	go func() {
		a.registration.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout reached with background tasks still running")
	}

	a.close(shutdownCtx)
	a.logger.Info("signup API stopped")
	return runErr
}
