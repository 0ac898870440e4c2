package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard/api"
	"taskboard/gateway"
	"taskboard/reconcile"
	"taskboard/storage"
	"taskboard/subscription"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("load .env")
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	defer closeBackend()

	rc := redis.NewClient(redisOptions(cfg.RedisConn))
	defer rc.Close()
	cache := gateway.NewCache(backend, rc, cfg.TasksCacheTTL)

	pool := reconcile.NewPool(reconcile.PoolConfig{
		Workers:        cfg.DispatchWorkers,
		Buffer:         cfg.DispatchBuffer,
		HandoffTimeout: cfg.DispatchHandoff,
	}, logger)
	sessions := api.NewSessions(cache, api.SessionConfig{
		IdleTTL: cfg.SessionIdleTTL,
		MutatorOptions: []reconcile.Option{
			reconcile.WithDispatcher(pool),
			reconcile.WithCallTimeout(cfg.GatewayTimeout),
		},
	}, logger)

	auth, closeAuth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	defer closeAuth()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.ResyncInterval),
		gocron.NewTask(func() {
			if failed := sessions.RefreshAll(ctx); failed > 0 {
				logger.WithField("failed", failed).Warn("board resync incomplete")
			}
		}),
		gocron.WithName("board-resync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Fatalf("schedule resync: %v", err)
	}
	scheduler.Start()

	go subscription.SubscribeUpdates(ctx, logger, rc, cfg.UpdatesChan, cache, sessions)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("taskboard"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, sessions, auth, api.NewRedisDeduper(rc, cfg.DeduperTTL), logger, api.HandlerConfig{WaitTimeout: cfg.DragWait})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
	sessions.Close()
	pool.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
}

// newBackend builds the gateway selected by GATEWAY_MODE.
func newBackend(ctx context.Context, cfg config) (reconcile.TaskGateway, func(), error) {
	switch cfg.GatewayMode {
	case modeAzure:
		store, err := storage.New(cfg.StorageConnStr, cfg.TasksTable, cfg.StatusQueue)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case modePostgres:
		pg, pool, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return gateway.NewClient(cfg.TaskServiceURL, cfg.TaskToken, cfg.GatewayTimeout), func() {}, nil
	}
}

func newAuth(cfg config) (api.Authenticator, func(), error) {
	if cfg.AuthTestMode {
		log.Warn("AUTH0_TEST_MODE enabled; accepting HS256 test tokens")
		return api.NewTestAuth([]byte(cfg.TestSecret), cfg.AuthAudience, issuer(cfg.AuthDomain)), func() {}, nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.AuthAudience, issuer(cfg.AuthDomain)), jwks.EndBackground, nil
}

func issuer(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain + "/"
}
