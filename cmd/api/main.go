package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consultation-service/internal/auth"
	"consultation-service/internal/config"
	"consultation-service/internal/events"
	"consultation-service/internal/httpapi"
	"consultation-service/internal/live"
	"consultation-service/internal/meeting"
	"consultation-service/internal/session"
	"consultation-service/internal/usage"
	"consultation-service/pkg/logger"
	"consultation-service/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := session.EnsureSchema(rootCtx, db); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	// Redis is optional: without it locks and the live feed stay in-process.
	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	provider, err := meeting.New(rootCtx, cfg.Provider)
	if err != nil {
		log.Error("meeting provider init failed", "err", err)
		os.Exit(1)
	}
	log.Info("meeting provider ready", "provider", provider.Name())

	hub := live.NewHub(log)
	notifiers := events.Fanout{}

	var bus events.Notifier = events.Logged{Log: log}
	if cfg.Rabbit.URL != "" {
		publisher, err := events.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			log.Error("rabbitmq publisher init failed", "err", err)
			os.Exit(1)
		}
		defer publisher.Close()
		bus = publisher
	} else {
		log.Warn("RABBITMQ_URL not set; lifecycle events are only logged")
	}
	notifiers = append(notifiers, bus)

	var locker session.Locker = session.NewLocalLocker()
	if rdb != nil {
		relay := live.NewRedisRelay(rdb, live.DefaultChannel, hub, log)
		notifiers = append(notifiers, relay)
		locker = session.NewRedisLocker(rdb, 5*time.Second)
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				log.Error("live relay stopped", "err", err)
			}
		}()
	} else {
		notifiers = append(notifiers, hub)
	}

	engine := session.NewEngine(
		session.NewPostgresStore(db),
		provider,
		session.Config{
			MinDurationMinutes:     cfg.Session.MinDurationMinutes,
			MaxDurationMinutes:     cfg.Session.MaxDurationMinutes,
			DefaultDurationMinutes: cfg.Session.DefaultDurationMinutes,
			NoShowGrace:            cfg.Session.NoShowGrace,
			PublicURL:              cfg.App.PublicURL,
		},
		session.WithNotifier(notifiers),
		session.WithLocker(locker),
		session.WithUsage(usage.NewService(usage.NewPostgresRepo(db), cfg.Usage.MonthlyMinutesCap)),
		session.WithLogger(log),
	)

	go engine.RunNoShowSweeper(rootCtx, cfg.Session.NoShowSweep)

	if cfg.Rabbit.ConsumeRequests {
		consumer := events.NewConsumer(
			session.AppointmentCommands{Engine: engine},
			bus,
			events.ConsumerConfig{
				Exchange:  cfg.Rabbit.Exchange,
				Queue:     cfg.Rabbit.Queue,
				Retryable: session.IsRetryable,
			},
			log,
		)
		go runConsumer(rootCtx, cfg.Rabbit.URL, consumer, log)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	if len(cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.HTTP.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	h := httpapi.Handlers{
		Engine:      engine,
		Hub:         hub,
		Auth:        authManager,
		FeedOrigins: cfg.HTTP.CORSOrigins,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), healthCheck(db, rdb), !cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	if err := engine.Close(shutdownCtx); err != nil {
		log.Warn("pending events not delivered before shutdown", "err", err)
	}
}

// runConsumer keeps the command consumer connected until ctx is done.
func runConsumer(ctx context.Context, url string, c *events.Consumer, log *slog.Logger) {
	const backoff = 5 * time.Second
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			err = c.Run(ctx, conn)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		log.Error("command consumer disconnected; retrying", "err", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
